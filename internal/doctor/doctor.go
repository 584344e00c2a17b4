// Package doctor runs runtime readiness diagnostics for config, capture, playback, responder, and indicator.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/healthmate/internal/capture"
	"github.com/rbright/healthmate/internal/config"
	"github.com/rbright/healthmate/internal/locale"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	}}

	checks = append(checks, checkLanguage(cfg.Config.Language))
	checks = append(checks, checkCapture(ctx, cfg.Config.Capture)...)

	if strings.EqualFold(strings.TrimSpace(cfg.Config.Playback.Backend), "pulse") {
		checks = append(checks, checkCommand(cfg.Config.Playback.TTS.Argv, "playback.tts_cmd"))
	}

	checks = append(checks, checkResponder(ctx, cfg.Config.Responder))

	if strings.EqualFold(strings.TrimSpace(cfg.Config.Indicator.Backend), "desktop") {
		checks = append(checks, checkEnv("DBUS_SESSION_BUS_ADDRESS", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "session bus available", "DBUS_SESSION_BUS_ADDRESS is empty"))
		checks = append(checks, checkBinary("busctl", "desktop notifications use busctl"))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkLanguage(raw string) Check {
	lang, err := locale.Parse(raw)
	if err != nil {
		return Check{Name: "language", Pass: false, Message: err.Error()}
	}
	return Check{Name: "language", Pass: true, Message: fmt.Sprintf("starting in %s", lang)}
}

// checkCapture verifies recognizer credentials and, for Deepgram, the microphone it will read.
func checkCapture(ctx context.Context, cfg config.CaptureConfig) []Check {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "deepgram":
		key := Check{Name: "capture.deepgram", Pass: true, Message: "api key configured"}
		if strings.TrimSpace(cfg.Deepgram.APIKey) == "" {
			key = Check{
				Name:    "capture.deepgram",
				Pass:    false,
				Message: fmt.Sprintf("api key is empty; set %s", config.EnvDeepgramAPIKey),
			}
		}
		return []Check{key, checkAudioSelection(ctx, cfg.Audio)}
	case "none":
		return []Check{{Name: "capture", Pass: true, Message: "voice capture disabled; typed questions only"}}
	default:
		return []Check{{Name: "capture", Pass: true, Message: "console transcripts from stdin"}}
	}
}

// checkAudioSelection runs live input selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.AudioConfig) Check {
	selection, err := capture.SelectInput(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.input", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Input.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.input", Pass: true, Message: message}
}

// checkResponder probes the configured remote answer service.
func checkResponder(ctx context.Context, cfg config.ResponderConfig) Check {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "http":
		return checkHTTPReachable(ctx, cfg.HTTP.URL)
	case "gemini":
		if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
			return Check{
				Name:    "responder.gemini",
				Pass:    false,
				Message: fmt.Sprintf("api key is empty; set %s", config.EnvGeminiAPIKey),
			}
		}
		return Check{Name: "responder.gemini", Pass: true, Message: fmt.Sprintf("model %s", cfg.Gemini.Model)}
	case "grpc":
		return checkTCPReachable(cfg.GRPC.Endpoint)
	default:
		return Check{Name: "responder", Pass: true, Message: "no remote configured; answering from the local catalog"}
	}
}

// checkHTTPReachable treats any HTTP status as reachable; only transport failures fail.
func checkHTTPReachable(ctx context.Context, url string) Check {
	url = strings.TrimSpace(url)
	if url == "" {
		return Check{Name: "responder.http", Pass: false, Message: "responder.http.url is empty"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return Check{Name: "responder.http", Pass: false, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "responder.http", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	return Check{Name: "responder.http", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
}

func checkTCPReachable(endpoint string) Check {
	address := strings.TrimSpace(endpoint)
	for _, scheme := range []string{"dns:///", "passthrough:///"} {
		address = strings.TrimPrefix(address, scheme)
	}
	if address == "" {
		return Check{Name: "responder.grpc", Pass: false, Message: "responder.grpc.endpoint is empty"}
	}

	conn, err := net.DialTimeout("tcp", address, probeTimeout)
	if err != nil {
		return Check{Name: "responder.grpc", Pass: false, Message: fmt.Sprintf("dial failed: %v", err)}
	}
	_ = conn.Close()
	return Check{Name: "responder.grpc", Pass: true, Message: fmt.Sprintf("listening at %s", address)}
}

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rbright/healthmate/internal/locale"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if _, err := locale.Parse(cfg.Language); err != nil {
		return nil, fmt.Errorf("language: %w", err)
	}
	if cfg.Voice.SilenceTimeoutMS <= 0 {
		return nil, fmt.Errorf("voice.silence_timeout_ms must be > 0")
	}

	switch backend := normalizedBackend(cfg.Capture.Backend); backend {
	case "deepgram":
		if strings.TrimSpace(cfg.Capture.Deepgram.APIKey) == "" {
			warnings = append(warnings, Warning{Message: fmt.Sprintf(
				"capture.deepgram.api_key is empty and %s is unset; voice capture will be unavailable", EnvDeepgramAPIKey)})
		}
		if strings.TrimSpace(cfg.Capture.Deepgram.BaseURL) == "" {
			return nil, fmt.Errorf("capture.deepgram.api_base_url must not be empty")
		}
		if cfg.Capture.Deepgram.UtteranceEndMS < 0 {
			return nil, fmt.Errorf("capture.deepgram.utterance_end_ms must be >= 0")
		}
	case "console", "none":
	default:
		return nil, fmt.Errorf("capture.backend must be one of: deepgram, console, none (got %q)", backend)
	}

	switch backend := normalizedBackend(cfg.Playback.Backend); backend {
	case "pulse":
		if len(cfg.Playback.TTS.Argv) == 0 {
			return nil, fmt.Errorf("playback.tts_cmd must not be empty when playback.backend=pulse")
		}
	case "console", "none":
	default:
		return nil, fmt.Errorf("playback.backend must be one of: pulse, console, none (got %q)", backend)
	}

	if cfg.Responder.TimeoutMS <= 0 {
		return nil, fmt.Errorf("responder.timeout_ms must be > 0")
	}
	switch backend := normalizedBackend(cfg.Responder.Backend); backend {
	case "http":
		parsed, err := url.Parse(strings.TrimSpace(cfg.Responder.HTTP.URL))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("responder.http.url must be an absolute URL when responder.backend=http")
		}
	case "gemini":
		if strings.TrimSpace(cfg.Responder.Gemini.APIKey) == "" {
			warnings = append(warnings, Warning{Message: fmt.Sprintf(
				"responder.gemini.api_key is empty and %s is unset; answers will come from the local catalog", EnvGeminiAPIKey)})
		}
	case "grpc":
		if strings.TrimSpace(cfg.Responder.GRPC.Endpoint) == "" {
			return nil, fmt.Errorf("responder.grpc.endpoint must not be empty when responder.backend=grpc")
		}
		if cfg.Responder.GRPC.DialTimeoutMS <= 0 {
			return nil, fmt.Errorf("responder.grpc.dial_timeout_ms must be > 0")
		}
	case "none":
	default:
		return nil, fmt.Errorf("responder.backend must be one of: http, gemini, grpc, none (got %q)", backend)
	}

	switch backend := normalizedBackend(cfg.Indicator.Backend); backend {
	case "desktop":
		if strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
			return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
		}
	case "console", "none":
	default:
		return nil, fmt.Errorf("indicator.backend must be one of: console, desktop, none (got %q)", backend)
	}
	if cfg.Indicator.NoticeTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.notice_timeout_ms must be >= 0")
	}
	if cfg.Indicator.AnswerTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.answer_timeout_ms must be >= 0")
	}

	if cfg.Profile.Glucose.Empty() {
		warnings = append(warnings, Warning{Message: "profile.report.value is empty; blood sugar questions will report missing data"})
	}

	return warnings, nil
}

func normalizedBackend(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/healthmate/internal/capture"
	"github.com/rbright/healthmate/internal/config"
	"github.com/rbright/healthmate/internal/ipc"
	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/playback"
	"github.com/rbright/healthmate/internal/responder"
	"github.com/rbright/healthmate/internal/session"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, nil, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, nil, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "healthmate")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, nil, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveAssistant(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active healthmate assistant")
}

func TestRunnerForwardsCommandsToActiveAssistant(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		return ipc.Response{OK: true, State: "listening", Language: "hi-IN"}
	})
	defer shutdown()

	for _, args := range [][]string{{"mic"}, {"language", "hi"}, {"replay"}, {"text-open"}} {
		var stdout bytes.Buffer
		var stderr bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)
		require.Equal(t, "listening hi-IN\n", stdout.String(), args)
	}

	got := []ipc.Request{<-requests, <-requests, <-requests, <-requests}
	require.Equal(t, "mic", got[0].Command)
	require.Equal(t, ipc.Request{Command: "language", Args: []string{"hi"}}, got[1])
	require.Equal(t, "replay", got[2].Command)
	require.Equal(t, "text-open", got[3].Command)
}

func TestRunnerAskPrintsAnswer(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "ask", req.Command)
		require.Equal(t, []string{"what", "is", "my", "sugar"}, req.Args)
		return ipc.Response{
			OK:         true,
			State:      "idle",
			Answer:     "Your glucose is 110 mg/dL.",
			Disclaimer: "Not medical advice.",
			Source:     "fallback",
			Actions:    []ipc.ActionView{{ID: "a1", Label: "Set a reminder", Type: "reminder"}},
		}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "ask", "what", "is", "my", "sugar"})
	require.Equal(t, 0, exitCode)
	require.Empty(t, stderr.String())
	require.Equal(t, "Your glucose is 110 mg/dL.\n(Not medical advice.)\n[a1] Set a reminder\nsource: fallback\n", stdout.String())
}

func TestRunnerForwardReportsRejectedCommand(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "idle", Error: "nothing to replay"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "replay"})
	require.Equal(t, 1, exitCode)
	require.Equal(t, "error: nothing to replay\n", stderr.String())
}

func TestRunnerStatusPrintsSnapshotDetails(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: "", PermissionDenied: true, TextFallbackOpen: true, Notice: "Microphone access was denied."}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle (microphone denied) (text input open)\nnotice: Microphone access was denied.\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 0, exitCode, stdout.String())
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "responder:")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerQueryAnswersFromCatalog(t *testing.T) {
	paths := setupRunnerEnv(t, `{"language": "es"}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "query", "mi", "azúcar"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "source: fallback")
	require.Contains(t, stdout.String(), "(Esta es información general")
}

func TestRunnerAssistantServesSocketUntilQuit(t *testing.T) {
	paths := setupRunnerEnv(t, `{"voice": {"silence_timeout_ms": 5000}}`)

	stdinReader, stdinWriter := io.Pipe()
	t.Cleanup(func() { _ = stdinWriter.Close() })

	stdout := &lockedBuffer{}
	var stderr bytes.Buffer
	runner := Runner{Stdin: stdinReader, Stdout: stdout, Stderr: &stderr}

	exited := make(chan int, 1)
	go func() {
		exited <- runner.Execute(context.Background(), []string{"--config", paths.configPath, "assistant"})
	}()

	require.Eventually(t, func() bool {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: "status"}, 200*time.Millisecond)
		return err == nil && resp.State == "idle"
	}, 3*time.Second, 20*time.Millisecond)

	_, err := io.WriteString(stdinWriter, "/mic\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: "status"}, 200*time.Millisecond)
		return err == nil && resp.State == "listening"
	}, 3*time.Second, 20*time.Millisecond)

	_, err = io.WriteString(stdinWriter, "what is my blood sugar\n")
	require.NoError(t, err)

	var answered ipc.Response
	require.Eventually(t, func() bool {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: "status"}, 200*time.Millisecond)
		answered = resp
		return err == nil && resp.State == "idle" && resp.Answer != ""
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "fallback", answered.Source)
	require.Contains(t, stdout.String(), "[Listening…]")
	require.Contains(t, stdout.String(), "» "+answered.Answer)

	resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: "quit"}, time.Second)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "quit", resp.Message)

	select {
	case code := <-exited:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(3 * time.Second):
		t.Fatal("assistant did not exit after quit")
	}

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerAssistantRefusesSecondOwner(t *testing.T) {
	paths := setupRunnerEnv(t, "\n")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "idle"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "assistant"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already running")
}

type reasonSink struct {
	mu      sync.Mutex
	reasons []session.ErrorReason
	finals  []string
}

func (s *reasonSink) Interim(string) {}

func (s *reasonSink) Final(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, text)
}

func (s *reasonSink) Error(reason session.ErrorReason, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *reasonSink) Ended() {}

func TestHandleLineBlankWhileListeningReportsNoSpeech(t *testing.T) {
	console := capture.NewConsole()
	c := &controller{console: console}
	sink := &reasonSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, console.Start(ctx, locale.English, sink))

	var out bytes.Buffer
	c.handleLine(ctx, "   ", &out)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []session.ErrorReason{session.ReasonNoSpeech}, sink.reasons)
	require.Empty(t, sink.finals)
	require.Empty(t, out.String())
}

func TestHandleLineBlankWhileIdleIsIgnored(t *testing.T) {
	c := &controller{console: capture.NewConsole()}

	var out bytes.Buffer
	c.handleLine(context.Background(), "", &out)
	require.Empty(t, out.String())
}

func TestReplAlias(t *testing.T) {
	require.Equal(t, "language", replAlias("lang"))
	require.Equal(t, "text-open", replAlias("text"))
	require.Equal(t, "quit", replAlias("exit"))
	require.Equal(t, "mic", replAlias("MIC"))
}

func TestBuildCaptureSelectsBackend(t *testing.T) {
	cfg := config.Default()

	got, console := buildCapture(cfg, discardLogger())
	require.IsType(t, &capture.Console{}, got)
	require.NotNil(t, console)

	cfg.Capture.Backend = "deepgram"
	got, console = buildCapture(cfg, discardLogger())
	require.IsType(t, &capture.Deepgram{}, got)
	require.Nil(t, console)

	cfg.Capture.Backend = "none"
	got, _ = buildCapture(cfg, discardLogger())
	require.False(t, got.Supported())
}

func TestBuildPlaybackSelectsBackend(t *testing.T) {
	cfg := config.Default()
	require.IsType(t, &playback.Console{}, buildPlayback(cfg, io.Discard, discardLogger()))

	cfg.Playback.Backend = "pulse"
	cfg.Playback.TTS = config.CommandConfig{Raw: "espeak-ng --stdout", Argv: []string{"espeak-ng", "--stdout"}}
	require.IsType(t, &playback.Command{}, buildPlayback(cfg, io.Discard, discardLogger()))

	cfg.Playback.TTS = config.CommandConfig{}
	require.Nil(t, buildPlayback(cfg, io.Discard, discardLogger()))

	cfg.Playback.Backend = "none"
	require.Nil(t, buildPlayback(cfg, io.Discard, discardLogger()))
}

func TestBuildResponderFallsBackWhenRemoteUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Responder.Backend = "gemini"
	cfg.Responder.Gemini.APIKey = ""

	chain, closeFn := buildResponder(context.Background(), cfg, discardLogger(), nil)
	defer closeFn()

	answer, err := chain.Respond(context.Background(), responder.Request{
		ID:        "q1",
		Utterance: "blood pressure",
		Language:  "en-US",
		Context:   cfg.Profile,
	})
	require.NoError(t, err)
	require.Equal(t, responder.SourceFallback, answer.Source)
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "healthmate.sock")
}

func setupRunnerEnv(t *testing.T, configBody string) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv(config.EnvDeepgramAPIKey, "")
	t.Setenv(config.EnvGeminiAPIKey, "")

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(configBody), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

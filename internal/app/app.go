// Package app wires CLI commands to the assistant session, IPC forwarding, and diagnostics.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/healthmate/internal/capture"
	"github.com/rbright/healthmate/internal/cli"
	"github.com/rbright/healthmate/internal/config"
	"github.com/rbright/healthmate/internal/doctor"
	"github.com/rbright/healthmate/internal/ipc"
	"github.com/rbright/healthmate/internal/logging"
	"github.com/rbright/healthmate/internal/responder"
	"github.com/rbright/healthmate/internal/session"
	"github.com/rbright/healthmate/internal/version"
)

const (
	binaryName = "healthmate"

	forwardTimeout = 2 * time.Second
	// askTimeout outlasts the session's own answer wait so its error text reaches the client.
	askTimeout = session.AnswerWait + 5*time.Second
)

// Runner executes one CLI invocation.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute runs args with process stdio and returns the exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := Runner{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.Debug)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch {
	case parsed.Command == cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case parsed.Command == cli.CommandDevices:
		return r.commandDevices(ctx)
	case parsed.Command == cli.CommandQuery:
		return r.commandQuery(ctx, cfgLoaded.Config, parsed.Text(), logger)
	case parsed.Command == cli.CommandAssistant:
		return r.commandAssistant(ctx, cfgLoaded.Config, logger)
	case parsed.Command == cli.CommandStatus:
		return r.commandStatus(ctx)
	case parsed.Command.Forwarded():
		return r.forwardOrFail(ctx, ipc.Request{Command: string(parsed.Command), Args: parsed.Args})
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	inputs, err := capture.ListInputs(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(inputs) == 0 {
		fmt.Fprintln(r.Stdout, "no audio inputs found")
		return 1
	}

	for _, input := range inputs {
		defaultMark := " "
		if input.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			input.ID,
			input.Description,
			input.State,
			yesNo(input.Available),
			yesNo(input.Muted),
		)
	}

	return 0
}

// commandQuery answers one question through the configured responder chain
// without a running assistant.
func (r Runner) commandQuery(ctx context.Context, cfg config.Config, text string, logger *slog.Logger) int {
	chain, closeResponder := buildResponder(ctx, cfg, logger, nil)
	defer closeResponder()

	answer, err := chain.Respond(ctx, responder.Request{
		ID:        uuid.NewString(),
		Utterance: strings.TrimSpace(text),
		Language:  startLanguage(cfg, logger),
		Context:   cfg.Profile,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	printAnswer(r.Stdout, answer.Text, answer.Disclaimer, string(answer.Source), actionViews(answer))
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, ipc.Request{Command: "status"}, forwardTimeout)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	printStatus(r.Stdout, resp)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	timeout := forwardTimeout
	if req.Command == string(cli.CommandAsk) {
		timeout = askTimeout
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, req, timeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active %s assistant\n", binaryName)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	switch req.Command {
	case string(cli.CommandAsk):
		printAnswer(r.Stdout, resp.Answer, resp.Disclaimer, resp.Source, resp.Actions)
	case string(cli.CommandAction):
		if resp.Notice != "" {
			fmt.Fprintln(r.Stdout, resp.Notice)
		}
	default:
		printStatus(r.Stdout, resp)
	}
	return 0
}

func printStatus(w io.Writer, resp ipc.Response) {
	state := resp.State
	if state == "" {
		state = "idle"
	}
	line := state
	if resp.Language != "" {
		line += " " + resp.Language
	}
	if resp.PermissionDenied {
		line += " (microphone denied)"
	}
	if resp.TextFallbackOpen {
		line += " (text input open)"
	}
	fmt.Fprintln(w, line)
	if resp.Interim != "" {
		fmt.Fprintf(w, "heard: %s\n", resp.Interim)
	}
	if resp.Notice != "" {
		fmt.Fprintf(w, "notice: %s\n", resp.Notice)
	}
}

func printAnswer(w io.Writer, text, disclaimer, source string, actions []ipc.ActionView) {
	fmt.Fprintln(w, text)
	if disclaimer != "" {
		fmt.Fprintf(w, "(%s)\n", disclaimer)
	}
	for _, action := range actions {
		fmt.Fprintf(w, "[%s] %s\n", action.ID, action.Label)
	}
	if source != "" {
		fmt.Fprintf(w, "source: %s\n", source)
	}
}

func actionViews(answer responder.Answer) []ipc.ActionView {
	views := make([]ipc.ActionView, 0, len(answer.Actions))
	for _, action := range answer.Actions {
		views = append(views, ipc.ActionView{ID: action.ID, Label: action.Label, Type: string(action.Kind)})
	}
	return views
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

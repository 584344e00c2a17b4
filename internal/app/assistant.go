package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/healthmate/internal/capture"
	"github.com/rbright/healthmate/internal/cli"
	"github.com/rbright/healthmate/internal/config"
	"github.com/rbright/healthmate/internal/ipc"
	"github.com/rbright/healthmate/internal/session"
)

// commandAssistant owns the control socket and runs one session until quit,
// interrupt, or a fatal server error.
func (r Runner) commandAssistant(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, func(context.Context) error {
		logger.Warn("removed stale control socket", "socket", socketPath)
		return nil
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	parts := buildComponents(ctx, cfg, r.Stdout, logger)
	defer parts.close()

	sess := session.New(session.Config{
		Language:       startLanguage(cfg, logger),
		SilenceTimeout: time.Duration(cfg.Voice.SilenceTimeoutMS) * time.Millisecond,
		Health:         cfg.Profile,
		Capture:        parts.capture,
		Playback:       parts.playback,
		Responder:      parts.responder,
		Indicator:      parts.indicator,
		Metrics:        parts.metrics,
		Logger:         logger,
	})
	defer func() { _ = sess.Close() }()

	logger.Info("assistant started", "session_id", sess.ID(), "socket", socketPath)

	runCtx, quit := context.WithCancel(ctx)
	defer quit()

	ctl := &controller{session: sess, console: parts.console, quit: quit}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return ipc.Serve(groupCtx, listener, ctl)
	})
	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		group.Go(func() error {
			if err := parts.metrics.Serve(groupCtx, addr); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	if r.Stdin != nil {
		group.Go(func() error {
			return ctl.repl(groupCtx, r.Stdin, r.Stdout)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("assistant stopped", "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("assistant stopped", "session_id", sess.ID())
	return 0
}

// controller routes control commands from the socket and the terminal to the session.
type controller struct {
	session *session.Session
	console *capture.Console
	quit    context.CancelFunc
}

// Handle serves one IPC request. quit is handled here since it ends the process.
func (c *controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Command == string(cli.CommandQuit) {
		resp := c.session.Handle(ctx, ipc.Request{Command: "status"})
		resp.Message = "quit"
		c.quit()
		return resp
	}
	return c.session.Handle(ctx, req)
}

// repl reads terminal lines until ctx ends or stdin closes. Lines starting
// with "/" are commands; other lines are spoken text while the console
// recognizer listens, and typed questions otherwise.
func (c *controller) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c.handleLine(ctx, line, out)
		}
	}
}

func (c *controller) handleLine(ctx context.Context, line string, out io.Writer) {
	line = strings.TrimSpace(line)
	if line == "" {
		if c.console != nil {
			// A blank line while listening means nothing was said.
			_ = c.console.Feed(line)
		}
		return
	}

	if strings.HasPrefix(line, "/") {
		fields := strings.Fields(strings.TrimPrefix(line, "/"))
		if len(fields) == 0 {
			return
		}
		req := ipc.Request{Command: replAlias(fields[0]), Args: fields[1:]}
		resp := c.Handle(ctx, req)
		switch {
		case !resp.OK:
			fmt.Fprintf(out, "! %s\n", resp.Error)
		case req.Command == "status":
			printStatus(out, resp)
		}
		return
	}

	if c.console != nil {
		err := c.console.Feed(line)
		if err == nil {
			return
		}
		if !errors.Is(err, capture.ErrNotListening) {
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
	}
	if err := c.session.SubmitText(line); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
}

// replAlias maps terminal shorthands onto control commands.
func replAlias(name string) string {
	switch strings.ToLower(name) {
	case "lang":
		return "language"
	case "text":
		return "text-open"
	case "q", "exit":
		return "quit"
	default:
		return strings.ToLower(name)
	}
}

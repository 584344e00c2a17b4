// Package indicator surfaces session state as console lines or desktop notifications, with optional audio cues.
package indicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/healthmate/internal/config"
	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/notice"
	"github.com/rbright/healthmate/internal/responder"
)

const (
	backendConsole = "console"
	backendDesktop = "desktop"
)

// Notifier is the indicator used by runtime sessions. It routes output to a
// console writer or to freedesktop notifications based on config backend.
type Notifier struct {
	cfg     config.IndicatorConfig
	backend string
	logger  *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	notify  func(ctx context.Context, appName string, replaceID uint32, msg desktopMessage) (uint32, error)
	dismiss func(ctx context.Context, id uint32) error
	cue     func(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
}

// New creates an indicator from config. out receives console-backend lines.
func New(cfg config.IndicatorConfig, out io.Writer, logger *slog.Logger) *Notifier {
	if out == nil {
		out = io.Discard
	}
	return &Notifier{
		cfg:     cfg,
		backend: strings.ToLower(strings.TrimSpace(cfg.Backend)),
		logger:  logger,
		out:     out,
		notify:  desktopNotify,
		dismiss: desktopDismiss,
		cue:     emitCue,
	}
}

// ShowListening signals capture start and emits the listen cue.
func (n *Notifier) ShowListening(ctx context.Context, lang locale.Language) {
	label := indicatorMessages(lang).listening
	n.playCue(cueListen)
	n.show(ctx, "["+label+"]", desktopMessage{
		Summary:  label,
		Category: "listening",
		Urgency:  urgencyLow,
	})
}

// ShowProcessing signals that a query is in flight.
func (n *Notifier) ShowProcessing(ctx context.Context, lang locale.Language) {
	label := indicatorMessages(lang).processing
	n.show(ctx, "["+label+"]", desktopMessage{
		Summary:  label,
		Category: "processing",
		Urgency:  urgencyLow,
	})
}

// ShowAnswer displays the disclaimer and suggested actions. The answer text
// itself is left to playback on the console backend.
func (n *Notifier) ShowAnswer(ctx context.Context, lang locale.Language, answer responder.Answer) {
	n.playCue(cueAnswer)

	var console strings.Builder
	if answer.Disclaimer != "" {
		fmt.Fprintf(&console, "  (%s)\n", answer.Disclaimer)
	}
	if len(answer.Actions) > 0 {
		fmt.Fprintf(&console, "  %s:\n", indicatorMessages(lang).actions)
		for _, action := range answer.Actions {
			fmt.Fprintf(&console, "    [%s] %s\n", action.ID, action.Label)
		}
	}
	n.show(ctx, strings.TrimRight(console.String(), "\n"), desktopMessage{
		Summary:   answer.Text,
		Body:      answerBody(answer),
		Category:  "answer",
		Urgency:   urgencyNormal,
		TimeoutMS: n.cfg.AnswerTimeoutMS,
	})
}

// ShowNotice displays a localized notice. Acknowledgements skip the warning cue.
func (n *Notifier) ShowNotice(ctx context.Context, note notice.Notice) {
	if note.Empty() {
		return
	}
	if note.Kind != notice.ActionAck {
		n.playCue(cueNotice)
	}
	n.show(ctx, "! "+note.Text, desktopMessage{
		Summary:   note.Text,
		Category:  "notice." + string(note.Kind),
		Urgency:   noticeUrgency(note.Kind),
		TimeoutMS: n.cfg.NoticeTimeoutMS,
	})
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	if n.backend != backendDesktop {
		return
	}
	n.run(ctx, n.dismissDesktop)
}

func (n *Notifier) show(ctx context.Context, consoleLine string, msg desktopMessage) {
	switch n.backend {
	case backendConsole:
		if consoleLine == "" {
			return
		}
		n.outMu.Lock()
		defer n.outMu.Unlock()
		if _, err := fmt.Fprintln(n.out, consoleLine); err != nil {
			n.log("indicator console write failed", err)
		}
	case backendDesktop:
		n.run(ctx, func(ctx context.Context) error {
			return n.notifyDesktop(ctx, msg)
		})
	}
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, msg desktopMessage) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "healthmate"
	}

	id, err := n.notify(ctx, appName, replaceID, msg)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return n.dismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := n.cue(context.Background(), kind, n.cfg); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}

// noticeUrgency marks notices that block voice input as critical.
func noticeUrgency(kind notice.Kind) int {
	switch kind {
	case notice.PermissionDenied, notice.Unsupported:
		return urgencyCritical
	default:
		return urgencyNormal
	}
}

func answerBody(answer responder.Answer) string {
	lines := make([]string, 0, len(answer.Actions)+1)
	for _, action := range answer.Actions {
		lines = append(lines, "• "+action.Label)
	}
	if answer.Disclaimer != "" {
		lines = append(lines, answer.Disclaimer)
	}
	return strings.Join(lines, "\n")
}

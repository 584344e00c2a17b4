// Package session runs the voice-query state machine: mic lifecycle, silence
// auto-stop, query dispatch with fallback, and spoken playback of answers.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/healthmate/internal/fsm"
	"github.com/rbright/healthmate/internal/healthctx"
	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/notice"
	"github.com/rbright/healthmate/internal/responder"
	"github.com/rbright/healthmate/internal/transcript"
)

// DefaultSilenceTimeout is the quiet window after which capture is asked to stop.
const DefaultSilenceTimeout = 3 * time.Second

// Config wires a session to its collaborators. Nil ports fall back to safe defaults.
type Config struct {
	Language       locale.Language
	SilenceTimeout time.Duration
	Health         healthctx.Context

	Capture   Capture
	Playback  Playback
	Responder responder.Responder
	Indicator Indicator
	Metrics   Metrics
	Clock     Clock
	Logger    *slog.Logger
}

// Snapshot is a copy of the observable session fields.
type Snapshot struct {
	ID                  string
	State               fsm.State
	Language            locale.Language
	Interim             string
	PermissionDenied    bool
	TextFallbackOpen    bool
	CaptureActive       bool
	StopRequested       bool
	SilenceTimerPending bool
	QueryPending        bool
	LastResponse        responder.Answer
	Notice              notice.Notice
	Acknowledged        []string
}

// Session owns one mounted assistant view. Fields after snapWake are touched
// only by the loop goroutine.
type Session struct {
	id        string
	logger    *slog.Logger
	capture   Capture
	playback  Playback
	responder responder.Responder
	fallback  *responder.Fallback
	indicator Indicator
	metrics   Metrics
	clock     Clock
	health    healthctx.Context
	quiet     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	box    *mailbox
	done   chan struct{}

	closeOnce sync.Once

	snapMu   sync.RWMutex
	snap     Snapshot
	snapWake chan struct{}

	state             fsm.State
	language          locale.Language
	interim           string
	final             string
	captureGen        uint64
	nextCaptureGen    uint64
	stopRequested     bool
	timer             Timer
	timerGen          uint64
	permissionPending bool
	permissionAttempt uint64
	permissionDenied  bool
	textFallbackOpen  bool
	querySeq          uint64
	queryPending      bool
	lastResponse      responder.Answer
	notice            notice.Notice
	acknowledged      map[string]struct{}
}

// New constructs a session and starts its event loop.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Capture == nil {
		cfg.Capture = unsupportedCapture{}
	}
	if cfg.Playback == nil {
		cfg.Playback = noopPlayback{}
	}
	if cfg.Responder == nil {
		cfg.Responder = responder.WithFallback(nil, nil, responder.WithLogger(cfg.Logger))
	}
	if cfg.Indicator == nil {
		cfg.Indicator = noopIndicator{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if !cfg.Language.Valid() {
		cfg.Language = locale.Default
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString(),
		capture:      cfg.Capture,
		playback:     cfg.Playback,
		responder:    cfg.Responder,
		fallback:     responder.NewFallback(responder.DefaultCatalog()),
		indicator:    cfg.Indicator,
		metrics:      cfg.Metrics,
		clock:        cfg.Clock,
		health:       cfg.Health,
		quiet:        cfg.SilenceTimeout,
		ctx:          ctx,
		cancel:       cancel,
		box:          newMailbox(),
		done:         make(chan struct{}),
		snapWake:     make(chan struct{}),
		state:        fsm.StateIdle,
		language:     cfg.Language,
		acknowledged: map[string]struct{}{},
	}
	s.logger = cfg.Logger.With("session_id", s.id)
	s.publish()

	go s.loop()
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Dispatch queues an event for the loop. It returns ErrClosed after Close.
func (s *Session) Dispatch(event Event) error {
	return s.box.post(event)
}

// Flush waits until every event queued before the call has been handled.
func (s *Session) Flush(ctx context.Context) error {
	barrier := flush{done: make(chan struct{})}
	if err := s.Dispatch(barrier); err != nil {
		return err
	}
	select {
	case <-barrier.done:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the fields published after the most recent event.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// State returns the current mic state.
func (s *Session) State() fsm.State {
	return s.Snapshot().State
}

// Await blocks until cond holds for a published snapshot.
func (s *Session) Await(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		s.snapMu.RLock()
		snap, wake := s.snap, s.snapWake
		s.snapMu.RUnlock()

		if cond(snap) {
			return snap, nil
		}
		select {
		case <-wake:
		case <-s.done:
			return s.Snapshot(), ErrClosed
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Close tears the session down: capture stopped, silence timer cancelled,
// playback cancelled. A responder call still in flight is ignored when it completes.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.box.close()
		s.cancel()
	})
	<-s.done
	return nil
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) ActivateMic() error           { return s.Dispatch(ActivateMic{}) }
func (s *Session) DeactivateMic() error         { return s.Dispatch(DeactivateMic{}) }
func (s *Session) OpenTextFallback() error      { return s.Dispatch(OpenTextFallback{}) }
func (s *Session) CloseTextFallback() error     { return s.Dispatch(CloseTextFallback{}) }
func (s *Session) SubmitText(text string) error { return s.Dispatch(SubmitText{Text: text}) }
func (s *Session) SelectAction(id string) error { return s.Dispatch(SelectAction{ID: id}) }
func (s *Session) Replay() error                { return s.Dispatch(Replay{}) }

// SelectLanguage validates lang and queues the change.
func (s *Session) SelectLanguage(lang locale.Language) error {
	if !lang.Valid() {
		return errors.New("unsupported language " + string(lang))
	}
	return s.Dispatch(SelectLanguage{Language: lang})
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.teardown()

	for range s.box.notify {
		events, closed := s.box.take()
		if closed {
			return
		}
		for _, event := range events {
			s.handle(event)
		}
		s.publish()
	}
}

func (s *Session) handle(event Event) {
	switch e := event.(type) {
	case ActivateMic:
		s.onActivateMic()
	case DeactivateMic:
		s.onDeactivateMic()
	case PermissionResult:
		s.onPermissionResult(e)
	case Interim:
		s.onInterim(e)
	case Final:
		s.onFinal(e)
	case CaptureError:
		s.onCaptureError(e)
	case CaptureEnded:
		s.onCaptureEnded(e)
	case SilenceElapsed:
		s.onSilenceElapsed(e)
	case ResponderSettled:
		s.onResponderSettled(e)
	case SelectLanguage:
		s.onSelectLanguage(e)
	case OpenTextFallback:
		s.textFallbackOpen = true
	case CloseTextFallback:
		s.textFallbackOpen = false
	case SubmitText:
		s.onSubmitText(e)
	case SelectAction:
		s.onSelectAction(e)
	case Replay:
		s.onReplay()
	case flush:
		s.publish()
		close(e.done)
	default:
		s.logger.Warn("unknown session event", "event", event.eventName())
	}
}

func (s *Session) onActivateMic() {
	if s.state != fsm.StateIdle {
		s.logger.Debug("mic activation ignored", "state", string(s.state))
		return
	}
	if !s.capture.Supported() {
		s.surface(notice.Unsupported)
		s.textFallbackOpen = true
		return
	}
	if s.permissionPending {
		return
	}

	s.permissionPending = true
	s.permissionAttempt++
	attempt := s.permissionAttempt
	go func() {
		err := s.capture.RequestPermission(s.ctx)
		_ = s.Dispatch(PermissionResult{Err: err, attempt: attempt})
	}()
}

func (s *Session) onPermissionResult(e PermissionResult) {
	if !s.permissionPending || e.attempt != s.permissionAttempt {
		return
	}
	s.permissionPending = false

	if e.Err != nil {
		if errors.Is(e.Err, ErrUnsupported) {
			s.surface(notice.Unsupported)
			s.textFallbackOpen = true
			return
		}
		s.logger.Warn("microphone permission denied", "error", e.Err.Error())
		s.permissionDenied = true
		s.interim = ""
		s.surface(notice.PermissionDenied)
		return
	}

	s.permissionDenied = false
	if s.state != fsm.StateIdle {
		return
	}
	s.startCapture()
}

func (s *Session) startCapture() {
	if s.captureGen != 0 && !s.stopRequested {
		_ = s.capture.Stop()
	}
	s.nextCaptureGen++
	gen := s.nextCaptureGen

	if err := s.capture.Start(s.ctx, s.language, &sink{session: s, gen: gen}); err != nil {
		s.logger.Warn("start capture failed", "error", err.Error(), "language", string(s.language))
		switch {
		case errors.Is(err, ErrPermissionDenied):
			s.permissionDenied = true
			s.surface(notice.PermissionDenied)
		case errors.Is(err, ErrUnsupported):
			s.surface(notice.Unsupported)
			s.textFallbackOpen = true
		default:
			s.surface(notice.RecognitionError)
		}
		return
	}

	s.captureGen = gen
	s.stopRequested = false
	s.interim = ""
	s.notice = notice.Notice{}
	s.transition(fsm.EventGranted)
	s.armSilence()
	s.indicator.ShowListening(s.ctx, s.language)
}

func (s *Session) onDeactivateMic() {
	if s.state != fsm.StateListening {
		return
	}
	s.requestStop("user")
}

func (s *Session) onInterim(e Interim) {
	if e.gen != s.captureGen || s.state != fsm.StateListening {
		return
	}
	s.interim = transcript.Normalize(e.Text)
	if !s.stopRequested {
		s.armSilence()
	}
}

func (s *Session) onFinal(e Final) {
	if e.gen != s.captureGen || s.state != fsm.StateListening {
		return
	}
	text := transcript.Normalize(e.Text)
	if text == "" {
		return
	}

	s.final = text
	s.interim = ""
	s.cancelSilence()
	s.requestStop("final")
	s.transition(fsm.EventFinal)
	s.dispatchQuery(s.final)
	s.final = ""
}

func (s *Session) onCaptureError(e CaptureError) {
	if e.gen != s.captureGen {
		return
	}
	s.metrics.ObserveCaptureError(string(e.Reason))

	attrs := []any{"reason", string(e.Reason)}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err.Error())
	}
	s.logger.Warn("capture error", attrs...)

	if s.state != fsm.StateListening {
		return
	}

	s.interim = ""
	s.cancelSilence()
	if !s.stopRequested {
		s.stopRequested = true
		_ = s.capture.Stop()
	}

	switch e.Reason {
	case ReasonPermissionDenied:
		s.permissionDenied = true
		s.surface(notice.PermissionDenied)
	case ReasonNoSpeech:
		s.surface(notice.NoSpeech)
	default:
		s.surface(notice.RecognitionError)
	}
	s.transition(fsm.EventFailed)
	s.indicator.Hide(s.ctx)
}

func (s *Session) onCaptureEnded(e CaptureEnded) {
	if e.gen != s.captureGen {
		return
	}
	s.captureGen = 0
	s.stopRequested = false

	if s.state != fsm.StateListening {
		return
	}
	s.interim = ""
	s.cancelSilence()
	s.transition(fsm.EventEnded)
	s.indicator.Hide(s.ctx)
}

func (s *Session) onSilenceElapsed(e SilenceElapsed) {
	if s.timer == nil || e.Generation != s.timerGen {
		return
	}
	s.timer = nil
	if s.state != fsm.StateListening {
		return
	}
	s.metrics.ObserveSilenceStop()
	s.requestStop("silence")
}

func (s *Session) onSubmitText(e SubmitText) {
	text := transcript.Normalize(e.Text)
	if text == "" {
		return
	}

	switch s.state {
	case fsm.StateIdle:
	case fsm.StateListening:
		s.interim = ""
		s.cancelSilence()
		s.requestStop("submit")
	default:
		s.logger.Debug("typed query ignored while processing")
		return
	}

	s.transition(fsm.EventSubmit)
	s.dispatchQuery(text)
}

func (s *Session) onResponderSettled(e ResponderSettled) {
	if !s.queryPending || e.Seq != s.querySeq || s.state != fsm.StateProcessing {
		return
	}
	s.queryPending = false
	s.lastResponse = e.Answer
	clear(s.acknowledged)
	s.transition(fsm.EventSettled)

	s.indicator.ShowAnswer(s.ctx, s.language, s.lastResponse)
	s.speak()
}

func (s *Session) onSelectLanguage(e SelectLanguage) {
	if !e.Language.Valid() {
		s.logger.Warn("ignoring unsupported language", "language", string(e.Language))
		return
	}
	if e.Language == s.language {
		return
	}
	s.logger.Info("language selected", "from", string(s.language), "to", string(e.Language))
	s.language = e.Language
}

func (s *Session) onSelectAction(e SelectAction) {
	action, ok := s.lastResponse.Action(e.ID)
	if !ok {
		s.logger.Info("ignoring unknown action", "action_id", e.ID)
		return
	}
	s.acknowledged[action.ID] = struct{}{}
	s.notice = notice.New(notice.ActionAck, s.language, action.Label)
	s.indicator.ShowNotice(s.ctx, s.notice)
	s.logger.Info("action acknowledged", "action_id", action.ID, "type", string(action.Kind))
}

func (s *Session) onReplay() {
	if s.lastResponse.Empty() {
		return
	}
	s.speak()
}

// requestStop is the single stop signal shared by the user, the silence timer,
// and finalization. The state change happens when the capture reports its end.
func (s *Session) requestStop(source string) {
	s.cancelSilence()
	if s.stopRequested || s.captureGen == 0 {
		return
	}
	s.stopRequested = true
	s.logger.Debug("capture stop requested", "source", source)
	if err := s.capture.Stop(); err != nil {
		s.logger.Warn("stop capture failed", "error", err.Error())
	}
}

func (s *Session) dispatchQuery(utterance string) {
	s.querySeq++
	s.queryPending = true
	seq := s.querySeq

	req := responder.Request{
		ID:        uuid.NewString(),
		Utterance: utterance,
		Language:  s.language,
		Context:   s.health,
	}
	s.logger.Info("query dispatched", "request_id", req.ID, "language", string(req.Language))
	s.indicator.ShowProcessing(s.ctx, req.Language)

	go func() {
		started := s.clock.Now()
		answer, err := s.responder.Respond(s.ctx, req)
		if err != nil || answer.Empty() {
			answer = s.fallback.Answer(req)
		}
		if errors.Is(s.Dispatch(ResponderSettled{Seq: seq, Answer: answer}), ErrClosed) {
			s.logger.Debug("dropping answer for closed session", "request_id", req.ID)
			return
		}
		s.logger.Info("query settled",
			"request_id", req.ID,
			"source", string(answer.Source),
			"latency_ms", s.clock.Now().Sub(started).Milliseconds(),
		)
	}()
}

func (s *Session) speak() {
	if err := s.playback.Speak(s.ctx, s.lastResponse.Text, s.language); err != nil {
		s.logger.Warn("playback failed", "error", err.Error())
	}
}

// armSilence cancels any pending timer before scheduling a new one.
func (s *Session) armSilence() {
	s.cancelSilence()
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.quiet, func() {
		_ = s.Dispatch(SilenceElapsed{Generation: gen})
	})
}

func (s *Session) cancelSilence() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}

func (s *Session) surface(kind notice.Kind) {
	s.notice = notice.New(kind, s.language)
	s.indicator.ShowNotice(s.ctx, s.notice)
}

// transition applies one FSM event to the session state.
func (s *Session) transition(event fsm.Event) {
	next, err := fsm.Transition(s.state, event)
	if err != nil {
		s.logger.Error("session transition rejected", "error", err.Error())
		return
	}
	s.logger.Info("session transition", "from", string(s.state), "to", string(next), "event", string(event))
	s.metrics.ObserveTransition(string(s.state), string(next))
	s.state = next
}

func (s *Session) teardown() {
	s.cancelSilence()
	if s.captureGen != 0 && !s.stopRequested {
		_ = s.capture.Stop()
	}
	s.captureGen = 0
	s.playback.Cancel()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	s.indicator.Hide(cleanupCtx)

	s.publish()
	s.logger.Info("session closed")
}

func (s *Session) publish() {
	acked := make([]string, 0, len(s.acknowledged))
	for id := range s.acknowledged {
		acked = append(acked, id)
	}
	slices.Sort(acked)

	answer := s.lastResponse
	answer.Actions = slices.Clone(answer.Actions)

	snap := Snapshot{
		ID:                  s.id,
		State:               s.state,
		Language:            s.language,
		Interim:             s.interim,
		PermissionDenied:    s.permissionDenied,
		TextFallbackOpen:    s.textFallbackOpen,
		CaptureActive:       s.captureGen != 0 && !s.stopRequested,
		StopRequested:       s.stopRequested,
		SilenceTimerPending: s.timer != nil,
		QueryPending:        s.queryPending,
		LastResponse:        answer,
		Notice:              s.notice,
		Acknowledged:        acked,
	}

	s.snapMu.Lock()
	s.snap = snap
	close(s.snapWake)
	s.snapWake = make(chan struct{})
	s.snapMu.Unlock()
}

// sink forwards capture callbacks for one handle generation into the mailbox.
type sink struct {
	session *Session
	gen     uint64
}

func (k *sink) Interim(text string) {
	_ = k.session.Dispatch(Interim{Text: text, gen: k.gen})
}

func (k *sink) Final(text string) {
	_ = k.session.Dispatch(Final{Text: text, gen: k.gen})
}

func (k *sink) Error(reason ErrorReason, err error) {
	_ = k.session.Dispatch(CaptureError{Reason: reason, Err: err, gen: k.gen})
}

func (k *sink) Ended() {
	_ = k.session.Dispatch(CaptureEnded{gen: k.gen})
}

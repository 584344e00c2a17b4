package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/healthmate/internal/fsm"
	"github.com/rbright/healthmate/internal/healthctx"
	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/notice"
	"github.com/rbright/healthmate/internal/responder"
)

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Pending counts timers that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeCapture struct {
	unsupported bool
	permErr     error
	startErr    error
	// autoEnd fires Ended synchronously from Stop, like recognizers that end inline.
	autoEnd bool

	mu        sync.Mutex
	langs     []locale.Language
	sinks     []CaptureSink
	active    int
	maxActive int
	stops     atomic.Int32
	permCalls atomic.Int32
}

func (f *fakeCapture) Supported() bool { return !f.unsupported }

func (f *fakeCapture) RequestPermission(context.Context) error {
	f.permCalls.Add(1)
	return f.permErr
}

func (f *fakeCapture) Start(_ context.Context, lang locale.Language, sink CaptureSink) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.langs = append(f.langs, lang)
	f.sinks = append(f.sinks, sink)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	return nil
}

func (f *fakeCapture) Stop() error {
	f.stops.Add(1)
	if f.autoEnd {
		f.end()
	}
	return nil
}

// end reports the end of the most recent handle.
func (f *fakeCapture) end() {
	f.mu.Lock()
	if f.active > 0 {
		f.active--
	}
	var sink CaptureSink
	if len(f.sinks) > 0 {
		sink = f.sinks[len(f.sinks)-1]
	}
	f.mu.Unlock()
	if sink != nil {
		sink.Ended()
	}
}

func (f *fakeCapture) sink() CaptureSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[len(f.sinks)-1]
}

func (f *fakeCapture) startedLangs() []locale.Language {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]locale.Language(nil), f.langs...)
}

type spoken struct {
	text string
	lang locale.Language
}

type fakePlayback struct {
	mu      sync.Mutex
	spoken  []spoken
	cancels atomic.Int32
}

func (f *fakePlayback) Speak(_ context.Context, text string, lang locale.Language) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, spoken{text: text, lang: lang})
	return nil
}

func (f *fakePlayback) Cancel() { f.cancels.Add(1) }

func (f *fakePlayback) utterances() []spoken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spoken(nil), f.spoken...)
}

type fakeIndicator struct {
	notices    atomic.Int32
	answers    atomic.Int32
	hides      atomic.Int32
	listenings atomic.Int32

	mu    sync.Mutex
	langs []string
}

func (f *fakeIndicator) record(surface string, lang locale.Language) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.langs = append(f.langs, surface+":"+string(lang))
}

func (f *fakeIndicator) shown() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.langs...)
}

func (f *fakeIndicator) ShowListening(_ context.Context, lang locale.Language) {
	f.listenings.Add(1)
	f.record("listening", lang)
}

func (f *fakeIndicator) ShowProcessing(_ context.Context, lang locale.Language) {
	f.record("processing", lang)
}

func (f *fakeIndicator) ShowAnswer(_ context.Context, lang locale.Language, _ responder.Answer) {
	f.answers.Add(1)
	f.record("answer", lang)
}

func (f *fakeIndicator) ShowNotice(context.Context, notice.Notice) { f.notices.Add(1) }
func (f *fakeIndicator) Hide(context.Context)                      { f.hides.Add(1) }

type fakeMetrics struct {
	mu           sync.Mutex
	transitions  []string
	silenceStops atomic.Int32
}

func (f *fakeMetrics) ObserveTransition(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from+"->"+to)
}

func (f *fakeMetrics) ObserveSilenceStop() { f.silenceStops.Add(1) }

func (*fakeMetrics) ObserveCaptureError(string) {}

func (f *fakeMetrics) count(transition string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.transitions {
		if t == transition {
			n++
		}
	}
	return n
}

type harness struct {
	session   *Session
	clock     *fakeClock
	capture   *fakeCapture
	playback  *fakePlayback
	indicator *fakeIndicator
	metrics   *fakeMetrics
	queries   atomic.Int32
}

func newHarness(t *testing.T, capture *fakeCapture, remote responder.Responder, mutate ...func(*Config)) *harness {
	t.Helper()
	if capture == nil {
		capture = &fakeCapture{}
	}
	h := &harness{
		clock:     newFakeClock(),
		capture:   capture,
		playback:  &fakePlayback{},
		indicator: &fakeIndicator{},
		metrics:   &fakeMetrics{},
	}

	var counted responder.Responder = responder.Func(func(ctx context.Context, req responder.Request) (responder.Answer, error) {
		h.queries.Add(1)
		if remote == nil {
			return responder.Answer{}, responder.ErrUnavailable
		}
		return remote.Respond(ctx, req)
	})

	cfg := Config{
		Language:  locale.English,
		Health:    healthctx.Demo(),
		Capture:   capture,
		Playback:  h.playback,
		Responder: responder.WithFallback(counted, nil),
		Indicator: h.indicator,
		Metrics:   h.metrics,
		Clock:     h.clock,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	h.session = New(cfg)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) flush(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.session.Flush(ctx))
	return h.session.Snapshot()
}

func (h *harness) await(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.session.Await(ctx, cond)
	require.NoError(t, err)
	return snap
}

func (h *harness) listen(t *testing.T) Snapshot {
	t.Helper()
	require.NoError(t, h.session.ActivateMic())
	return h.await(t, func(s Snapshot) bool { return s.State == fsm.StateListening })
}

func (h *harness) awaitIdleAnswer(t *testing.T) Snapshot {
	t.Helper()
	return h.await(t, func(s Snapshot) bool { return s.State == fsm.StateIdle && !s.LastResponse.Empty() })
}

package capture

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/session"
	"github.com/rbright/healthmate/internal/transcript"
)

// ErrNotListening is returned by Console.Feed when no capture is active.
var ErrNotListening = errors.New("not listening")

// Console simulates a recognizer from typed lines. Each fed line is replayed
// as cumulative interim words followed by one final result.
type Console struct {
	mu     sync.Mutex
	active *consoleHandle
}

type consoleHandle struct {
	lang   locale.Language
	sink   session.CaptureSink
	heard  bool
	once   sync.Once
	stopCh chan struct{}
}

func (h *consoleHandle) stop() {
	h.once.Do(func() { close(h.stopCh) })
}

// NewConsole returns an idle console recognizer.
func NewConsole() *Console {
	return &Console{}
}

func (c *Console) Supported() bool { return true }

func (c *Console) RequestPermission(context.Context) error { return nil }

// Start replaces any active handle. Ended fires once Stop is called or ctx ends.
func (c *Console) Start(ctx context.Context, lang locale.Language, sink session.CaptureSink) error {
	handle := &consoleHandle{lang: lang, sink: sink, stopCh: make(chan struct{})}

	c.mu.Lock()
	prev := c.active
	c.active = handle
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go func() {
		select {
		case <-handle.stopCh:
		case <-ctx.Done():
		}
		c.mu.Lock()
		if c.active == handle {
			c.active = nil
		}
		c.mu.Unlock()
		sink.Ended()
	}()
	return nil
}

// Stop ends the active handle. A stop with nothing heard reports no-speech.
func (c *Console) Stop() error {
	c.mu.Lock()
	handle := c.active
	c.active = nil
	heard := handle != nil && handle.heard
	c.mu.Unlock()
	if handle == nil {
		return nil
	}
	if !heard {
		handle.sink.Error(session.ReasonNoSpeech, errNoSpeech)
	}
	handle.stop()
	return nil
}

// Listening reports whether a handle is waiting for input.
func (c *Console) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Feed delivers one spoken line to the active handle. A blank line reports no-speech.
func (c *Console) Feed(line string) error {
	c.mu.Lock()
	handle := c.active
	if handle == nil || handle.heard {
		c.mu.Unlock()
		return ErrNotListening
	}
	handle.heard = true
	c.mu.Unlock()

	text := transcript.Normalize(line)
	if text == "" {
		handle.sink.Error(session.ReasonNoSpeech, errNoSpeech)
		return nil
	}

	var b transcript.Builder
	var words []string
	for _, word := range strings.Fields(text) {
		words = append(words, word)
		b.SetInterim(strings.Join(words, " "))
		handle.sink.Interim(b.Text())
	}
	handle.sink.Final(b.Utterance())
	return nil
}

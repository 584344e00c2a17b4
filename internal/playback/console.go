// Package playback speaks assistant answers aloud or to a terminal.
package playback

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rbright/healthmate/internal/locale"
)

// Console writes each answer as a "» text" line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a console speaker writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Speak(_ context.Context, text string, _ locale.Language) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "» %s\n", text)
	return err
}

func (c *Console) Cancel() {}

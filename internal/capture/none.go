package capture

import (
	"context"

	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/session"
)

// None is a capture backend for hosts with no speech recognition.
type None struct{}

func (None) Supported() bool { return false }

func (None) RequestPermission(context.Context) error { return session.ErrUnsupported }

func (None) Start(context.Context, locale.Language, session.CaptureSink) error {
	return session.ErrUnsupported
}

func (None) Stop() error { return nil }

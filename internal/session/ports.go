package session

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/notice"
	"github.com/rbright/healthmate/internal/responder"
)

var (
	// ErrClosed is returned when an event is posted to a session that has been closed.
	ErrClosed = errors.New("session closed")
	// ErrPermissionDenied is returned by capture backends when microphone access is refused.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupported is returned by capture backends that cannot record on this host.
	ErrUnsupported = errors.New("speech capture unsupported")
)

// ErrorReason tags a capture error.
type ErrorReason string

const (
	ReasonPermissionDenied ErrorReason = "permission-denied"
	ReasonNoSpeech         ErrorReason = "no-speech"
	ReasonOther            ErrorReason = "other"
)

// CaptureSink receives recognizer callbacks for one capture handle.
type CaptureSink interface {
	Interim(text string)
	Final(text string)
	Error(reason ErrorReason, err error)
	Ended()
}

// Capture is a continuous speech-to-text source.
//
// After Stop is requested, exactly one Ended callback eventually fires for the
// active handle. Start replaces any prior handle.
type Capture interface {
	Supported() bool
	RequestPermission(ctx context.Context) error
	Start(ctx context.Context, lang locale.Language, sink CaptureSink) error
	Stop() error
}

// Playback is an asynchronous, cancellable speech synthesizer. Speak replaces
// any utterance still playing.
type Playback interface {
	Speak(ctx context.Context, text string, lang locale.Language) error
	Cancel()
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowListening(context.Context, locale.Language)
	ShowProcessing(context.Context, locale.Language)
	ShowAnswer(context.Context, locale.Language, responder.Answer)
	ShowNotice(context.Context, notice.Notice)
	Hide(context.Context)
}

// Metrics receives session counters.
type Metrics interface {
	ObserveTransition(from, to string)
	ObserveSilenceStop()
	ObserveCaptureError(reason string)
}

// Clock schedules the silence timer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// unsupportedCapture is used when no capture backend is wired.
type unsupportedCapture struct{}

func (unsupportedCapture) Supported() bool                       { return false }
func (unsupportedCapture) RequestPermission(context.Context) error { return ErrUnsupported }
func (unsupportedCapture) Start(context.Context, locale.Language, CaptureSink) error {
	return ErrUnsupported
}
func (unsupportedCapture) Stop() error { return nil }

type noopPlayback struct{}

func (noopPlayback) Speak(context.Context, string, locale.Language) error { return nil }
func (noopPlayback) Cancel()                                              {}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowListening(context.Context, locale.Language)                {}
func (noopIndicator) ShowProcessing(context.Context, locale.Language)               {}
func (noopIndicator) ShowAnswer(context.Context, locale.Language, responder.Answer) {}
func (noopIndicator) ShowNotice(context.Context, notice.Notice)                     {}
func (noopIndicator) Hide(context.Context)                                          {}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(string, string) {}
func (noopMetrics) ObserveSilenceStop()              {}
func (noopMetrics) ObserveCaptureError(string)       {}

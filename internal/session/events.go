package session

import (
	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/responder"
)

// Event is one input to the session loop.
type Event interface {
	eventName() string
}

// ActivateMic asks to start listening.
type ActivateMic struct{}

// DeactivateMic asks the active capture to stop.
type DeactivateMic struct{}

// PermissionResult completes a microphone permission request.
type PermissionResult struct {
	Err error

	attempt uint64
}

// Interim carries provisional recognizer text. Posted by the capture sink.
type Interim struct {
	Text string

	gen uint64
}

// Final carries one finalized utterance. Posted by the capture sink.
type Final struct {
	Text string

	gen uint64
}

// CaptureError reports a recognizer failure. Posted by the capture sink.
type CaptureError struct {
	Reason ErrorReason
	Err    error

	gen uint64
}

// CaptureEnded reports that a capture handle finished. Posted by the capture sink.
type CaptureEnded struct {
	gen uint64
}

// SilenceElapsed fires when no interim text arrived within the quiet window.
type SilenceElapsed struct {
	Generation uint64
}

// ResponderSettled delivers the answer for query Seq.
type ResponderSettled struct {
	Seq    uint64
	Answer responder.Answer
}

// SelectLanguage changes the language used by the next capture and playback.
type SelectLanguage struct {
	Language locale.Language
}

// OpenTextFallback shows the manual text entry path.
type OpenTextFallback struct{}

// CloseTextFallback hides the manual text entry path.
type CloseTextFallback struct{}

// SubmitText sends a typed query down the same path as a finalized utterance.
type SubmitText struct {
	Text string
}

// SelectAction acknowledges a suggested action from the last answer.
type SelectAction struct {
	ID string
}

// Replay speaks the last answer again without a new query.
type Replay struct{}

// flush is a barrier processed in order with other events.
type flush struct {
	done chan struct{}
}

func (ActivateMic) eventName() string       { return "activate_mic" }
func (DeactivateMic) eventName() string     { return "deactivate_mic" }
func (PermissionResult) eventName() string  { return "permission_result" }
func (Interim) eventName() string           { return "interim" }
func (Final) eventName() string             { return "final" }
func (CaptureError) eventName() string      { return "capture_error" }
func (CaptureEnded) eventName() string      { return "capture_ended" }
func (SilenceElapsed) eventName() string    { return "silence_elapsed" }
func (ResponderSettled) eventName() string  { return "responder_settled" }
func (SelectLanguage) eventName() string    { return "select_language" }
func (OpenTextFallback) eventName() string  { return "open_text_fallback" }
func (CloseTextFallback) eventName() string { return "close_text_fallback" }
func (SubmitText) eventName() string        { return "submit_text" }
func (SelectAction) eventName() string      { return "select_action" }
func (Replay) eventName() string            { return "replay" }
func (flush) eventName() string             { return "flush" }

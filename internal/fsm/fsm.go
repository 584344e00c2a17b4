// Package fsm defines the microphone phase machine driven by the voice session.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
)

const (
	// EventGranted starts capture after the platform grants microphone access.
	EventGranted Event = "granted"
	// EventFinal hands a recognized utterance to the responder.
	EventFinal Event = "final"
	// EventSubmit hands a typed query to the responder.
	EventSubmit Event = "submit"
	// EventEnded reports that capture finished without a final utterance.
	EventEnded Event = "ended"
	// EventFailed reports a recognition error while listening.
	EventFailed Event = "failed"
	// EventSettled reports that the responder call produced an answer.
	EventSettled Event = "settled"
)

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventGranted:
			return StateListening, nil
		case EventSubmit:
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventFinal, EventSubmit:
			return StateProcessing, nil
		case EventEnded, EventFailed:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventSettled:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

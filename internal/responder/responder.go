// Package responder answers health questions, remotely when possible and from a local catalog otherwise.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/healthmate/internal/healthctx"
	"github.com/rbright/healthmate/internal/locale"
)

// ActionKind is the category of a suggested follow-up.
type ActionKind string

const (
	ActionGrocery     ActionKind = "grocery"
	ActionReminder    ActionKind = "reminder"
	ActionNote        ActionKind = "note"
	ActionAppointment ActionKind = "appointment"
)

// Valid reports whether k is one of the known categories.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionGrocery, ActionReminder, ActionNote, ActionAppointment:
		return true
	default:
		return false
	}
}

// Action is a user-selectable follow-up attached to an answer.
type Action struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  ActionKind `json:"type"`
}

// Source records which responder produced an answer.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Answer is the structured reply spoken back to the user.
type Answer struct {
	Text       string   `json:"answer"`
	Disclaimer string   `json:"disclaimer"`
	Actions    []Action `json:"actions"`
	Source     Source   `json:"source,omitempty"`
}

// Empty reports whether the answer has no spoken text.
func (a Answer) Empty() bool {
	return strings.TrimSpace(a.Text) == ""
}

// Action looks up a suggested action by id.
func (a Answer) Action(id string) (Action, bool) {
	for _, action := range a.Actions {
		if action.ID == id {
			return action, true
		}
	}
	return Action{}, false
}

// Request is one natural-language query.
type Request struct {
	ID        string
	Utterance string
	Language  locale.Language
	Context   healthctx.Context
}

// Responder produces an answer for a query.
type Responder interface {
	Respond(context.Context, Request) (Answer, error)
}

// Func adapts a function to the Responder interface.
type Func func(context.Context, Request) (Answer, error)

func (f Func) Respond(ctx context.Context, req Request) (Answer, error) {
	return f(ctx, req)
}

// validate rejects remote payloads that cannot be shown to the user.
func validate(answer Answer) (Answer, error) {
	answer.Text = strings.TrimSpace(answer.Text)
	answer.Disclaimer = strings.TrimSpace(answer.Disclaimer)
	if answer.Text == "" {
		return Answer{}, fmt.Errorf("%w: answer text is empty", ErrMalformed)
	}

	actions := make([]Action, 0, len(answer.Actions))
	for i, action := range answer.Actions {
		action.Kind = ActionKind(strings.ToLower(strings.TrimSpace(string(action.Kind))))
		if !action.Kind.Valid() {
			return Answer{}, fmt.Errorf("%w: action %d has unknown type %q", ErrMalformed, i, action.Kind)
		}
		action.ID = strings.TrimSpace(action.ID)
		if action.ID == "" {
			action.ID = fmt.Sprintf("%s-%d", action.Kind, i+1)
		}
		action.Label = strings.TrimSpace(action.Label)
		if action.Label == "" {
			action.Label = string(action.Kind)
		}
		actions = append(actions, action)
	}
	answer.Actions = actions
	return answer, nil
}

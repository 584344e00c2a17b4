package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/healthmate/internal/fsm"
	"github.com/rbright/healthmate/internal/ipc"
	"github.com/rbright/healthmate/internal/locale"
)

// AnswerWait bounds how long an "ask" command waits for its answer.
const AnswerWait = 15 * time.Second

// Handle serves IPC commands for the running assistant.
func (s *Session) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	arg := strings.TrimSpace(strings.Join(req.Args, " "))

	var err error
	switch req.Command {
	case "status":
	case "mic":
		err = s.ActivateMic()
	case "stop":
		if state := s.State(); state != fsm.StateListening {
			return s.respond(false, "", fmt.Sprintf("cannot stop from state %s", state))
		}
		err = s.DeactivateMic()
	case "language":
		var lang locale.Language
		lang, err = locale.Parse(arg)
		if err == nil {
			err = s.SelectLanguage(lang)
		}
	case "text-open":
		err = s.OpenTextFallback()
	case "text-close":
		err = s.CloseTextFallback()
	case "ask":
		if arg == "" {
			return s.respond(false, "", "ask requires query text")
		}
		return s.ask(ctx, arg)
	case "action":
		if arg == "" {
			return s.respond(false, "", "action requires an id")
		}
		if _, ok := s.Snapshot().LastResponse.Action(arg); !ok {
			return s.respond(false, "", fmt.Sprintf("unknown action: %s", arg))
		}
		err = s.SelectAction(arg)
	case "replay":
		if s.Snapshot().LastResponse.Empty() {
			return s.respond(false, "", "nothing to replay")
		}
		err = s.Replay()
	default:
		return s.respond(false, "", fmt.Sprintf("unknown command: %s", req.Command))
	}
	if err != nil {
		return s.respond(false, "", err.Error())
	}

	if err := s.Flush(ctx); err != nil {
		return s.respond(false, "", err.Error())
	}
	return s.respond(true, req.Command, "")
}

// ask submits a typed query and waits for the session to settle.
func (s *Session) ask(ctx context.Context, text string) ipc.Response {
	if state := s.State(); state == fsm.StateProcessing {
		return s.respond(false, "", "already processing a query")
	}
	if err := s.SubmitText(text); err != nil {
		return s.respond(false, "", err.Error())
	}
	if err := s.Flush(ctx); err != nil {
		return s.respond(false, "", err.Error())
	}

	waitCtx, cancel := context.WithTimeout(ctx, AnswerWait)
	defer cancel()
	if _, err := s.Await(waitCtx, func(snap Snapshot) bool { return !snap.QueryPending }); err != nil {
		return s.respond(false, "", fmt.Sprintf("wait for answer: %v", err))
	}
	return s.respond(true, "answered", "")
}

func (s *Session) respond(ok bool, message, errText string) ipc.Response {
	snap := s.Snapshot()
	resp := ipc.Response{
		OK:               ok,
		State:            string(snap.State),
		Message:          message,
		Error:            errText,
		Language:         string(snap.Language),
		Interim:          snap.Interim,
		Notice:           snap.Notice.Text,
		PermissionDenied: snap.PermissionDenied,
		TextFallbackOpen: snap.TextFallbackOpen,
		Answer:           snap.LastResponse.Text,
		Disclaimer:       snap.LastResponse.Disclaimer,
		Source:           string(snap.LastResponse.Source),
	}
	for _, action := range snap.LastResponse.Actions {
		resp.Actions = append(resp.Actions, ipc.ActionView{
			ID:    action.ID,
			Label: action.Label,
			Type:  string(action.Kind),
		})
	}
	return resp
}

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxHTTPAnswerBytes = 1 << 20

// HTTP posts queries to a backend that proxies the hosted assistant.
type HTTP struct {
	url    string
	client *http.Client
}

type httpQuery struct {
	RequestID string         `json:"request_id,omitempty"`
	Query     string         `json:"query"`
	Language  string         `json:"language"`
	Context   map[string]any `json:"context"`
}

// NewHTTP returns a responder for url. A nil client uses http.DefaultClient.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: strings.TrimSpace(url), client: client}
}

// Respond sends one query and decodes the structured answer.
func (h *HTTP) Respond(ctx context.Context, req Request) (Answer, error) {
	if h.url == "" {
		return Answer{}, ErrUnavailable
	}

	body, err := json.Marshal(httpQuery{
		RequestID: req.ID,
		Query:     req.Utterance,
		Language:  req.Language.String(),
		Context:   req.Context.Map(),
	})
	if err != nil {
		return Answer{}, fmt.Errorf("encode query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Answer{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Language", req.Language.String())

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPAnswerBytes))
	if err != nil {
		return Answer{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Answer{}, &StatusError{Code: resp.StatusCode, Message: truncate(strings.TrimSpace(string(payload)), 200)}
	}

	var answer Answer
	if err := json.Unmarshal(payload, &answer); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return answer, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

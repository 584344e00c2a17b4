package responder

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives the outcome of each chained call.
type Observer interface {
	ObserveAnswer(source Source, latency time.Duration)
	ObserveFailure(reason string)
}

// Chain tries a remote responder and substitutes the local fallback on any failure.
type Chain struct {
	remote   Responder
	fallback *Fallback
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithTimeout bounds each remote call.
func WithTimeout(timeout time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = timeout }
}

// WithLogger sets the logger used for absorbed remote failures.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver reports answer sources and failure reasons.
func WithObserver(observer Observer) ChainOption {
	return func(c *Chain) { c.observer = observer }
}

// WithFallback wraps remote so every call yields an answer. A nil remote answers from fallback only.
func WithFallback(remote Responder, fallback *Fallback, opts ...ChainOption) *Chain {
	if fallback == nil {
		fallback = NewFallback(DefaultCatalog())
	}
	c := &Chain{
		remote:   remote,
		fallback: fallback,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Respond never returns an error; remote failures are logged and replaced by the fallback answer.
func (c *Chain) Respond(ctx context.Context, req Request) (Answer, error) {
	started := time.Now()

	answer, err := c.tryRemote(ctx, req)
	if err == nil {
		answer.Source = SourceRemote
		c.observeAnswer(SourceRemote, time.Since(started))
		return answer, nil
	}

	reason := Reason(err)
	if reason != "unavailable" {
		c.logger.Warn("remote responder failed; using fallback",
			"request_id", req.ID,
			"reason", reason,
			"error", err.Error(),
		)
	}
	if c.observer != nil {
		c.observer.ObserveFailure(reason)
	}

	answer = c.fallback.Answer(req)
	c.observeAnswer(SourceFallback, time.Since(started))
	return answer, nil
}

func (c *Chain) tryRemote(ctx context.Context, req Request) (Answer, error) {
	if c.remote == nil {
		return Answer{}, ErrUnavailable
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	answer, err := c.remote.Respond(callCtx, req)
	if err != nil {
		return Answer{}, err
	}
	return validate(answer)
}

func (c *Chain) observeAnswer(source Source, latency time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAnswer(source, latency)
	}
}

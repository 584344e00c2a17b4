package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rbright/healthmate/internal/capture"
	"github.com/rbright/healthmate/internal/config"
	"github.com/rbright/healthmate/internal/indicator"
	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/metrics"
	"github.com/rbright/healthmate/internal/playback"
	"github.com/rbright/healthmate/internal/responder"
	"github.com/rbright/healthmate/internal/session"
)

// components are the session collaborators resolved from config.
type components struct {
	capture   session.Capture
	console   *capture.Console
	playback  session.Playback
	responder responder.Responder
	indicator session.Indicator
	metrics   *metrics.Recorder

	closers []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg config.Config, out io.Writer, logger *slog.Logger) *components {
	recorder := metrics.New()
	chain, closeResponder := buildResponder(ctx, cfg, logger, recorder)

	c := &components{
		responder: chain,
		indicator: indicator.New(cfg.Indicator, out, logger),
		metrics:   recorder,
		closers:   []func(){closeResponder},
	}
	c.capture, c.console = buildCapture(cfg, logger)
	c.playback = buildPlayback(cfg, out, logger)
	return c
}

// buildCapture returns the recognizer and, for the console backend, the
// handle stdin lines are fed through.
func buildCapture(cfg config.Config, logger *slog.Logger) (session.Capture, *capture.Console) {
	switch backendName(cfg.Capture.Backend) {
	case "deepgram":
		return capture.NewDeepgram(capture.DeepgramConfig{
			APIKey:         cfg.Capture.Deepgram.APIKey,
			BaseURL:        cfg.Capture.Deepgram.BaseURL,
			Model:          cfg.Capture.Deepgram.Model,
			SmartFormat:    cfg.Capture.Deepgram.SmartFormat,
			UtteranceEndMS: cfg.Capture.Deepgram.UtteranceEndMS,
			Input:          cfg.Capture.Audio.Input,
			Fallback:       cfg.Capture.Audio.Fallback,
			Logger:         logger,
		}), nil
	case "none":
		return capture.None{}, nil
	default:
		console := capture.NewConsole()
		return console, console
	}
}

func buildPlayback(cfg config.Config, out io.Writer, logger *slog.Logger) session.Playback {
	switch backendName(cfg.Playback.Backend) {
	case "pulse":
		speaker, err := playback.NewCommand(cfg.Playback.TTS.Argv, logger)
		if err != nil {
			logger.Warn("speech playback disabled", "error", err.Error())
			return nil
		}
		return speaker
	case "none":
		return nil
	default:
		return playback.NewConsole(out)
	}
}

// buildResponder wraps the configured remote in the catalog fallback chain.
// A remote that cannot be constructed leaves the chain answering locally.
func buildResponder(ctx context.Context, cfg config.Config, logger *slog.Logger, observer responder.Observer) (*responder.Chain, func()) {
	closeFn := func() {}
	var remote responder.Responder

	switch backendName(cfg.Responder.Backend) {
	case "http":
		remote = responder.NewHTTP(cfg.Responder.HTTP.URL, &http.Client{})
	case "gemini":
		gemini, err := responder.NewGemini(ctx, responder.GeminiConfig{
			APIKey:  cfg.Responder.Gemini.APIKey,
			Model:   cfg.Responder.Gemini.Model,
			BaseURL: cfg.Responder.Gemini.BaseURL,
		})
		if err != nil {
			logger.Warn("gemini responder unavailable", "error", err.Error())
		} else {
			remote = gemini
		}
	case "grpc":
		client, err := responder.NewGRPC(responder.GRPCConfig{
			Endpoint:    cfg.Responder.GRPC.Endpoint,
			DialTimeout: time.Duration(cfg.Responder.GRPC.DialTimeoutMS) * time.Millisecond,
		})
		if err != nil {
			logger.Warn("grpc responder unavailable", "error", err.Error())
		} else {
			remote = client
			closeFn = func() { _ = client.Close() }
		}
	}

	opts := []responder.ChainOption{
		responder.WithTimeout(time.Duration(cfg.Responder.TimeoutMS) * time.Millisecond),
		responder.WithLogger(logger),
	}
	if observer != nil {
		opts = append(opts, responder.WithObserver(observer))
	}
	return responder.WithFallback(remote, nil, opts...), closeFn
}

func startLanguage(cfg config.Config, logger *slog.Logger) locale.Language {
	lang, err := locale.Parse(cfg.Language)
	if err != nil {
		logger.Warn("falling back to default language", "language", cfg.Language, "error", err.Error())
		return locale.Default
	}
	return lang
}

func backendName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

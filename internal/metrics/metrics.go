// Package metrics exposes Prometheus counters for the assistant session and responder chain.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/healthmate/internal/responder"
)

const namespace = "healthmate"

const defaultReadHeaderTimeout = 10 * time.Second

// Recorder owns one registry of assistant metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	answers          *prometheus.CounterVec
	answerLatency    *prometheus.HistogramVec
	responderFailure *prometheus.CounterVec
	silenceStops     prometheus.Counter
	captureErrors    *prometheus.CounterVec
}

// New builds a recorder on a fresh registry with Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Mic state transitions by from/to state",
		}, []string{"from", "to"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_answers_total",
			Help:      "Answers delivered by source",
		}, []string{"source"}), // source: remote, fallback
		answerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "responder_latency_seconds",
			Help:      "Time from dispatch to answer in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		responderFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_failures_total",
			Help:      "Remote responder failures absorbed by the fallback",
		}, []string{"reason"}), // reason: unavailable, transport, status, malformed, other
		silenceStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_autostops_total",
			Help:      "Capture stops requested by the silence timer",
		}),
		captureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Speech capture errors by reason",
		}, []string{"reason"}),
	}

	r.registry.MustRegister(
		r.transitions,
		r.answers,
		r.answerLatency,
		r.responderFailure,
		r.silenceStops,
		r.captureErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) ObserveAnswer(source responder.Source, latency time.Duration) {
	if r == nil {
		return
	}
	r.answers.WithLabelValues(string(source)).Inc()
	r.answerLatency.WithLabelValues(string(source)).Observe(latency.Seconds())
}

func (r *Recorder) ObserveFailure(reason string) {
	if r == nil {
		return
	}
	r.responderFailure.WithLabelValues(reason).Inc()
}

func (r *Recorder) ObserveSilenceStop() {
	if r == nil {
		return
	}
	r.silenceStops.Inc()
}

func (r *Recorder) ObserveCaptureError(reason string) {
	if r == nil {
		return
	}
	r.captureErrors.WithLabelValues(reason).Inc()
}

// Handler serves the registry in Prometheus text or OpenMetrics format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

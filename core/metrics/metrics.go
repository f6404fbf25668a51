// Package metrics exposes Prometheus instruments for the conversation engine
// and the outbound pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
	"github.com/m3rciful/menubot/core/netutil"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Events         *prometheus.CounterVec
	Outcomes       *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	Directives     *prometheus.CounterVec
	DeliveryErrors *prometheus.CounterVec
	JournalErrors  *prometheus.CounterVec
	Dwell          prometheus.Histogram

	ns       string
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer
	mounts   []mount
}

type mount struct {
	pattern string
	h       http.Handler
}

// Options configures New.
type Options struct {
	Namespace string
	// Registry receives every instrument. A fresh registry is used when nil.
	Registry *prometheus.Registry
}

// New registers the instruments under opts.Namespace.
func New(opts Options) *Metrics {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	ns := opts.Namespace
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_total",
			Help:      "Inbound events by kind.",
		}, []string{"kind"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "outcomes_total",
			Help:      "Engine outcomes by type.",
		}, []string{"outcome"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transitions_total",
			Help:      "Session stage transitions.",
		}, []string{"from", "to"}),
		Directives: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "directives_total",
			Help:      "Outbound directives by presentation.",
		}, []string{"presentation"}),
		DeliveryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "delivery_errors_total",
			Help:      "Outbound calls that exhausted their retries, by transport and error kind.",
		}, []string{"transport", "kind"}),
		JournalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "journal_errors_total",
			Help:      "Journal writes that failed or were dropped, by error kind.",
		}, []string{"kind"}),
		Dwell: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "session_dwell_seconds",
			Help:      "Time between consecutive events of a session.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300},
		}),
		ns:       ns,
		reg:      reg,
		gatherer: reg,
	}
}

// TrackGauges registers gauges sampled on scrape.
func (m *Metrics) TrackGauges(activeSessions, pendingTimers func() int) {
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.ns,
		Name:      "active_sessions",
		Help:      "Sessions held in memory.",
	}, func() float64 { return float64(activeSessions()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.ns,
		Name:      "pending_timers",
		Help:      "Users with a running idle timer.",
	}, func() float64 { return float64(pendingTimers()) })
}

// Observe implements engine.Observer.
func (m *Metrics) Observe(_ context.Context, tr engine.Transition) {
	m.Events.WithLabelValues(string(tr.Event.Kind)).Inc()
	m.Outcomes.WithLabelValues(string(tr.Outcome)).Inc()
	if tr.Before.Stage != tr.After.Stage {
		m.Transitions.WithLabelValues(string(tr.Before.Stage), string(tr.After.Stage)).Inc()
	}
	for _, d := range tr.Directives {
		m.Directives.WithLabelValues(string(d.Presentation)).Inc()
	}
	if tr.Event.Kind.Human() && !tr.Before.LastActivityAt.IsZero() && tr.At.After(tr.Before.LastActivityAt) {
		m.Dwell.Observe(tr.At.Sub(tr.Before.LastActivityAt).Seconds())
	}
}

// DeliveryFailed counts an outbound call that gave up.
func (m *Metrics) DeliveryFailed(transport string, err error) {
	m.DeliveryErrors.WithLabelValues(transport, netutil.Classify(err)).Inc()
}

// DeliveryRejected counts directives the outbox refused to queue.
func (m *Metrics) DeliveryRejected(transport string) {
	m.DeliveryErrors.WithLabelValues(transport, "rejected").Inc()
}

// JournalFailed counts a journal write that gave up.
func (m *Metrics) JournalFailed(err error) {
	m.JournalErrors.WithLabelValues(netutil.Classify(err)).Inc()
}

// Mount adds h under pattern on the router built by Handler.
func (m *Metrics) Mount(pattern string, h http.Handler) {
	m.mounts = append(m.mounts, mount{pattern: pattern, h: h})
}

// Handler returns the router serving /metrics, /healthz and any mounts.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	for _, mt := range m.mounts {
		r.Mount(mt.pattern, mt.h)
	}
	return r
}

// Serve exposes Handler on listen until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "metrics", "server.listen", slog.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}

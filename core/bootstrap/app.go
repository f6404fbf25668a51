package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/menubot/core/bot"
	"github.com/m3rciful/menubot/core/clock"
	coreconfig "github.com/m3rciful/menubot/core/config"
	"github.com/m3rciful/menubot/core/dispatch"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/journal"
	"github.com/m3rciful/menubot/core/logger"
	"github.com/m3rciful/menubot/core/metrics"
	"github.com/m3rciful/menubot/core/transport/telegram"
	"github.com/m3rciful/menubot/core/transport/whatsapp"
)

// App is the assembled process: service, transport and their support.
type App struct {
	Config     *coreconfig.Config
	Service    *bot.Service
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Journal    *journal.Journal
	// JournalQueue is nil when no database is configured.
	JournalQueue *dispatch.Dispatcher

	infra *Result
	run   func(ctx context.Context) error
}

// AppOptions tweaks NewApp, mainly for tests.
type AppOptions struct {
	Clock    clock.Clock
	Registry *prometheus.Registry
}

// NewApp wires the conversation service to the configured transport.
func NewApp(cfg *coreconfig.Config, infra *Result, opts AppOptions) (*App, error) {
	if cfg == nil || infra == nil || infra.Catalog == nil {
		return nil, errors.New("bootstrap: app needs config and catalog")
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(metrics.Options{Namespace: cfg.Metrics.Namespace, Registry: reg})

	disp := dispatch.New(dispatch.Options{
		Workers:      cfg.Dispatcher.Workers,
		QueueSize:    cfg.Dispatcher.QueueSize,
		MaxRetries:   cfg.Dispatcher.MaxRetries,
		RetryBackoff: time.Duration(cfg.Dispatcher.RetryBackoffMS) * time.Millisecond,
		OnFailure: func(ctx context.Context, action string, err error) {
			if strings.HasPrefix(action, "send.") {
				m.DeliveryFailed(transportOf(ctx, cfg.Transport), err)
			}
		},
	})

	observers := []engine.Observer{m}
	a := &App{Config: cfg, Dispatcher: disp, Metrics: m, infra: infra}
	if infra.DB != nil {
		// Journal writes run on their own queue, apart from message delivery.
		a.JournalQueue = dispatch.New(dispatch.Options{
			Workers:     1,
			QueueSize:   cfg.Dispatcher.QueueSize,
			MaxDuration: 5 * time.Second,
			OnFailure: func(_ context.Context, _ string, err error) {
				m.JournalFailed(err)
			},
		})
		a.Journal = journal.New(infra.DB, a.JournalQueue, journal.WithOnDrop(m.JournalFailed))
		observers = append(observers, a.Journal)
		m.Mount("/debug/journal", a.Journal.Handler())
	}

	a.Service = bot.New(infra.Catalog, bot.Options{
		Clock:     opts.Clock,
		Observers: observers,
		Transport: cfg.Transport,
	})
	m.TrackGauges(a.Service.ActiveSessions, a.Service.PendingTimers)

	switch cfg.Transport {
	case coreconfig.TransportWhatsApp:
		tr := whatsapp.New(cfg.WhatsApp, disp)
		a.Service.Attach(countRejections(tr.Outbox(), cfg.Transport, m))
		a.run = func(ctx context.Context) error { return tr.Run(ctx, a.Service) }
	case coreconfig.TransportTelegram:
		tr, err := telegram.New(cfg, disp)
		if err != nil {
			a.stop()
			return nil, err
		}
		a.Service.Attach(countRejections(tr.Outbox(), cfg.Transport, m))
		a.run = func(ctx context.Context) error { return tr.Run(ctx, a.Service) }
	default:
		a.stop()
		return nil, fmt.Errorf("bootstrap: unknown transport %q", cfg.Transport)
	}
	return a, nil
}

// countRejections reports directives the outbox could not queue.
func countRejections(o bot.Outbox, transport string, m *metrics.Metrics) bot.Outbox {
	return bot.OutboxFunc(func(ctx context.Context, directives []engine.Directive) error {
		err := o.Deliver(ctx, directives)
		if err != nil {
			m.DeliveryRejected(transport)
		}
		return err
	})
}

func transportOf(ctx context.Context, fallback string) string {
	if tr := logger.TransportFrom(ctx); tr != "" {
		return tr
	}
	return fallback
}

// Run serves the transport, and the metrics endpoint when configured, until
// ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.run(ctx) })
	if listen := a.Config.Metrics.Listen; listen != "" {
		g.Go(func() error { return a.Metrics.Serve(ctx, listen) })
	}
	logger.Info(ctx, "app", "ready",
		slog.String("transport", a.Config.Transport),
		slog.Int("nodes", a.Service.Catalog().Len()),
	)
	return g.Wait()
}

// Close stops timers, drains queued deliveries and journal writes, then
// releases the database.
func (a *App) Close() error {
	a.stop()
	if n := a.Dispatcher.ErrorCount(); n > 0 {
		logger.Warn(context.Background(), "app", "shutdown.delivery_errors", slog.Uint64("count", n))
	}
	if a.JournalQueue != nil {
		if n := a.JournalQueue.ErrorCount(); n > 0 {
			logger.Warn(context.Background(), "app", "shutdown.journal_errors", slog.Uint64("count", n))
		}
	}
	return a.infra.Close()
}

func (a *App) stop() {
	if a.Service != nil {
		a.Service.Close()
	}
	a.Dispatcher.Close()
	if a.JournalQueue != nil {
		a.JournalQueue.Close()
	}
}

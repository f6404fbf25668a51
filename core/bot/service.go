// Package bot wires the conversation engine to its session store, idle
// scheduler and the transport outbox.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/m3rciful/menubot/core/catalog"
	"github.com/m3rciful/menubot/core/clock"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
	"github.com/m3rciful/menubot/core/session"
	"github.com/m3rciful/menubot/core/timer"
)

// ErrNoOutbox is returned when directives are produced before a transport is attached.
var ErrNoOutbox = errors.New("bot: no outbox attached")

// Outbox delivers directives to the user through a transport.
// Implementations must not block on network I/O.
type Outbox interface {
	Deliver(ctx context.Context, directives []engine.Directive) error
}

// OutboxFunc adapts a function to Outbox.
type OutboxFunc func(ctx context.Context, directives []engine.Directive) error

// Deliver calls f.
func (f OutboxFunc) Deliver(ctx context.Context, directives []engine.Directive) error {
	return f(ctx, directives)
}

// Options configures a Service.
type Options struct {
	Clock     clock.Clock
	Observers []engine.Observer
	// Transport names the attached transport in timer-driven log lines.
	Transport string
}

// Service owns the per-process conversation state.
type Service struct {
	cat       *catalog.Catalog
	store     *session.Store
	timers    *timer.Scheduler
	engine    *engine.Engine
	transport string

	mu     sync.RWMutex
	outbox Outbox

	order userLocks
}

// userLocks hands out one mutex per user. Entries live as long as sessions do.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	m, ok := l.m[userID]
	if !ok {
		m = &sync.Mutex{}
		l.m[userID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// New assembles the store, scheduler and engine for cat.
func New(cat *catalog.Catalog, opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	s := &Service{cat: cat, transport: opts.Transport}
	s.timers = timer.NewScheduler(clk, cat.Timing(), s.tick)
	s.store = session.NewStore(cat.Root().ID,
		session.WithClock(clk),
		session.WithCanceler(s.timers),
	)
	s.engine = engine.New(cat, s.store,
		engine.WithClock(clk),
		engine.WithScheduler(s.timers),
		engine.WithObservers(opts.Observers...),
	)
	return s
}

// Attach sets the outbox that receives every directive, including those
// produced by timer ticks.
func (s *Service) Attach(o Outbox) {
	s.mu.Lock()
	s.outbox = o
	s.mu.Unlock()
}

// Handle runs ev through the engine and hands the directives to the outbox.
// A user's directives reach the outbox in the order the engine produced them.
func (s *Service) Handle(ctx context.Context, ev engine.Event) error {
	if strings.TrimSpace(ev.UserID) == "" {
		return fmt.Errorf("bot: event %q without user id", ev.Kind)
	}
	unlock := s.order.lock(ev.UserID)
	defer unlock()

	directives := s.engine.Handle(ctx, ev)
	if len(directives) == 0 {
		return nil
	}

	s.mu.RLock()
	out := s.outbox
	s.mu.RUnlock()
	if out == nil {
		return ErrNoOutbox
	}
	if err := out.Deliver(ctx, directives); err != nil {
		return fmt.Errorf("bot: deliver to %s: %w", ev.UserID, err)
	}
	return nil
}

func (s *Service) tick(ev engine.Event) {
	ctx := logger.WithUpdate(context.Background(), s.transport, "", ev.UserID)
	ctx = logger.WithHandler(ctx, "timer."+string(ev.Kind))
	if err := s.Handle(ctx, ev); err != nil {
		logger.Warn(ctx, "bot", "timer.deliver",
			slog.String("status", "error"),
			slog.String("kind", string(ev.Kind)),
			slog.String("err", err.Error()),
		)
	}
}

// Session returns a snapshot of the user's session.
func (s *Service) Session(userID string) (session.Session, bool) {
	return s.store.Get(userID)
}

// ActiveSessions returns the number of sessions held in memory.
func (s *Service) ActiveSessions() int { return s.store.Len() }

// PendingTimers returns the number of users with a running idle timer.
func (s *Service) PendingTimers() int { return s.timers.Pending() }

// Catalog returns the catalog the service was built with.
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// Close stops every idle timer. Inbound events are still processed.
func (s *Service) Close() {
	s.timers.Close()
}

// Package timer keeps one idle timer per user and turns inactivity into
// Idle and Expire events for the engine.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/menubot/core/catalog"
	"github.com/m3rciful/menubot/core/clock"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
)

// Sink receives timer events. It is called without any scheduler lock held.
type Sink func(ev engine.Event)

type handle struct {
	gen   uint64
	epoch uint64
	timer clock.Timer
}

// Scheduler fires Idle after the warning threshold and Expire after the
// expiry threshold, both measured from the last Touch.
type Scheduler struct {
	mu      sync.Mutex
	clock   clock.Clock
	warn    time.Duration
	expire  time.Duration
	sink    Sink
	handles map[string]*handle
	gen     uint64
	closed  bool
}

// NewScheduler builds a scheduler for the catalog timing.
func NewScheduler(clk clock.Clock, timing catalog.Timing, sink Sink) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		clock:   clk,
		warn:    timing.IdleWarning,
		expire:  timing.Expiry,
		sink:    sink,
		handles: make(map[string]*handle),
	}
}

// Touch cancels any running timer for the user and starts a new one tied to epoch.
func (s *Scheduler) Touch(userID string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked(userID)
	s.gen++
	gen := s.gen
	h := &handle{gen: gen, epoch: epoch}
	h.timer = s.clock.AfterFunc(s.warn, func() { s.fire(userID, gen, engine.KindIdle) })
	s.handles[userID] = h
}

// Cancel stops the user's timer, if any.
func (s *Scheduler) Cancel(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(userID)
}

// Pending returns the number of users with a running timer.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close stops every timer. Later calls to Touch are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id := range s.handles {
		s.stopLocked(id)
	}
}

func (s *Scheduler) stopLocked(userID string) {
	if h, ok := s.handles[userID]; ok {
		h.timer.Stop()
		delete(s.handles, userID)
	}
}

func (s *Scheduler) fire(userID string, gen uint64, kind engine.EventKind) {
	s.mu.Lock()
	h, ok := s.handles[userID]
	if !ok || h.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	ev := engine.Event{UserID: userID, Kind: kind, Epoch: h.epoch}
	if kind == engine.KindIdle {
		h.timer = s.clock.AfterFunc(s.expire-s.warn, func() { s.fire(userID, gen, engine.KindExpire) })
	} else {
		delete(s.handles, userID)
	}
	s.mu.Unlock()

	logger.Debug(context.Background(), "timer", "timer.fired",
		slog.String("status", "ok"),
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.Uint64("epoch", ev.Epoch),
	)
	if s.sink != nil {
		s.sink(ev)
	}
}

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/menubot/core/catalog"
	"github.com/m3rciful/menubot/core/clock"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/session"
)

type outbox struct {
	mu   sync.Mutex
	sent []engine.Directive
	err  error
}

func (o *outbox) Deliver(_ context.Context, ds []engine.Directive) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, ds...)
	return o.err
}

func (o *outbox) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sent))
	for _, d := range o.sent {
		out = append(out, d.Text)
	}
	return out
}

func (o *outbox) reset() {
	o.mu.Lock()
	o.sent = nil
	o.mu.Unlock()
}

func newService(t *testing.T) (*Service, *outbox, *clock.Manual) {
	t.Helper()
	cat, err := catalog.Load("../engine/testdata/catalog.yaml")
	require.NoError(t, err)
	clk := clock.NewManual(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	svc := New(cat, Options{Clock: clk, Transport: "test"})
	out := &outbox{}
	svc.Attach(out)
	t.Cleanup(svc.Close)
	return svc, out, clk
}

func send(t *testing.T, svc *Service, user string, kind engine.EventKind, payload string) {
	t.Helper()
	require.NoError(t, svc.Handle(context.Background(), engine.Event{UserID: user, Kind: kind, Payload: payload}))
}

func TestIdleWarningThenExpiryThroughScheduler(t *testing.T) {
	svc, out, clk := newService(t)
	const user = "919800000001"

	send(t, svc, user, engine.KindText, "hi")
	send(t, svc, user, engine.KindText, "English")
	send(t, svc, user, engine.KindSelection, "departments")
	assert.Equal(t, 1, svc.PendingTimers())
	out.reset()

	clk.Advance(179 * time.Second)
	assert.Empty(t, out.texts())

	clk.Advance(time.Second)
	assert.Equal(t, []string{"Are you still there?"}, out.texts())
	sess, ok := svc.Session(user)
	require.True(t, ok)
	assert.True(t, sess.Warned)
	assert.Equal(t, session.StageNavigating, sess.Stage)

	out.reset()
	clk.Advance(120 * time.Second)
	assert.Equal(t, []string{"Session closed."}, out.texts())

	sess, ok = svc.Session(user)
	require.True(t, ok)
	assert.Equal(t, session.StageInit, sess.Stage)
	assert.Equal(t, uint64(2), sess.Epoch)
	assert.Zero(t, svc.PendingTimers())

	out.reset()
	send(t, svc, user, engine.KindText, "hello again")
	assert.Equal(t, []string{"Choose a language\nभाषा निवडा"}, out.texts())
}

func TestActivityPostponesIdleWarning(t *testing.T) {
	svc, out, clk := newService(t)
	const user = "u1"

	send(t, svc, user, engine.KindText, "English")
	clk.Advance(170 * time.Second)
	send(t, svc, user, engine.KindSelection, "about")
	out.reset()

	clk.Advance(170 * time.Second)
	assert.Empty(t, out.texts())
	clk.Advance(10 * time.Second)
	assert.Equal(t, []string{"Are you still there?"}, out.texts())
}

func TestRestartCancelsTimer(t *testing.T) {
	svc, out, clk := newService(t)
	const user = "u2"

	send(t, svc, user, engine.KindText, "English")
	require.Equal(t, 1, svc.PendingTimers())
	send(t, svc, user, engine.KindRestart, "")
	assert.Zero(t, svc.PendingTimers())

	out.reset()
	clk.Advance(10 * time.Minute)
	assert.Empty(t, out.texts())
}

func TestHandleErrors(t *testing.T) {
	cat, err := catalog.Load("../engine/testdata/catalog.yaml")
	require.NoError(t, err)
	svc := New(cat, Options{Clock: clock.NewManual(time.Now())})
	defer svc.Close()

	err = svc.Handle(context.Background(), engine.Event{Kind: engine.KindText, Payload: "hi"})
	require.Error(t, err)

	err = svc.Handle(context.Background(), engine.Event{UserID: "u", Kind: engine.KindText, Payload: "hi"})
	assert.ErrorIs(t, err, ErrNoOutbox)

	boom := errors.New("queue full")
	svc.Attach(&outbox{err: boom})
	err = svc.Handle(context.Background(), engine.Event{UserID: "u", Kind: engine.KindText, Payload: "hi"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, svc.ActiveSessions())
}

func TestObserversSeeTimerTransitions(t *testing.T) {
	cat, err := catalog.Load("../engine/testdata/catalog.yaml")
	require.NoError(t, err)
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var (
		mu       sync.Mutex
		outcomes []engine.Outcome
	)
	obs := engine.ObserverFunc(func(_ context.Context, tr engine.Transition) {
		mu.Lock()
		outcomes = append(outcomes, tr.Outcome)
		mu.Unlock()
	})
	svc := New(cat, Options{Clock: clk, Observers: []engine.Observer{obs}})
	defer svc.Close()
	svc.Attach(OutboxFunc(func(context.Context, []engine.Directive) error { return nil }))

	send(t, svc, "u3", engine.KindText, "English")
	clk.Advance(5 * time.Minute)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []engine.Outcome{
		engine.OutcomeLanguageSelected,
		engine.OutcomeIdleWarning,
		engine.OutcomeExpired,
	}, outcomes)
}

func TestDeliveriesFollowEngineOrderUnderConcurrency(t *testing.T) {
	cat, err := catalog.Load("../engine/testdata/catalog.yaml")
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		produced []string
	)
	obs := engine.ObserverFunc(func(_ context.Context, tr engine.Transition) {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range tr.Directives {
			produced = append(produced, d.Text)
		}
	})
	svc := New(cat, Options{Clock: clock.NewManual(time.Now()), Observers: []engine.Observer{obs}})
	defer svc.Close()
	out := &outbox{}
	svc.Attach(out)

	inputs := []string{"English", "departments", "restart", "मराठी", "about", "nonsense"}
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(payload string) {
			defer wg.Done()
			assert.NoError(t, svc.Handle(context.Background(), engine.Event{UserID: "u", Kind: engine.KindText, Payload: payload}))
		}(inputs[i%len(inputs)])
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, produced, out.texts())
}

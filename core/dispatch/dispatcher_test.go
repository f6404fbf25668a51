package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("api status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestDispatcherRunsJobs(t *testing.T) {
	d := New(Options{Workers: 2, QueueSize: 16})
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Enqueue(context.Background(), "send.text", "messages", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	d.Close()
	assert.Equal(t, int32(10), n.Load())
	assert.Equal(t, uint64(10), d.Completed())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := New(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send.list", "", func(context.Context) error {
		if calls.Add(1) < 3 {
			return statusErr(503)
		}
		return nil
	}))
	d.Close()
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherGivesUpOnPermanentErrors(t *testing.T) {
	var (
		mu      sync.Mutex
		failed  []string
		lastErr error
	)
	d := New(Options{
		Workers:      1,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		OnFailure: func(_ context.Context, action string, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, action)
			lastErr = err
		},
	})
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send.buttons", "", func(context.Context) error {
		calls.Add(1)
		return statusErr(400)
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), d.ErrorCount())
	assert.Equal(t, []string{"send.buttons"}, failed)
	var se statusErr
	assert.True(t, errors.As(lastErr, &se))
}

func TestDispatcherQueueLimits(t *testing.T) {
	block := make(chan struct{})
	d := New(Options{Workers: 1, QueueSize: 1})

	started := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), "a", "", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.NoError(t, d.Enqueue(context.Background(), "b", "", func(context.Context) error { return nil }))
	assert.ErrorIs(t, d.Enqueue(context.Background(), "c", "", func(context.Context) error { return nil }), ErrQueueFull)

	close(block)
	d.Close()
	assert.ErrorIs(t, d.Enqueue(context.Background(), "d", "", func(context.Context) error { return nil }), ErrQueueClosed)
	d.Close()
}

func TestDispatcherDetachesCallerCancellation(t *testing.T) {
	d := New(Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	var got error
	done := make(chan struct{})
	require.NoError(t, d.Enqueue(ctx, "journal.insert", "", func(jobCtx context.Context) error {
		<-done
		got = jobCtx.Err()
		return nil
	}))
	cancel()
	close(done)
	d.Close()
	assert.NoError(t, got)
}

func TestRedact(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAH-secret_x/sendMessage": EOF`)
	assert.Equal(t, `Post "https://api.telegram.org/bot<redacted>/sendMessage": EOF`, Redact(err))
	assert.Equal(t, "auth: Bearer <redacted> rejected", Redact(errors.New("auth: Bearer EAAG.xyz rejected")))
	assert.Equal(t, "", Redact(nil))
}

func TestDispatcherKeepsOrderPerKey(t *testing.T) {
	d := New(Options{Workers: 4, QueueSize: 64})
	var (
		mu  sync.Mutex
		got = map[string][]int{}
	)
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("user-%d", i%3)
		n := i
		require.NoError(t, d.EnqueueKeyed(context.Background(), key, "send.menu", "", func(context.Context) error {
			if n < 3 {
				time.Sleep(20 * time.Millisecond)
			}
			mu.Lock()
			got[key] = append(got[key], n)
			mu.Unlock()
			return nil
		}))
	}
	d.Close()

	for k, seq := range got {
		for i := 1; i < len(seq); i++ {
			assert.Less(t, seq[i-1], seq[i], "key %s ran out of order: %v", k, seq)
		}
	}
	assert.Equal(t, uint64(20), d.Completed())
}

func TestDispatcherKeyedRetryBlocksLaterJobs(t *testing.T) {
	d := New(Options{Workers: 2, MaxRetries: 1, RetryBackoff: 20 * time.Millisecond})
	var (
		mu    sync.Mutex
		order []string
		calls atomic.Int32
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	require.NoError(t, d.EnqueueKeyed(context.Background(), "u1", "send.menu", "", func(context.Context) error {
		if calls.Add(1) == 1 {
			return statusErr(503)
		}
		record("first")
		return nil
	}))
	require.NoError(t, d.EnqueueKeyed(context.Background(), "u1", "send.menu", "", func(context.Context) error {
		record("second")
		return nil
	}))
	d.Close()

	assert.Equal(t, []string{"first", "second"}, order)
}

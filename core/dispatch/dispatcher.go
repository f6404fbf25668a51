// Package dispatch runs outbound calls (message delivery, journal writes)
// on a bounded worker pool with retries.
package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/menubot/core/logger"
	"github.com/m3rciful/menubot/core/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("dispatch: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("dispatch: queue full")

	secretRes = []*regexp.Regexp{
		regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`),
		regexp.MustCompile(`(?i)(access_token=)[^&\s]+`),
		regexp.MustCompile(`(?i)(bearer )[A-Za-z0-9._-]+`),
	}
)

// Options controls the behaviour of the dispatcher.
type Options struct {
	// QueueSize is the total capacity, split evenly across workers.
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
	// OnFailure is called once per job that exhausted its attempts.
	OnFailure func(ctx context.Context, action string, err error)
}

// Func is a unit of outbound work. It must be idempotent if retries are enabled.
type Func func(ctx context.Context) error

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      Func
}

// Dispatcher executes outbound calls asynchronously with retries.
// Every worker drains its own queue, so jobs sharing a key run one at a
// time in the order they were enqueued.
type Dispatcher struct {
	opts   Options
	shards []chan job
	next   atomic.Uint64

	mu     sync.RWMutex
	closed bool

	wg   sync.WaitGroup
	errs atomic.Uint64
	done atomic.Uint64
}

// New starts a dispatcher, filling zeroed options with defaults.
func New(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 15 * time.Second
	}

	perShard := (opts.QueueSize + opts.Workers - 1) / opts.Workers
	d := &Dispatcher{
		opts:   opts,
		shards: make([]chan job, opts.Workers),
	}
	d.wg.Add(opts.Workers)
	for i := range d.shards {
		d.shards[i] = make(chan job, perShard)
		go d.worker(d.shards[i])
	}
	return d
}

// Enqueue schedules run for asynchronous execution on the next worker in
// turn. It never blocks.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run Func) error {
	return d.EnqueueKeyed(ctx, "", action, endpoint, run)
}

// EnqueueKeyed schedules run on the worker owning key. Jobs with the same
// non-empty key never overlap and run in enqueue order, retries included.
func (d *Dispatcher) EnqueueKeyed(ctx context.Context, key, action, endpoint string, run Func) error {
	if run == nil {
		return errors.New("dispatch: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Jobs outlive the inbound request; keep its values, drop its deadline.
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.shard(key) <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) shard(key string) chan job {
	n := uint64(len(d.shards))
	if key == "" {
		return d.shards[(d.next.Add(1)-1)%n]
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return d.shards[h.Sum64()%n]
}

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 { return d.errs.Load() }

// Completed returns the number of jobs that finished, successfully or not.
func (d *Dispatcher) Completed() uint64 { return d.done.Load() }

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		d.handleJob(j)
		d.done.Add(1)
	}
}

func (d *Dispatcher) handleJob(j job) {
	ctx := j.ctx
	deadlineCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var lastErr error

retry:
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}
		err := j.run(deadlineCtx)
		if err == nil {
			attrs := append(jobAttrs(ctx, j), slog.Duration("duration", time.Since(start)))
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempt", attempt))
				logger.Info(ctx, "dispatch", "send.retry.success", attrs...)
			} else if logger.ShouldSampleDebug() {
				logger.Debug(ctx, "dispatch", "send.success", attrs...)
			}
			return
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := d.opts.RetryBackoff * time.Duration(attempt)
		logger.Debug(ctx, "dispatch", "send.retry.backoff",
			append(jobAttrs(ctx, j), slog.Int("attempt", attempt), slog.Duration("delay", delay))...,
		)
		timer := time.NewTimer(delay)
		select {
		case <-deadlineCtx.Done():
			timer.Stop()
			lastErr = errors.Join(lastErr, deadlineCtx.Err())
			break retry
		case <-timer.C:
		}
	}

	d.errs.Add(1)
	logger.Error(ctx, "dispatch", "send.fail",
		append(jobAttrs(ctx, j),
			slog.String("error", Redact(lastErr)),
			slog.String("error_kind", netutil.Classify(lastErr)),
			slog.Int("attempts", attempts),
			slog.Duration("duration", time.Since(start)),
		)...,
	)
	if d.opts.OnFailure != nil {
		d.opts.OnFailure(ctx, j.action, lastErr)
	}
}

func jobAttrs(ctx context.Context, j job) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	if tr := logger.TransportFrom(ctx); tr != "" {
		attrs = append(attrs, slog.String("transport", tr))
	}
	if uid := logger.UserIDFrom(ctx); uid != "" {
		attrs = append(attrs, slog.String("user_id", uid))
	}
	return attrs
}

// Redact renders err with bot tokens and bearer credentials masked.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for i, re := range secretRes {
		if i == 0 {
			msg = re.ReplaceAllString(msg, "bot<redacted>")
			continue
		}
		msg = re.ReplaceAllString(msg, "${1}<redacted>")
	}
	return msg
}

package whatsapp

import (
	"context"
	"log/slog"

	"github.com/m3rciful/menubot/core/dispatch"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
)

// Poster sends one rendered message.
type Poster interface {
	Send(ctx context.Context, msg Message) error
}

// Enqueuer schedules delivery jobs. Jobs sharing a key run in order.
type Enqueuer interface {
	EnqueueKeyed(ctx context.Context, key, action, endpoint string, run dispatch.Func) error
}

// Outbox renders directives as Cloud API messages.
type Outbox struct {
	poster Poster
	queue  Enqueuer
}

// NewOutbox builds an outbox posting through poster on queue.
func NewOutbox(poster Poster, queue Enqueuer) *Outbox {
	return &Outbox{poster: poster, queue: queue}
}

// Deliver renders every directive and enqueues one job posting them in
// order, behind any earlier job for the same user. A retried job resumes
// after the last accepted message.
func (o *Outbox) Deliver(ctx context.Context, directives []engine.Directive) error {
	if len(directives) == 0 {
		return nil
	}
	var msgs []Message
	for _, d := range directives {
		msgs = append(msgs, Render(d.UserID, d)...)
	}
	if len(msgs) == 0 {
		return nil
	}

	sent := 0
	return o.queue.EnqueueKeyed(ctx, directives[0].UserID, "send.menu", "messages", func(ctx context.Context) error {
		for sent < len(msgs) {
			if err := o.poster.Send(ctx, msgs[sent]); err != nil {
				return err
			}
			sent++
		}
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "wa", "send.directives",
				slog.String("status", "ok"),
				slog.Int("directives", len(directives)),
				slog.Int("messages", len(msgs)),
			)
		}
		return nil
	})
}

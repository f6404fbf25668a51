package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/menubot/core/dispatch"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
)

// callbackDataLimit is Telegram's byte limit for callback_data.
const callbackDataLimit = 64

// Sender is the subset of *tele.Bot used for delivery.
type Sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Enqueuer schedules delivery jobs. Jobs sharing a key run in order.
type Enqueuer interface {
	EnqueueKeyed(ctx context.Context, key, action, endpoint string, run dispatch.Func) error
}

// Outbox renders directives as Telegram messages with inline keyboards.
type Outbox struct {
	sender Sender
	queue  Enqueuer
	perRow int
}

// NewOutbox builds an outbox. perRow caps buttons per keyboard row for
// button presentations; list options always get a row each.
func NewOutbox(sender Sender, queue Enqueuer, perRow int) *Outbox {
	if perRow <= 0 {
		perRow = 1
	}
	return &Outbox{sender: sender, queue: queue, perRow: perRow}
}

// Deliver enqueues one job sending every directive in order, behind any
// earlier job for the same chat. A retried job resumes after the last
// message that went through.
func (o *Outbox) Deliver(ctx context.Context, directives []engine.Directive) error {
	if len(directives) == 0 {
		return nil
	}
	chatID, err := strconv.ParseInt(directives[0].UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: recipient %q: %w", directives[0].UserID, err)
	}
	to := tele.ChatID(chatID)

	sent := 0
	return o.queue.EnqueueKeyed(ctx, directives[0].UserID, "send.menu", "sendMessage", func(ctx context.Context) error {
		for sent < len(directives) {
			d := directives[sent]
			if err := o.send(ctx, to, d); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
}

func (o *Outbox) send(ctx context.Context, to tele.Recipient, d engine.Directive) error {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if markup := Markup(d, o.perRow); markup != nil {
		opts.ReplyMarkup = markup
	}
	if _, err := o.sender.Send(to, d.Text, opts); err != nil {
		return wrapError(err)
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "tg", "send.directive",
			slog.String("status", "ok"),
			slog.String("node", d.NodeID),
			slog.String("kind", string(d.Presentation)),
			slog.Int("options", len(d.AllOptions())),
		)
	}
	return nil
}

// Markup builds the inline keyboard for d, or nil for plain text.
// Button presentations are packed perRow per row; list options, navigation
// included, take one row each and section titles are dropped.
func Markup(d engine.Directive, perRow int) *tele.ReplyMarkup {
	opts := d.AllOptions()
	if d.Presentation == engine.PlainText || len(opts) == 0 {
		return nil
	}
	if d.Presentation == engine.List || perRow <= 0 {
		perRow = 1
	}

	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	var row tele.Row
	for _, opt := range opts {
		if len("\f"+menuUnique+"|"+opt.ID) > callbackDataLimit {
			logger.Warn(context.Background(), "tg", "markup.callback_too_long",
				slog.String("node", d.NodeID),
				slog.String("option", opt.ID),
			)
		}
		row = append(row, markup.Data(opt.Label, menuUnique, opt.ID))
		if len(row) == perRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	markup.Inline(rows...)
	return markup
}

// apiError exposes the HTTP status of a Telegram API failure for retry decisions.
type apiError struct {
	err  error
	code int
}

func (e *apiError) Error() string   { return e.err.Error() }
func (e *apiError) Unwrap() error   { return e.err }
func (e *apiError) StatusCode() int { return e.code }

func wrapError(err error) error {
	var (
		teleErr  *tele.Error
		floodErr tele.FloodError
		groupErr tele.GroupError
	)
	switch {
	case errors.As(err, &floodErr):
		return &apiError{err: err, code: http.StatusTooManyRequests}
	case errors.As(err, &groupErr):
		return &apiError{err: err, code: http.StatusBadRequest}
	case errors.As(err, &teleErr) && teleErr.Code != 0:
		return &apiError{err: err, code: teleErr.Code}
	}
	return err
}

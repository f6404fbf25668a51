// Package telegram serves the menu through a Telegram bot: updates become
// engine events, directives become messages with inline keyboards.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/menubot/core/config"
	"github.com/m3rciful/menubot/core/logger"
	"github.com/m3rciful/menubot/core/netutil"
)

// Transport owns the bot and its outbox.
type Transport struct {
	cfg    *coreconfig.Config
	bot    *tele.Bot
	outbox *Outbox
}

// New builds the bot for cfg. Outbound messages are sent through queue.
func New(cfg *coreconfig.Config, queue Enqueuer) (*Transport, error) {
	if cfg == nil {
		return nil, errors.New("telegram: nil config")
	}
	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: buildPoller(cfg),
		Client: netutil.NewClient(netutil.ClientOptions{Retries: 2, RetryBackoff: 2 * time.Second}),
		OnError: func(err error, c tele.Context) {
			ctx := context.Background()
			if c != nil {
				ctx = contextFor(c)
			}
			logger.Error(ctx, "tg", "tg.error", slog.String("err", err.Error()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	t := &Transport{cfg: cfg, bot: bot}
	t.outbox = NewOutbox(bot, queue, cfg.Telegram.ButtonsPerRow)
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("mode", cfg.Telegram.RunMode),
		slog.Duration("duration", logger.Took(start)),
	}
	if bot.Me != nil {
		attrs = append(attrs, slog.String("username", bot.Me.Username))
	}
	logger.Info(context.Background(), "tg", "bot.init", attrs...)
	return t, nil
}

// Outbox returns the directive deliverer bound to this bot.
func (t *Transport) Outbox() *Outbox { return t.outbox }

func buildPoller(cfg *coreconfig.Config) tele.Poller {
	if cfg.Telegram.RunMode == coreconfig.RunModeWebhook {
		return &tele.Webhook{
			Listen:   fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port),
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
	}
	timeout := cfg.Telegram.LongPollTimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	return &tele.LongPoller{Timeout: time.Duration(timeout) * time.Second}
}

// Route binds the menu handlers on bot.
func Route(bot *tele.Bot, h Handler, mws ...tele.MiddlewareFunc) {
	bot.Use(mws...)
	handle := func(c tele.Context) error {
		if cb := c.Callback(); cb != nil {
			_ = c.Respond()
		}
		ev, ok := normalize(c)
		if !ok {
			return nil
		}
		return h.Handle(contextFor(c), ev)
	}
	bot.Handle("/start", handle)
	bot.Handle("/restart", handle)
	bot.Handle(tele.OnText, handle)
	bot.Handle(&tele.Btn{Unique: menuUnique}, handle)
	bot.Handle(tele.OnCallback, handle)
}

// Run serves updates until ctx is done.
func (t *Transport) Run(ctx context.Context, h Handler) error {
	Route(t.bot, h, Middlewares(t.cfg)...)

	if t.cfg.Telegram.RunMode == coreconfig.RunModeLongpoll {
		if err := t.bot.RemoveWebhook(false); err != nil {
			logger.Warn(ctx, "tg", "webhook.delete", slog.String("status", "error"), slog.String("err", err.Error()))
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.bot.Start()
	}()
	logger.Info(ctx, "tg", "bot.start", slog.String("mode", t.cfg.Telegram.RunMode))

	select {
	case <-ctx.Done():
		t.bot.Stop()
		<-done
		return nil
	case <-done:
		return errors.New("telegram: poller stopped")
	}
}

package telegram

import (
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/menubot/core/config"
	"github.com/m3rciful/menubot/core/logger"
)

// Recover keeps a panicking handler from taking the poller down.
func Recover(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(contextFor(c), "tg", "tg.panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = nil
			}
		}()
		return next(c)
	}
}

// Logging attaches the request context and logs one receipt line per update.
func Logging(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := newContext(c)
		c.Set(ctxKey, ctx)

		start := time.Now()
		err := next(c)

		if err == nil && !logger.ShouldSampleDebug() {
			return nil
		}
		upd := c.Update()
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.Duration("duration", logger.Took(start)),
		}
		if u := c.Sender(); u != nil && u.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", u.LanguageCode))
		}
		switch {
		case upd.Callback != nil:
			_, payload := parseCallback(upd.Callback)
			attrs = append(attrs, slog.String("kind", "callback"), slog.String("payload", logger.SanitizeLimit(payload, 128)))
		case upd.Message != nil:
			attrs = append(attrs, slog.String("kind", "message"), slog.String("payload", logger.SanitizeLimit(upd.Message.Text, 256)))
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", err.Error()))
			logger.Warn(ctx, "tg", "update.handled", attrs...)
			return err
		}
		logger.Debug(ctx, "tg", "update.handled", attrs...)
		return nil
	}
}

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds ("callback", "message") that bypass the limit.
	Exclude   []string
	OnLimited tele.HandlerFunc
	Now       func() time.Time
}

// RateLimit drops updates arriving faster than Interval from the same user.
func RateLimit(opts RateLimitOptions) tele.MiddlewareFunc {
	skip := make(map[string]struct{}, len(opts.Exclude))
	for _, k := range opts.Exclude {
		skip[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := coreconfig.UpdateMessage
			if c.Update().Callback != nil {
				kind = coreconfig.UpdateCallback
			}
			if _, ok := skip[kind]; ok {
				return next(c)
			}

			t := now()
			mu.Lock()
			if last, ok := lastSeen[user.ID]; ok && t.Sub(last) < opts.Interval {
				mu.Unlock()
				logger.Warn(contextFor(c), "tg", "tg.rate_limit", slog.String("kind", kind))
				if opts.OnLimited != nil {
					return opts.OnLimited(c)
				}
				return nil
			}
			lastSeen[user.ID] = t
			mu.Unlock()
			return next(c)
		}
	}
}

// Middlewares builds the default chain from cfg.
func Middlewares(cfg *coreconfig.Config) []tele.MiddlewareFunc {
	mws := []tele.MiddlewareFunc{Logging, Recover}
	if cfg != nil && cfg.RateLimit.IntervalMS > 0 {
		mws = append(mws, RateLimit(RateLimitOptions{
			Interval: time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
			Exclude:  cfg.RateLimit.ExcludeUpdates,
		}))
	}
	return mws
}

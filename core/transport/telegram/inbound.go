package telegram

import (
	"context"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
)

// Name identifies this transport in logs, metrics and the journal.
const Name = "telegram"

// menuUnique is the callback unique shared by every menu button.
const menuUnique = "menu"

const ctxKey = "menubot.ctx"

// Handler consumes normalized inbound events.
type Handler interface {
	Handle(ctx context.Context, ev engine.Event) error
}

// userID renders the sender id as the session key.
func userID(c tele.Context) string {
	if u := c.Sender(); u != nil {
		return strconv.FormatInt(u.ID, 10)
	}
	if ch := c.Chat(); ch != nil {
		return strconv.FormatInt(ch.ID, 10)
	}
	return ""
}

// normalize maps a Telegram update to an engine event. ok is false for
// updates the menu does not react to.
func normalize(c tele.Context) (engine.Event, bool) {
	ev := engine.Event{UserID: userID(c)}
	if ev.UserID == "" {
		return ev, false
	}
	upd := c.Update()
	switch {
	case upd.Callback != nil:
		_, payload := parseCallback(upd.Callback)
		if payload == "" {
			return ev, false
		}
		ev.Kind = engine.KindSelection
		ev.Payload = payload
	case upd.Message != nil:
		text := strings.TrimSpace(upd.Message.Text)
		if text == "" {
			return ev, false
		}
		if isRestartCommand(text) {
			ev.Kind = engine.KindRestart
			return ev, true
		}
		ev.Kind = engine.KindText
		ev.Payload = text
	default:
		return ev, false
	}
	return ev, true
}

func isRestartCommand(text string) bool {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start" || cmd == "/restart"
}

// parseCallback returns unique and payload. Telebot strips the "\f<unique>|"
// prefix when a unique handler matched; otherwise Data carries it raw.
func parseCallback(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw, ok := strings.CutPrefix(cb.Data, "\f")
	if !ok {
		return "", strings.TrimSpace(cb.Data)
	}
	unique, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(unique), payload
}

// contextFor returns the request context stored by the logging middleware,
// building one when the middleware did not run.
func contextFor(c tele.Context) context.Context {
	if ctx, ok := c.Get(ctxKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	ctx := newContext(c)
	c.Set(ctxKey, ctx)
	return ctx
}

func newContext(c tele.Context) context.Context {
	upd := c.Update()
	uid := userID(c)
	updateID := strconv.Itoa(upd.ID)
	ctx := logger.WithUpdate(context.Background(), Name, updateID, uid)
	ctx = logger.WithRID(ctx, logger.BuildRID(updateID, uid))
	return logger.WithLogger(ctx, logger.Component("tg"))
}

package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/menubot/core/catalog"
	"github.com/m3rciful/menubot/core/clock"
	"github.com/m3rciful/menubot/core/logger"
	"github.com/m3rciful/menubot/core/session"
)

// Engine applies the conversation state machine to sessions held in a store.
// It performs no blocking I/O; observers run after the session lock is released.
type Engine struct {
	cat       *catalog.Catalog
	store     *session.Store
	clock     clock.Clock
	sched     Scheduler
	observers []Observer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for activity stamps and stale tick checks.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithScheduler sets the idle timer rescheduled on human activity.
func WithScheduler(s Scheduler) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sched = s
		}
	}
}

// WithObservers registers transition observers.
func WithObservers(obs ...Observer) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// New builds an engine over a validated catalog and a session store.
func New(cat *catalog.Catalog, store *session.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		cat:   cat,
		store: store,
		clock: clock.Real(),
		sched: noopScheduler{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle processes one event and returns the directives to deliver, in order.
func (e *Engine) Handle(ctx context.Context, ev Event) []Directive {
	start := time.Now()
	var tr Transition
	e.store.Update(ev.UserID, func(tx *session.Tx) {
		tr = e.apply(tx, ev)
	})

	for _, obs := range e.observers {
		obs.Observe(ctx, tr)
	}

	if !logger.ShouldSampleDebug() {
		return tr.Directives
	}
	logger.Debug(ctx, "engine", "event.handled",
		slog.String("status", "ok"),
		slog.String("user_id", ev.UserID),
		slog.String("kind", string(ev.Kind)),
		slog.String("outcome", string(tr.Outcome)),
		slog.String("stage", string(tr.After.Stage)),
		slog.String("node", tr.After.CurrentNodeID),
		slog.String("lang", tr.After.Language),
		slog.Int("directives", len(tr.Directives)),
		slog.Duration("took", time.Since(start)),
	)
	return tr.Directives
}

func (e *Engine) apply(tx *session.Tx, ev Event) Transition {
	now := e.clock.Now()
	before := tx.Session().Clone()

	var (
		out  []Directive
		outc Outcome
	)
	switch ev.Kind {
	case KindIdle:
		out, outc = e.idle(tx, ev, now)
	case KindExpire:
		out, outc = e.expire(tx, ev, now)
	default:
		out, outc = e.human(tx, ev)
		sess := tx.Session()
		sess.LastActivityAt = now
		sess.Warned = false
		if sess.Stage == session.StageNavigating {
			e.sched.Touch(sess.UserID, sess.Epoch)
		} else {
			e.sched.Cancel(sess.UserID)
		}
	}

	return Transition{
		Event:      ev,
		Before:     before,
		After:      tx.Session().Clone(),
		Directives: out,
		Outcome:    outc,
		At:         now,
	}
}

func (e *Engine) human(tx *session.Tx, ev Event) ([]Directive, Outcome) {
	sess := tx.Session()
	restart := ev.Kind == KindRestart || (ev.Kind == KindText && e.cat.IsRestart(ev.Payload))

	if sess.Stage != session.StageNavigating {
		if restart {
			tx.Reset()
			return []Directive{e.opening(ev.UserID)}, OutcomeRestart
		}
		if code, ok := e.cat.MatchLanguage(ev.Payload); ok {
			sess.Language = code
			sess.Stage = session.StageNavigating
			sess.CurrentNodeID = e.cat.Root().ID
			sess.History = nil
			return []Directive{e.render(sess)}, OutcomeLanguageSelected
		}
		return []Directive{e.opening(ev.UserID)}, OutcomeOpening
	}

	switch {
	case restart:
		tx.Reset()
		return []Directive{e.opening(ev.UserID)}, OutcomeRestart
	case ev.Kind == KindText && e.cat.IsChangeLanguage(ev.Payload):
		tx.Reset()
		return []Directive{e.opening(ev.UserID)}, OutcomeChangeLanguage
	}

	target, ok := e.match(sess, ev.Payload)
	if !ok {
		lang := e.language(sess)
		notice := Directive{
			UserID:       sess.UserID,
			Language:     lang,
			Text:         e.cat.Messages().Fallback.In(lang, e.cat.FallbackLanguage()),
			Presentation: PlainText,
		}
		return []Directive{notice, e.render(sess)}, OutcomeFallback
	}

	var outc Outcome
	switch target {
	case catalog.NavBack:
		if prev, ok := sess.Pop(); ok {
			sess.CurrentNodeID = prev
		} else {
			sess.CurrentNodeID = e.cat.Root().ID
		}
		outc = OutcomeBack
	case catalog.NavMain:
		sess.CurrentNodeID = e.cat.Root().ID
		sess.History = nil
		outc = OutcomeMainMenu
	default:
		sess.Push(target)
		outc = OutcomeNavigated
	}
	return []Directive{e.render(sess)}, outc
}

// match resolves a payload against the current node's children: id first,
// then normalized label in the session language, then in the default language.
// Back and Main menu only match while they are on offer: Back with a
// non-empty history, Main menu away from the root.
func (e *Engine) match(sess *session.Session, payload string) (string, bool) {
	node := e.current(sess)
	backOK := len(sess.History) > 0
	mainOK := node.ID != e.cat.Root().ID

	id := strings.TrimSpace(payload)
	switch {
	case id == catalog.NavBack:
		return id, backOK
	case id == catalog.NavMain:
		return id, mainOK
	}
	if _, ok := node.Child(id); ok && id != "" {
		return id, true
	}

	key := catalog.Normalize(payload)
	if key == "" {
		return "", false
	}
	langs := []string{e.language(sess)}
	if d := e.cat.DefaultLanguage(); d != "" && d != langs[0] {
		langs = append(langs, d)
	}
	msgs := e.cat.Messages()
	for _, lang := range langs {
		for _, c := range node.Children {
			if catalog.Normalize(c.Label[lang]) == key {
				return c.ID, true
			}
		}
		if backOK && catalog.Normalize(msgs.Back[lang]) == key {
			return catalog.NavBack, true
		}
		if mainOK && catalog.Normalize(msgs.MainMenu[lang]) == key {
			return catalog.NavMain, true
		}
	}
	return "", false
}

func (e *Engine) idle(tx *session.Tx, ev Event, now time.Time) ([]Directive, Outcome) {
	sess := tx.Session()
	if sess.Stage != session.StageNavigating {
		return nil, OutcomeIgnored
	}
	if e.stale(sess, ev, now, e.cat.Timing().IdleWarning) {
		return nil, OutcomeStale
	}
	if sess.Warned {
		return nil, OutcomeAlreadyWarned
	}
	sess.Warned = true
	lang := e.language(sess)
	return []Directive{{
		UserID:       sess.UserID,
		Language:     lang,
		NodeID:       sess.CurrentNodeID,
		Text:         e.cat.Messages().IdleWarning.In(lang, e.cat.FallbackLanguage()),
		Presentation: PlainText,
	}}, OutcomeIdleWarning
}

func (e *Engine) expire(tx *session.Tx, ev Event, now time.Time) ([]Directive, Outcome) {
	sess := tx.Session()
	if sess.Stage != session.StageNavigating {
		return nil, OutcomeIgnored
	}
	if e.stale(sess, ev, now, e.cat.Timing().Expiry) {
		return nil, OutcomeStale
	}
	lang := e.language(sess)
	closed := Directive{
		UserID:       sess.UserID,
		Language:     lang,
		Text:         e.cat.Messages().SessionClosed.In(lang, e.cat.FallbackLanguage()),
		Presentation: PlainText,
	}
	tx.Reset()
	return []Directive{closed}, OutcomeExpired
}

// stale reports whether a timer tick belongs to an older epoch or arrives
// before the threshold has elapsed since the last human activity.
func (e *Engine) stale(sess *session.Session, ev Event, now time.Time, threshold time.Duration) bool {
	if ev.Epoch != 0 && ev.Epoch != sess.Epoch {
		return true
	}
	return now.Sub(sess.LastActivityAt) < threshold
}

func (e *Engine) language(sess *session.Session) string {
	if sess.Language != "" {
		return sess.Language
	}
	return e.cat.FallbackLanguage()
}

func (e *Engine) current(sess *session.Session) *catalog.Node {
	if n, ok := e.cat.Resolve(sess.CurrentNodeID); ok {
		return n
	}
	return e.cat.Root()
}

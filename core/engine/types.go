// Package engine is the conversation state machine. Every inbound event,
// human or timer generated, passes through Engine.Handle.
package engine

import (
	"context"
	"time"

	"github.com/m3rciful/menubot/core/session"
)

// EventKind classifies an inbound event.
type EventKind string

const (
	KindText      EventKind = "text"
	KindSelection EventKind = "selection"
	KindRestart   EventKind = "restart"
	KindIdle      EventKind = "idle"
	KindExpire    EventKind = "expire"
)

// Human reports whether the event originates from the user rather than the
// idle scheduler.
func (k EventKind) Human() bool {
	return k != KindIdle && k != KindExpire
}

// Event is a transport-neutral inbound event. Epoch is only set by the
// scheduler; zero means the tick is not tied to a session epoch.
type Event struct {
	UserID  string
	Kind    EventKind
	Payload string
	Epoch   uint64
}

// Presentation is the shape a transport should render.
type Presentation string

const (
	PlainText Presentation = "text"
	Buttons   Presentation = "buttons"
	List      Presentation = "list"
)

// Option is one selectable choice, already resolved to a language.
type Option struct {
	ID          string
	Label       string
	Description string
}

// Section groups list options under an optional title.
type Section struct {
	Title   string
	Options []Option
}

// Directive describes one message the transport must deliver.
type Directive struct {
	UserID       string
	Language     string
	NodeID       string
	Text         string
	Presentation Presentation
	Options      []Option
	Sections     []Section
	ListButton   string
}

// AllOptions flattens options of any presentation in display order.
func (d Directive) AllOptions() []Option {
	if d.Presentation != List {
		return d.Options
	}
	var out []Option
	for _, s := range d.Sections {
		out = append(out, s.Options...)
	}
	return out
}

// Outcome names what the engine did with an event.
type Outcome string

const (
	OutcomeOpening          Outcome = "opening"
	OutcomeLanguageSelected Outcome = "language_selected"
	OutcomeNavigated        Outcome = "navigated"
	OutcomeBack             Outcome = "back"
	OutcomeMainMenu         Outcome = "main_menu"
	OutcomeFallback         Outcome = "fallback"
	OutcomeRestart          Outcome = "restart"
	OutcomeChangeLanguage   Outcome = "change_language"
	OutcomeIdleWarning      Outcome = "idle_warning"
	OutcomeAlreadyWarned    Outcome = "already_warned"
	OutcomeExpired          Outcome = "expired"
	OutcomeStale            Outcome = "stale"
	OutcomeIgnored          Outcome = "ignored"
)

// Transition is reported to observers after each handled event.
type Transition struct {
	Event      Event
	Before     session.Session
	After      session.Session
	Directives []Directive
	Outcome    Outcome
	At         time.Time
}

// Observer receives transitions outside the user's session lock.
type Observer interface {
	Observe(ctx context.Context, tr Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, tr Transition)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, tr Transition) { f(ctx, tr) }

// Scheduler is the idle timer as seen by the engine.
type Scheduler interface {
	Touch(userID string, epoch uint64)
	Cancel(userID string)
}

type noopScheduler struct{}

func (noopScheduler) Touch(string, uint64) {}
func (noopScheduler) Cancel(string)        {}

// Package journal persists one row per handled event in Postgres.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/menubot/core/dispatch"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
)

const payloadLimit = 256

// Entry is one interaction_journal row.
type Entry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Transport   string    `db:"transport" json:"transport"`
	EventKind   string    `db:"event_kind" json:"event_kind"`
	Payload     string    `db:"payload" json:"payload"`
	StageBefore string    `db:"stage_before" json:"stage_before"`
	StageAfter  string    `db:"stage_after" json:"stage_after"`
	NodeBefore  string    `db:"node_before" json:"node_before"`
	NodeAfter   string    `db:"node_after" json:"node_after"`
	Language    string    `db:"language" json:"language"`
	Epoch       int64     `db:"epoch" json:"epoch"`
	Outcome     string    `db:"outcome" json:"outcome"`
	Directives  int       `db:"directives" json:"directives"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DB is the subset of *sqlx.DB the journal uses.
type DB interface {
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Enqueuer runs writes off the engine's path.
type Enqueuer interface {
	Enqueue(ctx context.Context, action, endpoint string, run dispatch.Func) error
}

const insertEntry = `
INSERT INTO interaction_journal (
	id, user_id, transport, event_kind, payload, stage_before, stage_after,
	node_before, node_after, language, epoch, outcome, directives, created_at
) VALUES (
	:id, :user_id, :transport, :event_kind, :payload, :stage_before, :stage_after,
	:node_before, :node_after, :language, :epoch, :outcome, :directives, :created_at
)`

const selectRecent = `
SELECT id, user_id, transport, event_kind, payload, stage_before, stage_after,
	node_before, node_after, language, epoch, outcome, directives, created_at
FROM interaction_journal
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

// Journal records engine transitions. It implements engine.Observer.
type Journal struct {
	db     DB
	queue  Enqueuer
	newID  func() uuid.UUID
	onDrop func(err error)
}

// Option configures a Journal.
type Option func(*Journal)

// WithOnDrop registers fn to be called when the queue refuses a write.
func WithOnDrop(fn func(err error)) Option {
	return func(j *Journal) { j.onDrop = fn }
}

// New builds a journal writing through queue into db.
func New(db DB, queue Enqueuer, opts ...Option) *Journal {
	j := &Journal{db: db, queue: queue, newID: uuid.New}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// EntryFrom converts a transition into a row. Payloads are sanitized and truncated.
func EntryFrom(ctx context.Context, id uuid.UUID, tr engine.Transition) Entry {
	return Entry{
		ID:          id,
		UserID:      tr.Event.UserID,
		Transport:   logger.TransportFrom(ctx),
		EventKind:   string(tr.Event.Kind),
		Payload:     logger.SanitizeLimit(tr.Event.Payload, payloadLimit),
		StageBefore: string(tr.Before.Stage),
		StageAfter:  string(tr.After.Stage),
		NodeBefore:  tr.Before.CurrentNodeID,
		NodeAfter:   tr.After.CurrentNodeID,
		Language:    tr.After.Language,
		Epoch:       int64(tr.After.Epoch),
		Outcome:     string(tr.Outcome),
		Directives:  len(tr.Directives),
		CreatedAt:   tr.At.UTC(),
	}
}

// Observe enqueues an insert for tr. It never blocks the engine.
func (j *Journal) Observe(ctx context.Context, tr engine.Transition) {
	e := EntryFrom(ctx, j.newID(), tr)
	err := j.queue.Enqueue(ctx, "journal.insert", "interaction_journal", func(ctx context.Context) error {
		return j.Insert(ctx, e)
	})
	if err != nil {
		logger.Warn(ctx, "journal", "journal.drop",
			slog.String("status", "error"),
			slog.String("user_id", e.UserID),
			slog.String("outcome", e.Outcome),
			slog.String("err", err.Error()),
		)
		if j.onDrop != nil {
			j.onDrop(err)
		}
	}
}

// Insert writes e synchronously.
func (j *Journal) Insert(ctx context.Context, e Entry) error {
	if _, err := j.db.NamedExecContext(ctx, insertEntry, e); err != nil {
		return fmt.Errorf("journal: insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries for userID, newest first.
func (j *Journal) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Entry
	if err := j.db.SelectContext(ctx, &out, selectRecent, userID, limit); err != nil {
		return nil, fmt.Errorf("journal: recent for %s: %w", userID, err)
	}
	return out, nil
}

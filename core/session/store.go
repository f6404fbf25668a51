package session

import (
	"sync"

	"github.com/m3rciful/menubot/core/clock"
)

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// Store holds sessions keyed by user id. The store mutex only guards the
// map; each user has its own lock, so users never wait on each other.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	root     string
	clock    clock.Clock
	canceler Canceler
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for CreatedAt and the initial activity stamp.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithCanceler sets the timer canceller invoked on every reset.
func WithCanceler(c Canceler) Option {
	return func(s *Store) { s.canceler = c }
}

// NewStore creates an empty store whose fresh sessions point at root.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		root:    root,
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{}
		s.entries[userID] = e
	}
	return e
}

func (s *Store) fresh(userID string, epoch uint64) *Session {
	now := s.clock.Now()
	return &Session{
		UserID:         userID,
		Stage:          StageInit,
		CurrentNodeID:  s.root,
		LastActivityAt: now,
		Epoch:          epoch,
		CreatedAt:      now,
	}
}

// Tx is the exclusive view of one session inside Update.
type Tx struct {
	store *Store
	sess  *Session
	reset bool
}

// Session returns the mutable record. The pointer changes after Reset.
func (tx *Tx) Session() *Session { return tx.sess }

// Reset replaces the record with a fresh Init session of the next epoch and
// cancels the user's timer.
func (tx *Tx) Reset() {
	prev := tx.sess
	prev.Stage = StageExpired
	tx.sess = tx.store.fresh(prev.UserID, prev.Epoch+1)
	tx.reset = true
	if tx.store.canceler != nil {
		tx.store.canceler.Cancel(prev.UserID)
	}
}

// WasReset reports whether Reset was called during this transaction.
func (tx *Tx) WasReset() bool { return tx.reset }

// Update runs fn with exclusive access to the user's session, creating it
// first if needed. fn must not call back into the store for the same user.
func (s *Store) Update(userID string, fn func(tx *Tx)) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		e.sess = s.fresh(userID, 1)
	}
	tx := &Tx{store: s, sess: e.sess}
	fn(tx)
	e.sess = tx.sess
}

// GetOrCreate returns a copy of the user's session, creating it lazily.
func (s *Store) GetOrCreate(userID string) Session {
	var out Session
	s.Update(userID, func(tx *Tx) { out = tx.Session().Clone() })
	return out
}

// Get returns a copy of the session without creating one.
func (s *Store) Get(userID string) (Session, bool) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return Session{}, false
	}
	return e.sess.Clone(), true
}

// Reset replaces the user's session with a fresh Init record.
func (s *Store) Reset(userID string) {
	s.Update(userID, func(tx *Tx) { tx.Reset() })
}

// Len returns the number of known users. Sessions are never evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

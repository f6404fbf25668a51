// Package session keeps per-user conversation records and serializes every
// read-modify-write for a single user.
package session

import (
	"slices"
	"time"
)

// Stage identifies the coarse phase of a conversation.
type Stage string

const (
	// StageInit means no language has been chosen yet.
	StageInit Stage = "init"
	// StageAwaitingLanguage is never assigned. A session waiting for its
	// language stays in StageInit.
	StageAwaitingLanguage Stage = "awaiting_language"
	// StageNavigating means the user is browsing the menu tree.
	StageNavigating Stage = "navigating"
	// StageExpired is only observed while a session is being reset.
	StageExpired Stage = "expired"
)

// Session is the mutable conversation record of one user.
type Session struct {
	UserID         string
	Stage          Stage
	Language       string
	CurrentNodeID  string
	History        []string
	LastActivityAt time.Time
	Warned         bool
	Epoch          uint64
	CreatedAt      time.Time
}

// Clone returns a deep copy safe to hand out of the store.
func (s Session) Clone() Session {
	s.History = slices.Clone(s.History)
	return s
}

// Push records the current node before moving to next.
func (s *Session) Push(next string) {
	s.History = append(s.History, s.CurrentNodeID)
	s.CurrentNodeID = next
}

// Pop removes and returns the most recently visited node.
func (s *Session) Pop() (string, bool) {
	if len(s.History) == 0 {
		return "", false
	}
	last := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	return last, true
}

// Canceler stops whatever timer is scheduled for a user.
type Canceler interface {
	Cancel(userID string)
}

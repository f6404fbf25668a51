package session

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/menubot/core/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCanceler struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingCanceler) Cancel(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID)
}

func TestGetOrCreateInitializesLazily(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore("root", WithClock(clock.NewManual(start)))

	_, ok := s.Get("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	got := s.GetOrCreate("u1")
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, StageInit, got.Stage)
	assert.Equal(t, "root", got.CurrentNodeID)
	assert.Empty(t, got.Language)
	assert.Equal(t, start, got.CreatedAt)
	assert.Equal(t, uint64(1), got.Epoch)
	assert.Equal(t, 1, s.Len())
}

func TestSnapshotsAreDetached(t *testing.T) {
	s := NewStore("root")
	s.Update("u1", func(tx *Tx) {
		tx.Session().Push("a")
	})

	snap := s.GetOrCreate("u1")
	snap.History[0] = "mutated"
	snap.CurrentNodeID = "mutated"

	again, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, []string{"root"}, again.History)
	assert.Equal(t, "a", again.CurrentNodeID)
}

func TestResetBumpsEpochAndCancelsTimer(t *testing.T) {
	c := &recordingCanceler{}
	s := NewStore("root", WithCanceler(c))
	s.Update("u1", func(tx *Tx) {
		sess := tx.Session()
		sess.Stage = StageNavigating
		sess.Language = "en"
		sess.Push("departments")
		sess.Warned = true
	})

	var old *Session
	s.Update("u1", func(tx *Tx) {
		old = tx.Session()
		tx.Reset()
		assert.True(t, tx.WasReset())
		assert.NotSame(t, old, tx.Session())
	})
	assert.Equal(t, StageExpired, old.Stage)

	got := s.GetOrCreate("u1")
	assert.Equal(t, StageInit, got.Stage)
	assert.Equal(t, uint64(2), got.Epoch)
	assert.Empty(t, got.Language)
	assert.Empty(t, got.History)
	assert.False(t, got.Warned)
	assert.Equal(t, "root", got.CurrentNodeID)

	s.Reset("u1")
	assert.Equal(t, uint64(3), s.GetOrCreate("u1").Epoch)
	assert.Equal(t, []string{"u1", "u1"}, c.calls)
}

func TestPopOnEmptyHistory(t *testing.T) {
	var sess Session
	_, ok := sess.Pop()
	assert.False(t, ok)

	sess.CurrentNodeID = "a"
	sess.Push("b")
	sess.Push("c")
	prev, ok := sess.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", prev)
	assert.Equal(t, []string{"a"}, sess.History)
}

func TestUpdateSerializesPerUser(t *testing.T) {
	s := NewStore("root")
	const workers, rounds = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				s.Update("shared", func(tx *Tx) {
					sess := tx.Session()
					sess.History = append(sess.History, "x")
				})
			}
		}()
	}
	wg.Wait()

	got := s.GetOrCreate("shared")
	assert.Len(t, got.History, workers*rounds)
}

func TestUsersDoNotBlockEachOther(t *testing.T) {
	s := NewStore("root")
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		s.Update("slow", func(*Tx) {
			close(entered)
			<-release
		})
	}()
	<-entered

	go func() {
		for i := 0; i < 10; i++ {
			s.GetOrCreate("user-" + strconv.Itoa(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("other users blocked behind a held session lock")
	}
	close(release)
	assert.Equal(t, 11, s.Len())
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual(epoch)
	var got []string
	m.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	m.AfterFunc(time.Second, func() { got = append(got, "a") })
	m.AfterFunc(time.Second, func() { got = append(got, "b") })

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, epoch.Add(2*time.Second), m.Now())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, m.Pending())
}

func TestManualChainedCallbacks(t *testing.T) {
	m := NewManual(epoch)
	var at []time.Time
	m.AfterFunc(time.Minute, func() {
		at = append(at, m.Now())
		m.AfterFunc(time.Minute, func() { at = append(at, m.Now()) })
	})

	m.Advance(5 * time.Minute)
	require.Len(t, at, 2)
	assert.Equal(t, epoch.Add(time.Minute), at[0])
	assert.Equal(t, epoch.Add(2*time.Minute), at[1])
	assert.Equal(t, epoch.Add(5*time.Minute), m.Now())
}

func TestManualStop(t *testing.T) {
	m := NewManual(epoch)
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	m.Advance(time.Hour)
	assert.False(t, fired)

	tm = m.AfterFunc(time.Second, func() {})
	m.Advance(time.Second)
	assert.False(t, tm.Stop())
}

func TestRealClockFires(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, time.UTC, Real().Now().Location())
}

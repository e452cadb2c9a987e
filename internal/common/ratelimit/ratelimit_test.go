package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(time.Minute, 3)

	assert.True(t, l.Allow("admin-1"))
	assert.True(t, l.Allow("admin-1"))
	assert.True(t, l.Allow("admin-1"))
	assert.False(t, l.Allow("admin-1"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(time.Minute, 1)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestWindowExpiry(t *testing.T) {
	now := time.Now()
	l := New(time.Minute, 2)
	l.nowFunc = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	// Advance past the window; the old events fall out.
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("a"))
}

func TestIdleKeysAreSwept(t *testing.T) {
	now := time.Now()
	l := New(time.Minute, 2)
	l.nowFunc = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	// Two windows later, the next call sweeps the idle key out of the map
	// entirely instead of keeping an empty slice around.
	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("b"))

	l.mu.Lock()
	_, stale := l.events["a"]
	l.mu.Unlock()
	assert.False(t, stale)
}

func TestRemaining(t *testing.T) {
	l := New(time.Minute, 5)

	assert.Equal(t, 5, l.Remaining("a"))
	l.Allow("a")
	l.Allow("a")
	assert.Equal(t, 3, l.Remaining("a"))
}

func TestReset(t *testing.T) {
	l := New(time.Minute, 1)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	l.Reset("a")
	assert.True(t, l.Allow("a"))
}

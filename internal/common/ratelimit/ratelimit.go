// Package ratelimit provides a rolling-window rate limiter keyed by caller.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces at most Max events per Window per key. It keeps the
// timestamps of recent events and prunes them lazily on each check.
type Limiter struct {
	window time.Duration
	max    int

	mu        sync.Mutex
	events    map[string][]time.Time
	lastSweep time.Time
	nowFunc   func() time.Time
}

// New creates a Limiter with the given rolling window and maximum count.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:    window,
		max:       max,
		events:    make(map[string][]time.Time),
		lastSweep: time.Now(),
		nowFunc:   time.Now,
	}
}

// Allow records an event for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	if now.Sub(l.lastSweep) > l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	recent := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.events[key] = recent
		return false
	}

	l.events[key] = append(recent, now)
	return true
}

// Remaining returns how many events key may still send in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.nowFunc().Add(-l.window)
	count := 0
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= l.max {
		return 0
	}
	return l.max - count
}

// Reset clears recorded events for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, key)
}

// sweep drops keys whose events have all left the window. Session ids churn
// constantly; without this the map would pin an entry per session forever.
func (l *Limiter) sweep(cutoff time.Time) {
	for key, times := range l.events {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.events, key)
		}
	}
}

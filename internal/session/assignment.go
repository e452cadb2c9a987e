// Package session caches per-session routing state so the hot path of every
// user message does not hit the store.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/relaydesk/relaydesk/internal/store"
)

// Assignment is the routing-relevant slice of a session's state.
type Assignment struct {
	AgentID  string
	AIPaused bool
}

// Assigned reports whether a human owns the conversation. An assignment
// always implies paused AI.
func (a Assignment) Assigned() bool {
	return a.AgentID != "" || a.AIPaused
}

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 10 * time.Minute
)

// Cache resolves session assignments, consulting an expirable LRU before the
// store. Entries are written only after the store commit succeeds, so the
// cache can lag the store but never lead it.
type Cache struct {
	lru   *expirable.LRU[string, Assignment]
	group singleflight.Group
	store store.Gateway
}

// NewCache creates an assignment cache over the given store.
func NewCache(st store.Gateway) *Cache {
	return &Cache{
		lru:   expirable.NewLRU[string, Assignment](defaultCacheSize, nil, defaultCacheTTL),
		store: st,
	}
}

// Resolve returns the session's assignment. A cached positive assignment is
// authoritative until it expires; everything else re-reads the store and
// applies the userMeta merge rule. Concurrent misses for one session
// collapse into a single store read.
func (c *Cache) Resolve(ctx context.Context, sessionID string) (Assignment, error) {
	if a, ok := c.lru.Get(sessionID); ok {
		return a, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		sess, err := c.store.GetSession(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return Assignment{}, nil
		}
		if err != nil {
			return Assignment{}, err
		}

		agentID, aiPaused := sess.EffectiveAssignment()
		a := Assignment{AgentID: agentID, AIPaused: aiPaused}
		if a.Assigned() {
			c.lru.Add(sessionID, a)
		}
		return a, nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return v.(Assignment), nil
}

// Put records an assignment after its store write committed.
func (c *Cache) Put(sessionID string, a Assignment) {
	if a.Assigned() {
		c.lru.Add(sessionID, a)
		return
	}
	c.lru.Remove(sessionID)
}

// Clear drops the session's cached assignment. Called when the conversation
// closes.
func (c *Cache) Clear(sessionID string) {
	c.lru.Remove(sessionID)
}

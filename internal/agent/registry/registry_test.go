package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

// fakeConn records frames and close calls.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []*protocol.Frame
	closed bool
	full   bool
}

func (c *fakeConn) Send(frame *protocol.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) lastEvent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return ""
	}
	return c.frames[len(c.frames)-1].Event
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestRegistry() *Registry {
	return New(nil, logger.Default())
}

func TestBindAndSend(t *testing.T) {
	r := newTestRegistry()
	conn := &fakeConn{id: "c-1"}

	r.Bind(context.Background(), "a-1", conn)
	assert.True(t, r.Present("a-1"))
	assert.False(t, r.Present("a-2"))

	ok := r.Send("a-1", protocol.MustFrame("test_event", nil))
	require.True(t, ok)
	assert.Equal(t, "test_event", conn.lastEvent())
}

func TestSendOfflineAgent(t *testing.T) {
	r := newTestRegistry()
	assert.False(t, r.Send("a-1", protocol.MustFrame("test_event", nil)))
}

func TestSendFullBuffer(t *testing.T) {
	r := newTestRegistry()
	conn := &fakeConn{id: "c-1", full: true}
	r.Bind(context.Background(), "a-1", conn)

	assert.False(t, r.Send("a-1", protocol.MustFrame("test_event", nil)))
}

func TestBindSupersedesPreviousConnection(t *testing.T) {
	r := newTestRegistry()
	old := &fakeConn{id: "c-1"}
	replacement := &fakeConn{id: "c-2"}

	r.Bind(context.Background(), "a-1", old)
	r.Bind(context.Background(), "a-1", replacement)

	// The old connection is told why and closed; the new one owns the agent.
	assert.Equal(t, protocol.EventAgentSuperseded, old.lastEvent())
	assert.True(t, old.isClosed())
	assert.False(t, replacement.isClosed())

	require.True(t, r.Send("a-1", protocol.MustFrame("test_event", nil)))
	assert.Equal(t, "test_event", replacement.lastEvent())
}

func TestRebindSameConnectionIsQuiet(t *testing.T) {
	r := newTestRegistry()
	conn := &fakeConn{id: "c-1"}

	r.Bind(context.Background(), "a-1", conn)
	r.Bind(context.Background(), "a-1", conn)

	assert.False(t, conn.isClosed())
	assert.NotEqual(t, protocol.EventAgentSuperseded, conn.lastEvent())
}

func TestUnbind(t *testing.T) {
	r := newTestRegistry()
	conn := &fakeConn{id: "c-1"}

	r.Bind(context.Background(), "a-1", conn)
	r.Unbind(context.Background(), "a-1", conn)
	assert.False(t, r.Present("a-1"))
}

func TestStaleUnbindKeepsSuccessor(t *testing.T) {
	r := newTestRegistry()
	old := &fakeConn{id: "c-1"}
	replacement := &fakeConn{id: "c-2"}

	r.Bind(context.Background(), "a-1", old)
	r.Bind(context.Background(), "a-1", replacement)

	// The superseded connection's disconnect arrives after the new binding.
	r.Unbind(context.Background(), "a-1", old)
	assert.True(t, r.Present("a-1"))

	r.Unbind(context.Background(), "a-1", replacement)
	assert.False(t, r.Present("a-1"))
}

func TestAgents(t *testing.T) {
	r := newTestRegistry()
	assert.Empty(t, r.Agents())

	r.Bind(context.Background(), "a-1", &fakeConn{id: "c-1"})
	r.Bind(context.Background(), "a-2", &fakeConn{id: "c-2"})

	assert.ElementsMatch(t, []string{"a-1", "a-2"}, r.Agents())
}

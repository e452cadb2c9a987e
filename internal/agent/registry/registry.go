// Package registry tracks which human agents are connected right now and
// owns the single-connection-per-agent rule.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

// Conn is the live delivery handle bound to an agent. The socket layer
// implements it.
type Conn interface {
	// Send enqueues a frame; false means the connection is gone or its
	// buffer is full.
	Send(frame *protocol.Frame) bool
	// Close tears the connection down.
	Close()
	// ID identifies the underlying connection, not the agent.
	ID() string
}

// Registry is the in-memory map of online agents. Bindings are ephemeral;
// a restart empties the registry and agents re-authenticate.
type Registry struct {
	mu      sync.RWMutex
	byAgent map[string]Conn

	eventBus bus.EventBus
	logger   *logger.Logger
}

// New creates an empty registry.
func New(eventBus bus.EventBus, log *logger.Logger) *Registry {
	return &Registry{
		byAgent:  make(map[string]Conn),
		eventBus: eventBus,
		logger:   log,
	}
}

// Bind records conn as the agent's live handle. If the agent already has a
// binding, the old connection is told it was superseded and closed; the
// newest authentication always wins.
func (r *Registry) Bind(ctx context.Context, agentID string, conn Conn) {
	r.mu.Lock()
	prev := r.byAgent[agentID]
	r.byAgent[agentID] = conn
	r.mu.Unlock()

	if prev != nil && prev.ID() != conn.ID() {
		prev.Send(protocol.MustFrame(protocol.EventAgentSuperseded, map[string]string{
			"reason": "authenticated from another connection",
		}))
		prev.Close()
		r.logger.Info("agent connection superseded",
			zap.String("agent_id", agentID),
			zap.String("old_conn", prev.ID()),
			zap.String("new_conn", conn.ID()),
		)
	}

	r.publishPresence(ctx, agentID, events.TypeAgentOnline)
}

// Unbind removes the binding, but only if conn is still the current one.
// A superseded connection unbinding late must not evict its successor.
func (r *Registry) Unbind(ctx context.Context, agentID string, conn Conn) {
	r.mu.Lock()
	current, ok := r.byAgent[agentID]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		return
	}
	delete(r.byAgent, agentID)
	r.mu.Unlock()

	r.publishPresence(ctx, agentID, events.TypeAgentOffline)
}

// Send delivers a frame to the agent's live connection. False means the
// agent is offline or unreachable.
func (r *Registry) Send(agentID string, frame *protocol.Frame) bool {
	r.mu.RLock()
	conn, ok := r.byAgent[agentID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return conn.Send(frame)
}

// Present reports whether the agent has a live connection.
func (r *Registry) Present(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAgent[agentID]
	return ok
}

// Agents returns the ids of all currently bound agents.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byAgent))
	for id := range r.byAgent {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) publishPresence(ctx context.Context, agentID, eventType string) {
	if r.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "agent-registry", map[string]interface{}{"agentId": agentID})
	if err := r.eventBus.Publish(ctx, events.SubjectAgentPresence, evt); err != nil {
		r.logger.Warn("failed to publish agent presence",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
	}
}

// Package websocket is the chat socket gateway: one bidirectional JSON frame
// channel per client, grouped into session rooms plus an admin feed.
package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

// Hub manages all socket connections and their room memberships. Room state
// is only ever mutated here.
type Hub struct {
	clients map[*Client]bool

	// rooms maps sessionID to the sockets observing that conversation:
	// the visitor, any taken-over agent, and overhearing admin widgets.
	rooms map[string]map[*Client]bool

	// adminFeed receives notifications and live-visitor updates.
	adminFeed map[*Client]bool

	// visitors is the in-memory live-visitors snapshot, keyed by client id.
	visitors map[string]protocol.LiveVisitor

	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		adminFeed:  make(map[*Client]bool),
		visitors:   make(map[string]protocol.LiveVisitor),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes client lifecycle until the context ends.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID()))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.adminFeed = make(map[*Client]bool)
	h.visitors = make(map[string]protocol.LiveVisitor)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
		delete(h.adminFeed, client)

		for sessionID := range client.sessions {
			if room, ok := h.rooms[sessionID]; ok {
				delete(room, client)
				if len(room) == 0 {
					delete(h.rooms, sessionID)
				}
			}
		}
	}
	_, wasVisitor := h.visitors[client.ID()]
	delete(h.visitors, client.ID())
	h.mu.Unlock()

	if ok {
		h.logger.Debug("Client unregistered", zap.String("client_id", client.ID()))
	}
	if wasVisitor {
		h.broadcastVisitors()
	}
}

// JoinSession adds the client to a session room.
func (h *Hub) JoinSession(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[sessionID]; !ok {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][client] = true
	client.sessions[sessionID] = true

	h.logger.Debug("Client joined session room",
		zap.String("client_id", client.ID()),
		zap.String("session_id", sessionID))
}

// InSession reports whether the client already joined the session room.
func (h *Hub) InSession(client *Client, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.sessions[sessionID]
}

// JoinAdminFeed adds the client to the admin feed room.
func (h *Hub) JoinAdminFeed(client *Client) {
	h.mu.Lock()
	h.adminFeed[client] = true
	h.mu.Unlock()

	// New feed members get the current snapshot immediately.
	client.Send(h.visitorsFrame())
}

// BroadcastToSession delivers a frame to every socket in the session room.
func (h *Hub) BroadcastToSession(sessionID string, frame *protocol.Frame) {
	h.mu.RLock()
	room := h.rooms[sessionID]
	targets := make([]*Client, 0, len(room))
	for client := range room {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Send(frame)
	}
}

// BroadcastToAdmins delivers a frame to every admin feed member.
func (h *Hub) BroadcastToAdmins(frame *protocol.Frame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.adminFeed))
	for client := range h.adminFeed {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Send(frame)
	}
}

// TrackVisitor records the client in the live-visitors snapshot and pushes
// the update to the admin feed.
func (h *Hub) TrackVisitor(client *Client, v protocol.LiveVisitor) {
	if v.Since == "" {
		v.Since = time.Now().UTC().Format(time.RFC3339)
	}

	h.mu.Lock()
	h.visitors[client.ID()] = v
	h.mu.Unlock()

	h.broadcastVisitors()
}

// LiveVisitors returns the current snapshot.
func (h *Hub) LiveVisitors() []protocol.LiveVisitor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := make([]protocol.LiveVisitor, 0, len(h.visitors))
	for _, v := range h.visitors {
		snapshot = append(snapshot, v)
	}
	return snapshot
}

func (h *Hub) visitorsFrame() *protocol.Frame {
	return protocol.MustFrame(protocol.EventLiveVisitors, h.LiveVisitors())
}

func (h *Hub) broadcastVisitors() {
	h.BroadcastToAdmins(h.visitorsFrame())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AttachBus subscribes the hub to the chat subjects so notifications
// produced anywhere (this node or a peer, over NATS) reach this node's admin
// feed.
func (h *Hub) AttachBus(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe(events.SubjectChatAll, func(ctx context.Context, evt *bus.Event) error {
		sessionID, _ := evt.Data["sessionId"].(string)
		content, _ := evt.Data["content"].(string)

		h.BroadcastToAdmins(protocol.MustFrame(protocol.EventNewNotification, protocol.NotificationData{
			Type:      evt.Type,
			Content:   content,
			SessionID: sessionID,
			CreatedAt: evt.Timestamp.UTC().Format(time.RFC3339),
		}))
		return nil
	})
}

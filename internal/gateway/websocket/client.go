package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB
)

// Client is a single socket connection: a visitor widget, an agent console,
// or an admin dashboard. The role is decided by the frames it sends.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	router *Router
	send   chan []byte

	// sessions holds the session rooms this client joined. Mutated only by
	// the hub under its lock.
	sessions map[string]bool

	mu        sync.RWMutex
	principal *auth.Principal
	agentID   string

	logger *logger.Logger
}

// NewClient creates a socket client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, router *Router, log *logger.Logger) *Client {
	return &Client{
		id:       id,
		conn:     conn,
		hub:      hub,
		router:   router,
		send:     make(chan []byte, 256),
		sessions: make(map[string]bool),
		logger:   log.WithFields(zap.String("client_id", id)),
	}
}

// ID identifies the connection. Satisfies registry.Conn.
func (c *Client) ID() string {
	return c.id
}

// Close tears down the connection. Satisfies registry.Conn.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// Send enqueues a frame for the write pump. False means the buffer is full
// or the client already left; the write pump will clean up.
func (c *Client) Send(frame *protocol.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("Failed to marshal frame", zap.Error(err))
		return false
	}

	defer func() {
		// Losing the race against hub shutdown closing the channel is fine.
		_ = recover()
	}()

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Client send buffer full", zap.String("event", frame.Event))
		return false
	}
}

// SendError emits a structured error frame instead of crashing the socket.
func (c *Client) SendError(event, code, message string) {
	c.Send(protocol.NewErrorFrame(event, code, message))
}

// setAgent records the authenticated identity.
func (c *Client) setAgent(agentID string, principal *auth.Principal) {
	c.mu.Lock()
	c.agentID = agentID
	c.principal = principal
	c.mu.Unlock()
}

// Agent returns the authenticated identity, if any.
func (c *Client) Agent() (string, *auth.Principal) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID, c.principal
}

// ReadPump pumps frames from the socket into the router.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.router.onDisconnect(context.WithoutCancel(ctx), c)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var frame protocol.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Error("Failed to parse frame", zap.Error(err))
			c.SendError(protocol.EventSessionError, protocol.ErrCodeBadRequest, "invalid frame format")
			continue
		}

		c.router.Dispatch(ctx, c, &frame)
	}
}

// WritePump pumps queued frames to the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain additional queued frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sessionEmitter adapts one client to the routing engine's Emitter.
type sessionEmitter struct {
	hub    *Hub
	source *Client
}

func (e *sessionEmitter) EmitToSession(sessionID string, frame *protocol.Frame) {
	e.hub.BroadcastToSession(sessionID, frame)
}

func (e *sessionEmitter) EmitToSource(frame *protocol.Frame) {
	e.source.Send(frame)
}

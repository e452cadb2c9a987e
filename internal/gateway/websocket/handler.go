package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The widget is embedded on arbitrary customer pages.
		return true
	},
}

// Handler upgrades HTTP requests to chat socket connections.
type Handler struct {
	hub    *Hub
	router *Router
	logger *logger.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, router *Router, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		router: router,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades the request and runs the client pumps. Identity
// is established in-band: visitors stay anonymous, agents send agent_auth.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(clientID, conn, h.hub, h.router, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

// RegisterRoutes mounts the socket endpoint and the health check.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleConnection)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "relaydesk",
			"clients": h.hub.ClientCount(),
		})
	})
}

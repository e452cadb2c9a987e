package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/common/config"
	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/common/ratelimit"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	"github.com/relaydesk/relaydesk/internal/responder"
	"github.com/relaydesk/relaydesk/internal/routing"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
	"github.com/relaydesk/relaydesk/pkg/protocol"

	"github.com/relaydesk/relaydesk/internal/agent/registry"
)

// closeCommand is the built-in agent command that ends a conversation.
const closeCommand = "/close"

// Router dispatches inbound frames to their handlers. Every handler
// validates payload shape, enforces auth where required, and answers
// collaborator failures with a structured error frame.
type Router struct {
	hub      *Hub
	store    store.Gateway
	cache    *session.Cache
	registry *registry.Registry
	engine   *routing.Engine
	auth     *auth.Authenticator
	matcher  *responder.Matcher
	eventBus bus.EventBus
	limiter  *ratelimit.Limiter
	chat     config.ChatConfig
	logger   *logger.Logger
}

// NewRouter wires the frame handlers. SetHub must be called before serving.
func NewRouter(
	st store.Gateway,
	cache *session.Cache,
	reg *registry.Registry,
	engine *routing.Engine,
	authenticator *auth.Authenticator,
	matcher *responder.Matcher,
	eventBus bus.EventBus,
	limiter *ratelimit.Limiter,
	chat config.ChatConfig,
	log *logger.Logger,
) *Router {
	return &Router{
		store:    st,
		cache:    cache,
		registry: reg,
		engine:   engine,
		auth:     authenticator,
		matcher:  matcher,
		eventBus: eventBus,
		limiter:  limiter,
		chat:     chat,
		logger:   log.WithFields(zap.String("component", "ws_router")),
	}
}

// SetHub attaches the hub the router emits through.
func (r *Router) SetHub(hub *Hub) {
	r.hub = hub
}

// Dispatch routes one inbound frame.
func (r *Router) Dispatch(ctx context.Context, c *Client, frame *protocol.Frame) {
	r.logger.Debug("Received frame",
		zap.String("client_id", c.ID()),
		zap.String("event", frame.Event))

	switch frame.Event {
	case protocol.EventStartSession:
		r.handleStartSession(ctx, c, frame)
	case protocol.EventUserMessage:
		r.handleUserMessage(ctx, c, frame)
	case protocol.EventTypingStart:
		r.handleTyping(c, frame, true)
	case protocol.EventTypingStop:
		r.handleTyping(c, frame, false)
	case protocol.EventRequestAgent:
		r.handleRequestAgent(ctx, c, frame)
	case protocol.EventVisitorJoin:
		r.handleVisitorJoin(ctx, c, frame)
	case protocol.EventJoinSession:
		r.handleJoinSession(c, frame)
	case protocol.EventJoinAdmin:
		r.handleJoinAdminFeed(c)
	case protocol.EventAgentAuth:
		r.handleAgentAuth(ctx, c, frame)
	case protocol.EventAgentTakeover:
		r.handleAgentTakeover(ctx, c, frame)
	case protocol.EventAgentMessage:
		r.handleAgentMessage(ctx, c, frame)
	default:
		c.SendError(protocol.EventSessionError, protocol.ErrCodeBadRequest,
			"unknown event: "+frame.Event)
	}
}

// onDisconnect releases identity bound to the connection.
func (r *Router) onDisconnect(ctx context.Context, c *Client) {
	if agentID, _ := c.Agent(); agentID != "" {
		r.registry.Unbind(ctx, agentID, c)
	}
}

// handleStartSession ensures the session, joins its room and greets new
// conversations with the welcome message.
func (r *Router) handleStartSession(ctx context.Context, c *Client, frame *protocol.Frame) {
	var data protocol.StartSessionData
	if err := frame.ParseData(&data); err != nil {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeBadRequest, "invalid start_session payload")
		return
	}

	sessionID := data.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// Newness is decided by the store write itself, so two concurrent
	// start_session frames for one id greet at most once.
	_, created, err := r.store.EnsureSession(ctx, sessionID, data.UserMeta)
	if err != nil {
		r.logger.Error("failed to ensure session", zap.String("session_id", sessionID), zap.Error(err))
		c.SendError(protocol.EventSessionError, protocol.ErrCodeInternal, "session is temporarily unavailable")
		return
	}

	r.hub.JoinSession(c, sessionID)
	c.Send(protocol.MustFrame(protocol.EventSessionStarted, protocol.SessionStartedData{SessionID: sessionID}))

	if !created {
		return
	}

	// The welcome turn is part of the transcript but is not an AI decision,
	// so it carries no accuracy record.
	if _, err := r.store.AppendMessage(ctx, store.AppendMessageParams{
		SessionID: sessionID,
		Sender:    store.SenderBot,
		Text:      r.chat.WelcomeMessage,
	}); err != nil {
		r.logger.Warn("failed to persist welcome message",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	c.Send(protocol.MustFrame(protocol.EventBotMessage, protocol.BotMessageData{
		SessionID: sessionID,
		Text:      r.chat.WelcomeMessage,
	}))

	r.publish(ctx, events.SubjectSessionStarted, events.TypeSessionStarted, map[string]interface{}{
		"sessionId": sessionID,
		"content":   "new conversation started",
	})
}

func (r *Router) handleUserMessage(ctx context.Context, c *Client, frame *protocol.Frame) {
	var data protocol.UserMessageData
	if err := frame.ParseData(&data); err != nil {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeBadRequest, "invalid user_message payload")
		return
	}

	// The sender may message before joining; membership follows the message.
	if data.SessionID != "" && !r.hub.InSession(c, data.SessionID) {
		r.hub.JoinSession(c, data.SessionID)
	}
	r.engine.HandleUserMessage(ctx, data.SessionID, data.Text, &sessionEmitter{hub: r.hub, source: c})
}

func (r *Router) handleTyping(c *Client, frame *protocol.Frame, isTyping bool) {
	var data protocol.TypingData
	if err := frame.ParseData(&data); err != nil || data.SessionID == "" {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeValidation, "sessionId is required")
		return
	}

	user := data.User
	if user == "" {
		user = store.SenderUser
	}
	r.hub.BroadcastToSession(data.SessionID, protocol.MustFrame(protocol.EventDisplayTyping, protocol.DisplayTypingData{
		SessionID: data.SessionID,
		User:      user,
		IsTyping:  isTyping,
	}))
}

func (r *Router) handleRequestAgent(ctx context.Context, c *Client, frame *protocol.Frame) {
	var data protocol.RequestAgentData
	if err := frame.ParseData(&data); err != nil {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeBadRequest, "invalid request_agent payload")
		return
	}

	// Repeated escalation requests on one session are throttled so a stuck
	// widget cannot flood the admin feed.
	if r.limiter != nil && !r.limiter.Allow("request_agent:"+data.SessionID) {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeRateLimited,
			"an agent has already been requested; please wait")
		return
	}
	r.engine.HandleRequestAgent(ctx, data.SessionID, &sessionEmitter{hub: r.hub, source: c})
}

func (r *Router) handleVisitorJoin(ctx context.Context, c *Client, frame *protocol.Frame) {
	var data protocol.VisitorJoinData
	if err := frame.ParseData(&data); err != nil {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeBadRequest, "invalid visitor_join payload")
		return
	}

	r.hub.TrackVisitor(c, protocol.LiveVisitor{
		SessionID: data.SessionID,
		Page:      data.Page,
		UserAgent: data.UserAgent,
	})
	r.publish(ctx, events.SubjectLiveVisitors, events.TypeVisitorsUpdate, map[string]interface{}{
		"sessionId": data.SessionID,
		"content":   "visitor joined " + data.Page,
	})
}

func (r *Router) handleJoinSession(c *Client, frame *protocol.Frame) {
	var data protocol.JoinSessionData
	if err := frame.ParseData(&data); err != nil || data.SessionID == "" {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeValidation, "sessionId is required")
		return
	}
	r.hub.JoinSession(c, data.SessionID)
}

func (r *Router) handleJoinAdminFeed(c *Client) {
	if _, principal := c.Agent(); principal == nil {
		c.SendError(protocol.EventAuthError, protocol.ErrCodeUnauthorized, "authenticate before joining the admin feed")
		return
	}
	r.hub.JoinAdminFeed(c)
}

// handleAgentAuth validates the token and binds the connection in the
// registry. A failed auth closes the socket.
func (r *Router) handleAgentAuth(ctx context.Context, c *Client, frame *protocol.Frame) {
	var data protocol.AgentAuthData
	if err := frame.ParseData(&data); err != nil {
		c.SendError(protocol.EventAuthError, protocol.ErrCodeBadRequest, "invalid agent_auth payload")
		c.Close()
		return
	}

	principal, err := r.auth.Authenticate(ctx, data.Token)
	if err != nil {
		r.logger.Warn("agent auth failed", zap.String("client_id", c.ID()), zap.Error(err))
		c.SendError(protocol.EventAuthError, authErrorCode(err), authErrorMessage(err))
		c.Close()
		return
	}

	agentID := data.AgentID
	if agentID == "" {
		agentID = principal.UserID
	}

	c.setAgent(agentID, principal)
	r.registry.Bind(ctx, agentID, c)
	c.Send(protocol.MustFrame(protocol.EventAuthSuccess, protocol.AuthSuccessData{User: principal}))
}

// handleAgentTakeover assigns the session to the authenticated agent.
func (r *Router) handleAgentTakeover(ctx context.Context, c *Client, frame *protocol.Frame) {
	agentID, principal, ok := r.requireAgent(c)
	if !ok {
		return
	}

	var data protocol.AgentTakeoverData
	if err := frame.ParseData(&data); err != nil || data.SessionID == "" {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeValidation, "sessionId is required")
		return
	}
	if data.AgentID != "" && data.AgentID != agentID {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeForbidden, "cannot take over as another agent")
		return
	}

	if err := r.store.AssignAgent(ctx, data.SessionID, agentID); err != nil {
		r.logger.Error("takeover failed",
			zap.String("session_id", data.SessionID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		c.SendError(protocol.EventSessionError, errorCode(err), "failed to take over the conversation")
		return
	}

	// Cache write strictly after the store commit.
	r.cache.Put(data.SessionID, session.Assignment{AgentID: agentID, AIPaused: true})
	r.hub.JoinSession(c, data.SessionID)

	agentName := principal.Name
	if agentName == "" {
		agentName = agentID
	}
	if _, err := r.store.AppendMessage(ctx, store.AppendMessageParams{
		SessionID: data.SessionID,
		Sender:    store.SenderSystem,
		Text:      fmt.Sprintf("Agent %s joined the conversation", agentName),
		Metadata:  map[string]interface{}{"agentId": agentID},
	}); err != nil {
		r.logger.Warn("failed to persist takeover system message",
			zap.String("session_id", data.SessionID), zap.Error(err))
	}

	r.hub.BroadcastToSession(data.SessionID, protocol.MustFrame(protocol.EventAgentJoined, protocol.AgentJoinedData{
		SessionID: data.SessionID,
		AgentID:   agentID,
		AgentName: principal.Name,
	}))
	r.hub.BroadcastToAdmins(protocol.MustFrame(protocol.EventAssignment, protocol.AssignmentData{
		Type:      events.TypeAgentAssigned,
		SessionID: data.SessionID,
		AgentID:   agentID,
	}))

	if _, err := r.store.AppendNotification(ctx, &store.Notification{
		Type:      events.TypeAgentAssigned,
		Content:   fmt.Sprintf("Agent %s took over the conversation", agentName),
		SessionID: data.SessionID,
	}); err != nil {
		r.logger.Warn("failed to persist assignment notification", zap.Error(err))
	}
	r.publish(ctx, events.SubjectAssignment, events.TypeAgentAssigned, map[string]interface{}{
		"sessionId": data.SessionID,
		"agentId":   agentID,
		"content":   fmt.Sprintf("Agent %s took over the conversation", agentName),
	})
}

// handleAgentMessage persists and fans out one agent turn. Text starting
// with "/" is treated as a shortcut; "/close" ends the conversation.
func (r *Router) handleAgentMessage(ctx context.Context, c *Client, frame *protocol.Frame) {
	agentID, _, ok := r.requireAgent(c)
	if !ok {
		return
	}

	var data protocol.AgentMessageData
	if err := frame.ParseData(&data); err != nil || data.SessionID == "" || strings.TrimSpace(data.Text) == "" {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeValidation, "sessionId and text are required")
		return
	}
	if data.AgentID != "" && data.AgentID != agentID {
		c.SendError(protocol.EventSessionError, protocol.ErrCodeForbidden, "agentId does not match the authenticated agent")
		return
	}

	text := strings.TrimSpace(data.Text)
	if text == closeCommand {
		r.engine.CloseConversation(ctx, data.SessionID, &sessionEmitter{hub: r.hub, source: c})
		return
	}
	if strings.HasPrefix(text, "/") {
		if expanded, found := r.matcher.Expand(text); found {
			text = expanded
		}
	}

	if _, err := r.store.AppendMessage(ctx, store.AppendMessageParams{
		SessionID: data.SessionID,
		Sender:    store.SenderAgent,
		Text:      text,
		Metadata:  map[string]interface{}{"agentId": agentID},
	}); err != nil {
		r.logger.Error("failed to persist agent message",
			zap.String("session_id", data.SessionID), zap.Error(err))
		c.SendError(protocol.EventSessionError, protocol.ErrCodeInternal, "failed to deliver the message")
		return
	}

	// The whole room hears the agent turn, the sending socket included.
	r.hub.BroadcastToSession(data.SessionID, protocol.MustFrame(protocol.EventAgentMessage, protocol.AgentMessageEcho{
		SessionID: data.SessionID,
		Text:      text,
		AgentID:   agentID,
		Sender:    store.SenderAgent,
		TS:        time.Now().UTC().Format(time.RFC3339),
	}))
}

// requireAgent gates agent-only events on a prior successful agent_auth.
func (r *Router) requireAgent(c *Client) (string, *auth.Principal, bool) {
	agentID, principal := c.Agent()
	if principal == nil {
		c.SendError(protocol.EventAuthError, protocol.ErrCodeUnauthorized, "agent_auth required")
		return "", nil, false
	}
	return agentID, principal, true
}

func (r *Router) publish(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if r.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "ws-router", data)
	if err := r.eventBus.Publish(ctx, subject, evt); err != nil {
		r.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

func errorCode(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeConflict:
			return protocol.ErrCodeConflict
		case apperrors.ErrCodeNotFound:
			return protocol.ErrCodeBadRequest
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return protocol.ErrCodeBadRequest
	}
	return protocol.ErrCodeInternal
}

func authErrorCode(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeForbidden {
		return protocol.ErrCodeForbidden
	}
	return protocol.ErrCodeUnauthorized
}

func authErrorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "authentication failed"
}

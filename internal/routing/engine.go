// Package routing decides, per user message, whether the reply comes from a
// preloaded response, the LLM, or is forwarded to an assigned human agent.
package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/accuracy"
	"github.com/relaydesk/relaydesk/internal/agent/registry"
	"github.com/relaydesk/relaydesk/internal/common/config"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	"github.com/relaydesk/relaydesk/internal/llm"
	"github.com/relaydesk/relaydesk/internal/responder"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

// Responder produces the bot reply for a user turn. *llm.Gateway is the
// production implementation.
type Responder interface {
	Respond(ctx context.Context, sessionID, text string) (*llm.Reply, error)
}

// Emitter delivers frames produced while handling an event. The socket hub
// implements it per originating client.
type Emitter interface {
	// EmitToSession broadcasts to every socket in the session room.
	EmitToSession(sessionID string, frame *protocol.Frame)
	// EmitToSource replies to the socket the event arrived on.
	EmitToSource(frame *protocol.Frame)
}

const (
	workerQueueSize = 64
	workerIdleTTL   = 2 * time.Minute
)

// humanAckMessage acknowledges an escalation to the visitor.
const humanAckMessage = "Got it, I'm connecting you with a human agent. Someone will be with you shortly."

type worker struct {
	jobs chan func()
}

// Engine is the per-message decision path. Messages within one session are
// processed strictly in order by a session-keyed worker; sessions are
// independent of each other.
type Engine struct {
	store    store.Gateway
	cache    *session.Cache
	registry *registry.Registry
	matcher  *responder.Matcher
	llm      Responder
	recorder *accuracy.Recorder
	eventBus bus.EventBus
	chat     config.ChatConfig
	logger   *logger.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// NewEngine wires the decision path.
func NewEngine(
	st store.Gateway,
	cache *session.Cache,
	reg *registry.Registry,
	matcher *responder.Matcher,
	gateway Responder,
	recorder *accuracy.Recorder,
	eventBus bus.EventBus,
	chat config.ChatConfig,
	log *logger.Logger,
) *Engine {
	return &Engine{
		store:    st,
		cache:    cache,
		registry: reg,
		matcher:  matcher,
		llm:      gateway,
		recorder: recorder,
		eventBus: eventBus,
		chat:     chat,
		logger:   log,
		workers:  make(map[string]*worker),
	}
}

// HandleUserMessage enqueues one user turn on the session's worker. A socket
// disconnect must not tear an in-flight turn, so the job runs on a context
// detached from the connection's cancellation.
func (e *Engine) HandleUserMessage(ctx context.Context, sessionID, text string, emitter Emitter) {
	if sessionID == "" || strings.TrimSpace(text) == "" {
		emitter.EmitToSource(protocol.NewErrorFrame(
			protocol.EventSessionError, protocol.ErrCodeValidation,
			"sessionId and text are required"))
		return
	}

	jobCtx := context.WithoutCancel(ctx)
	e.dispatch(sessionID, emitter, func() {
		e.process(jobCtx, sessionID, strings.TrimSpace(text), emitter)
	})
}

// HandleRequestAgent escalates on an explicit visitor request, serialized
// with the session's other work so the acknowledgement lands in turn order.
func (e *Engine) HandleRequestAgent(ctx context.Context, sessionID string, emitter Emitter) {
	if sessionID == "" {
		emitter.EmitToSource(protocol.NewErrorFrame(
			protocol.EventSessionError, protocol.ErrCodeValidation,
			"sessionId is required"))
		return
	}

	jobCtx := context.WithoutCancel(ctx)
	e.dispatch(sessionID, emitter, func() {
		e.EscalateToHuman(jobCtx, sessionID, "visitor requested a human agent")
		e.replyBot(jobCtx, sessionID, humanAckMessage, 1.0, store.ResponseTypeStub, emitter)
	})
}

// CloseConversation marks the session terminal, drops its cached assignment
// and announces the close to the room and the admin feed.
func (e *Engine) CloseConversation(ctx context.Context, sessionID string, emitter Emitter) {
	jobCtx := context.WithoutCancel(ctx)
	e.dispatch(sessionID, emitter, func() {
		if err := e.store.CloseSession(jobCtx, sessionID); err != nil {
			e.logger.Error("failed to close session",
				zap.String("session_id", sessionID), zap.Error(err))
			emitter.EmitToSource(protocol.NewErrorFrame(
				protocol.EventSessionError, protocol.ErrCodeInternal,
				"failed to close the conversation"))
			return
		}
		e.cache.Clear(sessionID)

		emitter.EmitToSession(sessionID, protocol.MustFrame(
			protocol.EventConversationClosed,
			protocol.ConversationClosedData{SessionID: sessionID}))
		e.publish(jobCtx, events.SubjectSessionClosed, events.TypeSessionClosed, map[string]interface{}{
			"sessionId": sessionID,
			"content":   "conversation closed",
		})
	})
}

// dispatch hands the job to the session's worker, creating one on demand.
// A full queue rejects the turn with a structured error; every accepted
// event must yield an observable outcome.
func (e *Engine) dispatch(sessionID string, emitter Emitter, job func()) {
	e.mu.Lock()
	w, ok := e.workers[sessionID]
	if !ok {
		w = &worker{jobs: make(chan func(), workerQueueSize)}
		e.workers[sessionID] = w
		go e.runWorker(sessionID, w)
	}

	select {
	case w.jobs <- job:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		e.logger.Warn("session worker queue full, rejecting message",
			zap.String("session_id", sessionID))
		emitter.EmitToSource(protocol.NewErrorFrame(
			protocol.EventSessionError, protocol.ErrCodeRateLimited,
			"too many messages are waiting in this conversation; please retry shortly"))
	}
}

func (e *Engine) runWorker(sessionID string, w *worker) {
	idle := time.NewTimer(workerIdleTTL)
	defer idle.Stop()

	for {
		select {
		case job := <-w.jobs:
			job()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(workerIdleTTL)
		case <-idle.C:
			e.mu.Lock()
			if len(w.jobs) == 0 {
				delete(e.workers, sessionID)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			idle.Reset(workerIdleTTL)
		}
	}
}

// process runs the full decision path for one user turn. It always produces
// an observable outcome: a reply frame, an agent forward, or a structured
// error.
func (e *Engine) process(ctx context.Context, sessionID, text string, emitter Emitter) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		sess, _, err = e.store.EnsureSession(ctx, sessionID, nil)
	}
	if err != nil {
		e.logger.Error("session lookup failed",
			zap.String("session_id", sessionID), zap.Error(err))
		emitter.EmitToSource(protocol.NewErrorFrame(
			protocol.EventSessionError, protocol.ErrCodeInternal,
			"session is temporarily unavailable"))
		return
	}
	if sess.Status == store.StatusClosed {
		emitter.EmitToSource(protocol.NewErrorFrame(
			protocol.EventSessionError, protocol.ErrCodeClosed,
			"this conversation has been closed"))
		return
	}

	// Persist and echo the user turn before any routing decision, so
	// observers see the question before the answer.
	if _, err := e.store.AppendMessage(ctx, store.AppendMessageParams{
		SessionID: sessionID,
		Sender:    store.SenderUser,
		Text:      text,
	}); err != nil {
		// Degraded turn: keep serving from memory, re-establish on next write.
		e.logger.Error("failed to persist user message",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	emitter.EmitToSession(sessionID, protocol.MustFrame(protocol.EventUserMessage, protocol.UserMessageEcho{
		SessionID: sessionID,
		Text:      text,
		Sender:    store.SenderUser,
		TS:        time.Now().UTC().Format(time.RFC3339),
	}))

	assignment, err := e.cache.Resolve(ctx, sessionID)
	if err != nil {
		e.logger.Warn("assignment resolution failed, treating as unassigned",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	if assignment.Assigned() {
		e.forwardToAgent(ctx, sessionID, text, assignment.AgentID)
		return
	}

	if isClosingPhrase(text) {
		if farewell, ok := e.matcher.Closing(); ok {
			e.replyBot(ctx, sessionID, farewell, 1.0, store.ResponseTypePreloaded, emitter)
			return
		}
	}

	if wantsHuman(text) {
		e.EscalateToHuman(ctx, sessionID, "visitor asked for a human agent")
		e.replyBot(ctx, sessionID, humanAckMessage, 1.0, store.ResponseTypeStub, emitter)
		return
	}

	if match := e.matcher.Match(text); match != nil {
		e.replyBot(ctx, sessionID, match.Response.Content, 1.0, store.ResponseTypePreloaded, emitter)
		return
	}

	reply, err := e.llm.Respond(ctx, sessionID, text)
	if err != nil {
		e.logger.Error("llm gateway unavailable",
			zap.String("session_id", sessionID), zap.Error(err))
		reply = &llm.Reply{
			Text:         e.chat.FallbackMessage,
			Confidence:   0.0,
			ResponseType: store.ResponseTypeFallback,
		}
	}
	if reply.RateLimited {
		e.EscalateToHuman(ctx, sessionID, "LLM rate limited; visitor needs a human follow-up")
	}
	e.replyBotWithStats(ctx, sessionID, reply, emitter)
}

// forwardToAgent delivers the user turn to the assigned agent. An offline
// agent is not a visitor-visible error; the transcript already holds the
// turn, and the admin feed gets a durable notification so the message is
// found even if no peer node is listening on the bus right now.
func (e *Engine) forwardToAgent(ctx context.Context, sessionID, text, agentID string) {
	frame := protocol.MustFrame(protocol.EventUserMessageForAgent, protocol.UserMessageForAgentData{
		SessionID: sessionID,
		Text:      text,
		TS:        time.Now().UTC().Format(time.RFC3339),
	})

	if agentID == "" || !e.registry.Send(agentID, frame) {
		e.logger.Warn("assigned agent unreachable, message persisted only",
			zap.String("session_id", sessionID),
			zap.String("agent_id", agentID))
		if _, err := e.store.AppendNotification(ctx, &store.Notification{
			Type:      events.TypeAgentUnreachable,
			Content:   "assigned agent is offline; a visitor message is waiting",
			SessionID: sessionID,
		}); err != nil {
			e.logger.Warn("failed to persist agent_unreachable notification",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		e.publish(ctx, events.SubjectAgentPresence,
			events.TypeAgentUnreachable, map[string]interface{}{
				"sessionId": sessionID,
				"agentId":   agentID,
			})
	}
}

// EscalateToHuman marks the session needs_help, appends an admin-feed
// notification and fans it out on the bus. Also used by request_agent.
func (e *Engine) EscalateToHuman(ctx context.Context, sessionID, note string) {
	if err := e.store.UpdateSessionStatus(ctx, sessionID, store.StatusNeedsHuman, nil); err != nil {
		e.logger.Error("failed to mark session needs_help",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	n := &store.Notification{
		Type:      events.TypeNeedsHelp,
		Content:   note,
		SessionID: sessionID,
	}
	if _, err := e.store.AppendNotification(ctx, n); err != nil {
		e.logger.Warn("failed to persist needs_help notification",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	e.publish(ctx, events.SubjectNeedsHelp, events.TypeNeedsHelp, map[string]interface{}{
		"sessionId": sessionID,
		"content":   note,
	})
}

// replyBot persists one bot turn, emits it and records accuracy.
func (e *Engine) replyBot(ctx context.Context, sessionID, text string, confidence float64, responseType string, emitter Emitter) {
	e.replyBotWithStats(ctx, sessionID, &llm.Reply{
		Text:         text,
		Confidence:   confidence,
		ResponseType: responseType,
	}, emitter)
}

func (e *Engine) replyBotWithStats(ctx context.Context, sessionID string, reply *llm.Reply, emitter Emitter) {
	confidence := reply.Confidence
	messageID, err := e.store.AppendMessage(ctx, store.AppendMessageParams{
		SessionID:  sessionID,
		Sender:     store.SenderBot,
		Text:       reply.Text,
		Confidence: &confidence,
		Metadata:   map[string]interface{}{"type": reply.ResponseType},
	})
	if err != nil {
		e.logger.Error("failed to persist bot message",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	emitter.EmitToSession(sessionID, protocol.MustFrame(protocol.EventBotMessage, protocol.BotMessageData{
		SessionID:  sessionID,
		Text:       reply.Text,
		Confidence: &confidence,
	}))

	e.recorder.Record(ctx, accuracy.Record{
		SessionID:    sessionID,
		MessageID:    messageID,
		AIText:       reply.Text,
		Confidence:   reply.Confidence,
		LatencyMs:    reply.LatencyMs,
		Tokens:       reply.Tokens,
		ResponseType: reply.ResponseType,
	})
}

func (e *Engine) publish(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "routing-engine", data)
	if err := e.eventBus.Publish(ctx, subject, evt); err != nil {
		e.logger.Warn("failed to publish event",
			zap.String("subject", subject), zap.Error(err))
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/accuracy"
	"github.com/relaydesk/relaydesk/internal/agent/registry"
	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/common/config"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/common/ratelimit"
	"github.com/relaydesk/relaydesk/internal/events/bus"
	"github.com/relaydesk/relaydesk/internal/llm"
	"github.com/relaydesk/relaydesk/internal/responder"
	"github.com/relaydesk/relaydesk/internal/routing"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
	"github.com/relaydesk/relaydesk/pkg/protocol"
)

const testAdminSecret = "test-admin-secret"

// stubResponder answers every turn with a fixed reply.
type stubResponder struct {
	text string
}

func (s *stubResponder) Respond(context.Context, string, string) (*llm.Reply, error) {
	return &llm.Reply{
		Text:         s.text,
		Confidence:   0.9,
		ResponseType: store.ResponseTypeAI,
	}, nil
}

type testServer struct {
	srv   *httptest.Server
	store *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := logger.Default()
	st := store.NewMemory()
	eventBus := bus.NewMemoryEventBus(log)
	cache := session.NewCache(st)
	reg := registry.New(eventBus, log)
	matcher := responder.NewMatcher(ctx, st, log)

	chat := config.ChatConfig{
		WelcomeMessage:  "Welcome! How can we help?",
		FallbackMessage: "Sorry, something went wrong.",
		ContextLimit:    10,
	}
	engine := routing.NewEngine(st, cache, reg, matcher, &stubResponder{text: "model answer"},
		accuracy.NewRecorder(st, log), eventBus, chat, log)

	router := NewRouter(st, cache, reg, engine, auth.New(st, testAdminSecret),
		matcher, eventBus, ratelimit.New(time.Minute, 1), chat, log)
	hub := NewHub(log)
	router.SetHub(hub)
	go hub.Run(ctx)

	gin.SetMode(gin.TestMode)
	g := gin.New()
	NewHandler(hub, router, log).RegisterRoutes(g)

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: st}
}

func (ts *testServer) dial(t *testing.T) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *gorillaws.Conn, event string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.MustFrame(event, payload)))
}

// readUntil reads frames until one matches the wanted event, skipping
// unrelated traffic such as live-visitor updates.
func readUntil(t *testing.T, conn *gorillaws.Conn, event string) *protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)

		var frame protocol.Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame.Event == event {
			return &frame
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartSessionGreetsNewConversations(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, protocol.EventStartSession, protocol.StartSessionData{SessionID: "s-new"})

	started := readUntil(t, conn, protocol.EventSessionStarted)
	var sessData protocol.SessionStartedData
	require.NoError(t, started.ParseData(&sessData))
	assert.Equal(t, "s-new", sessData.SessionID)

	welcome := readUntil(t, conn, protocol.EventBotMessage)
	var bot protocol.BotMessageData
	require.NoError(t, welcome.ParseData(&bot))
	assert.Equal(t, "Welcome! How can we help?", bot.Text)
}

func TestStartSessionResumeSkipsWelcome(t *testing.T) {
	ts := newTestServer(t)

	first := ts.dial(t)
	send(t, first, protocol.EventStartSession, protocol.StartSessionData{SessionID: "s-1"})
	readUntil(t, first, protocol.EventBotMessage)
	_ = first.Close()

	second := ts.dial(t)
	send(t, second, protocol.EventStartSession, protocol.StartSessionData{SessionID: "s-1"})
	readUntil(t, second, protocol.EventSessionStarted)

	// The next bot turn must be an answer, not a second welcome.
	send(t, second, protocol.EventUserMessage, protocol.UserMessageData{SessionID: "s-1", Text: "hello"})
	frame := readUntil(t, second, protocol.EventBotMessage)
	var bot protocol.BotMessageData
	require.NoError(t, frame.ParseData(&bot))
	assert.Equal(t, "model answer", bot.Text)
}

func TestUserMessageRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, protocol.EventStartSession, protocol.StartSessionData{SessionID: "s-1"})
	readUntil(t, conn, protocol.EventBotMessage) // welcome

	send(t, conn, protocol.EventUserMessage, protocol.UserMessageData{SessionID: "s-1", Text: "do you ship to spain"})

	echo := readUntil(t, conn, protocol.EventUserMessage)
	var userEcho protocol.UserMessageEcho
	require.NoError(t, echo.ParseData(&userEcho))
	assert.Equal(t, "do you ship to spain", userEcho.Text)

	answer := readUntil(t, conn, protocol.EventBotMessage)
	var bot protocol.BotMessageData
	require.NoError(t, answer.ParseData(&bot))
	assert.Equal(t, "model answer", bot.Text)
}

func TestAgentAuthFailureClosesSocket(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, protocol.EventAgentAuth, protocol.AgentAuthData{Token: "wrong"})

	frame := readUntil(t, conn, protocol.EventAuthError)
	var errData protocol.ErrorData
	require.NoError(t, frame.ParseData(&errData))
	assert.Equal(t, protocol.ErrCodeUnauthorized, errData.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server must drop the connection after a failed auth")
}

func TestAgentOnlyEventsRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, protocol.EventAgentMessage, protocol.AgentMessageData{SessionID: "s-1", Text: "hi"})

	frame := readUntil(t, conn, protocol.EventAuthError)
	var errData protocol.ErrorData
	require.NoError(t, frame.ParseData(&errData))
	assert.Equal(t, protocol.ErrCodeUnauthorized, errData.Code)
}

func TestAgentTakeoverFlow(t *testing.T) {
	ts := newTestServer(t)

	visitor := ts.dial(t)
	send(t, visitor, protocol.EventStartSession, protocol.StartSessionData{SessionID: "s-1"})
	readUntil(t, visitor, protocol.EventBotMessage) // welcome

	agent := ts.dial(t)
	send(t, agent, protocol.EventAgentAuth, protocol.AgentAuthData{Token: testAdminSecret, AgentID: "a-1"})
	readUntil(t, agent, protocol.EventAuthSuccess)

	send(t, agent, protocol.EventAgentTakeover, protocol.AgentTakeoverData{SessionID: "s-1"})

	// Both room members see the takeover.
	joined := readUntil(t, visitor, protocol.EventAgentJoined)
	var joinData protocol.AgentJoinedData
	require.NoError(t, joined.ParseData(&joinData))
	assert.Equal(t, "a-1", joinData.AgentID)
	readUntil(t, agent, protocol.EventAgentJoined)

	// With a human assigned, visitor turns are forwarded instead of answered.
	send(t, visitor, protocol.EventUserMessage, protocol.UserMessageData{SessionID: "s-1", Text: "is my order ready"})
	forwarded := readUntil(t, agent, protocol.EventUserMessageForAgent)
	var fwd protocol.UserMessageForAgentData
	require.NoError(t, forwarded.ParseData(&fwd))
	assert.Equal(t, "is my order ready", fwd.Text)

	// The agent's reply reaches the whole room.
	send(t, agent, protocol.EventAgentMessage, protocol.AgentMessageData{SessionID: "s-1", Text: "Yes, it ships today."})
	reply := readUntil(t, visitor, protocol.EventAgentMessage)
	var agentEcho protocol.AgentMessageEcho
	require.NoError(t, reply.ParseData(&agentEcho))
	assert.Equal(t, "Yes, it ships today.", agentEcho.Text)
	assert.Equal(t, "a-1", agentEcho.AgentID)

	// Closing the conversation announces it and makes the session terminal.
	send(t, agent, protocol.EventAgentMessage, protocol.AgentMessageData{SessionID: "s-1", Text: "/close"})
	readUntil(t, visitor, protocol.EventConversationClosed)

	send(t, visitor, protocol.EventUserMessage, protocol.UserMessageData{SessionID: "s-1", Text: "wait"})
	errFrame := readUntil(t, visitor, protocol.EventSessionError)
	var errData protocol.ErrorData
	require.NoError(t, errFrame.ParseData(&errData))
	assert.Equal(t, protocol.ErrCodeClosed, errData.Code)
}

func TestRequestAgentThrottled(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, protocol.EventStartSession, protocol.StartSessionData{SessionID: "s-1"})
	readUntil(t, conn, protocol.EventBotMessage) // welcome

	send(t, conn, protocol.EventRequestAgent, protocol.RequestAgentData{SessionID: "s-1"})
	readUntil(t, conn, protocol.EventBotMessage) // escalation acknowledgement

	send(t, conn, protocol.EventRequestAgent, protocol.RequestAgentData{SessionID: "s-1"})
	frame := readUntil(t, conn, protocol.EventSessionError)
	var errData protocol.ErrorData
	require.NoError(t, frame.ParseData(&errData))
	assert.Equal(t, protocol.ErrCodeRateLimited, errData.Code)
}

func TestUnknownEventRejected(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, "bogus_event", nil)

	frame := readUntil(t, conn, protocol.EventSessionError)
	var errData protocol.ErrorData
	require.NoError(t, frame.ParseData(&errData))
	assert.Equal(t, protocol.ErrCodeBadRequest, errData.Code)
}

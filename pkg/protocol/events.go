package protocol

// Client -> server events (visitor room, unauthenticated)
const (
	EventStartSession = "start_session"
	EventUserMessage  = "user_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventRequestAgent = "request_agent"
	EventVisitorJoin  = "visitor_join"
	EventJoinSession  = "join_session"
	EventJoinAdmin    = "join_admin_feed"
)

// Client -> server events (agent, require prior agent_auth)
const (
	EventAgentAuth     = "agent_auth"
	EventAgentTakeover = "agent_takeover"
	EventAgentMessage  = "agent_message"
)

// Server -> client events
const (
	EventSessionStarted      = "session_started"
	EventBotMessage          = "bot_message"
	EventUserMessageForAgent = "user_message_for_agent"
	EventAgentJoined         = "agent_joined"
	EventDisplayTyping       = "display_typing"
	EventSessionError        = "session_error"
	EventAuthSuccess         = "auth_success"
	EventAuthError           = "auth_error"
	EventAssignment          = "assignment"
	EventConversationClosed  = "conversation_closed"
	EventNewNotification     = "new_notification"
	EventLiveVisitors        = "live_visitors_update"
	EventAgentSuperseded     = "agent_superseded"
)

// Error codes carried in session_error / auth_error payloads
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeClosed       = "SESSION_CLOSED"
	ErrCodeRateLimited  = "RATE_LIMITED"
)

// StartSessionData is the payload of a start_session frame.
type StartSessionData struct {
	SessionID string                 `json:"sessionId,omitempty"`
	UserMeta  map[string]interface{} `json:"userMeta,omitempty"`
}

// UserMessageData is the payload of a user_message frame.
type UserMessageData struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// TypingData is the payload of typing_start / typing_stop frames.
type TypingData struct {
	SessionID string `json:"sessionId"`
	User      string `json:"user,omitempty"`
}

// RequestAgentData is the payload of a request_agent frame.
type RequestAgentData struct {
	SessionID string `json:"sessionId"`
}

// VisitorJoinData is the payload of a visitor_join frame.
type VisitorJoinData struct {
	SessionID string `json:"sessionId,omitempty"`
	Page      string `json:"page,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// JoinSessionData is the payload of a join_session frame.
type JoinSessionData struct {
	SessionID string `json:"sessionId"`
}

// AgentAuthData is the payload of an agent_auth frame.
type AgentAuthData struct {
	Token   string `json:"token"`
	AgentID string `json:"agentId,omitempty"`
}

// AgentTakeoverData is the payload of an agent_takeover frame.
type AgentTakeoverData struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

// AgentMessageData is the payload of an agent_message frame.
type AgentMessageData struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	AgentID   string `json:"agentId"`
}

// SessionStartedData is the payload of a session_started frame.
type SessionStartedData struct {
	SessionID string `json:"sessionId"`
}

// BotMessageData is the payload of a bot_message frame.
type BotMessageData struct {
	SessionID  string   `json:"sessionId,omitempty"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// UserMessageEcho is the payload echoed into the session room for a user turn.
type UserMessageEcho struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	TS        string `json:"ts"`
}

// UserMessageForAgentData is delivered to the assigned agent only.
type UserMessageForAgentData struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	TS        string `json:"ts"`
}

// AgentMessageEcho is the payload emitted into the session room for an agent turn.
type AgentMessageEcho struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	AgentID   string `json:"agentId"`
	Sender    string `json:"sender"`
	TS        string `json:"ts"`
}

// AgentJoinedData announces a takeover to the session room.
type AgentJoinedData struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName,omitempty"`
}

// DisplayTypingData is broadcast within a session room.
type DisplayTypingData struct {
	SessionID string `json:"sessionId"`
	User      string `json:"user"`
	IsTyping  bool   `json:"isTyping"`
}

// AuthSuccessData confirms agent authentication.
type AuthSuccessData struct {
	User interface{} `json:"user"`
}

// AssignmentData notifies the admin feed of an assignment change.
type AssignmentData struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId,omitempty"`
}

// ConversationClosedData announces a terminal session.
type ConversationClosedData struct {
	SessionID string `json:"sessionId"`
}

// NotificationData is pushed to the admin feed.
type NotificationData struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// LiveVisitor is one entry of a live_visitors_update snapshot.
type LiveVisitor struct {
	SessionID string `json:"sessionId,omitempty"`
	Page      string `json:"page,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Since     string `json:"since"`
}

// Package store provides the typed gateway over the document store that
// persists sessions, messages, accuracy records, canned responses,
// notifications, users and LLM settings.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is the sentinel returned when a record does not exist.
// Not-found on read is an expected outcome, not a failure.
var ErrNotFound = errors.New("store: not found")

// Session status values.
const (
	StatusActive        = "active"
	StatusAgentAssigned = "agent_assigned"
	StatusNeedsHuman    = "needs_human"
	StatusClosed        = "closed"
)

// Message senders.
const (
	SenderUser   = "user"
	SenderBot    = "bot"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Accuracy response types.
const (
	ResponseTypeAI        = "ai"
	ResponseTypeFallback  = "fallback"
	ResponseTypeStub      = "stub"
	ResponseTypePreloaded = "preloaded"
)

// Canned response match types.
const (
	MatchExact    = "exact"
	MatchPrefix   = "prefix"
	MatchKeyword  = "keyword"
	MatchShortcut = "shortcut"
)

// Message visibility values.
const (
	VisibilityPublic   = "public"
	VisibilityInternal = "internal"
)

// Session is the persisted record of a conversation.
type Session struct {
	SessionID     string                 `json:"sessionId"`
	Status        string                 `json:"status"`
	AssignedAgent string                 `json:"assignedAgent,omitempty"`
	AIPaused      bool                   `json:"aiPaused"`
	StartTime     time.Time              `json:"startTime"`
	LastSeen      time.Time              `json:"lastSeen"`
	UserMeta      map[string]interface{} `json:"userMeta,omitempty"`
	Theme         map[string]interface{} `json:"theme,omitempty"`
}

// EffectiveAssignment resolves the session's assignment, consulting the
// direct fields first and falling back to userMeta, then to status
// inference. Older writers serialized assignedAgent/aiPaused into userMeta
// when the store lacked the columns; both shapes must read the same.
func (s *Session) EffectiveAssignment() (agentID string, aiPaused bool) {
	agentID = s.AssignedAgent
	aiPaused = s.AIPaused

	if s.UserMeta != nil {
		if agentID == "" {
			if v, ok := s.UserMeta["assignedAgent"].(string); ok {
				agentID = v
			}
		}
		if !aiPaused {
			if v, ok := s.UserMeta["aiPaused"].(bool); ok {
				aiPaused = v
			}
		}
	}

	// An agent-assigned session pauses AI even when no agent id survived.
	if !aiPaused && s.Status == StatusAgentAssigned {
		aiPaused = true
	}
	if agentID != "" {
		aiPaused = true
	}
	return agentID, aiPaused
}

// Message is one persisted conversation turn. Immutable after creation.
type Message struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"sessionId"`
	Sender     string                 `json:"sender"`
	Text       string                 `json:"text"`
	Confidence *float64               `json:"confidence,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Visibility string                 `json:"visibility,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// AccuracyRecord is the per-AI-turn audit row.
type AccuracyRecord struct {
	ID           string                 `json:"id"`
	SessionID    string                 `json:"sessionId"`
	MessageID    string                 `json:"messageId,omitempty"`
	AIText       string                 `json:"aiText"`
	Confidence   float64                `json:"confidence"`
	LatencyMs    int64                  `json:"latencyMs"`
	Tokens       int                    `json:"tokens"`
	ResponseType string                 `json:"responseType"`
	HumanMark    string                 `json:"humanMark,omitempty"` // helpful, unhelpful, flagged
	Evaluation   string                 `json:"evaluation,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// AccuracyAudit records an admin feedback action against an accuracy record.
type AccuracyAudit struct {
	ID         string    `json:"id"`
	AccuracyID string    `json:"accuracyId"`
	AdminID    string    `json:"adminId"`
	Action     string    `json:"action"`
	Note       string    `json:"note,omitempty"`
	TS         time.Time `json:"ts"`
}

// CannedResponse is one operator-curated preloaded reply.
type CannedResponse struct {
	ID        string `json:"id"`
	Shortcut  string `json:"shortcut"`
	Content   string `json:"content"`
	Category  string `json:"category,omitempty"`
	MatchType string `json:"matchType"`
	IsActive  bool   `json:"isActive"`
	Position  int    `json:"position"` // insertion order, tie-break within a rule class
}

// Notification is one admin-feed notification row.
type Notification struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	SessionID    string    `json:"sessionId,omitempty"`
	TargetUserID string    `json:"targetUserId,omitempty"`
	IsRead       bool      `json:"isRead"`
	CreatedAt    time.Time `json:"createdAt"`
}

// User is a principal record for agents and admins.
type User struct {
	UserID        string    `json:"userId"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Roles         []string  `json:"roles"`
	AccountStatus string    `json:"accountStatus"` // active, pending, rejected
	Permissions   []string  `json:"permissions"`
	Token         string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LLMSetting is one provider configuration. At most one row is active.
type LLMSetting struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	EncryptedAPIKey string    `json:"-"`
	BaseURL         string    `json:"baseUrl,omitempty"`
	IsActive        bool      `json:"isActive"`
	HealthStatus    string    `json:"healthStatus"` // healthy, degraded
	LastError       string    `json:"lastError,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AppendMessageParams carries the inputs for AppendMessage.
type AppendMessageParams struct {
	SessionID  string
	Sender     string
	Text       string
	Confidence *float64
	Metadata   map[string]interface{}
	Visibility string // defaults to public
}

// StatusPatch carries the optional fields merged by UpdateSessionStatus.
type StatusPatch struct {
	AssignedAgent *string
	AIPaused      *bool
	UserMeta      map[string]interface{}
}

// ListMessagesOptions controls message pagination.
type ListMessagesOptions struct {
	Order  string // "asc" (default) or "desc" by createdAt
	Limit  int
	Offset int
}

// Gateway is the typed contract against the document store. Implementations:
// sqlite (embedded default), postgres, and an in-memory double.
type Gateway interface {
	// EnsureSession creates the session with status=active if unknown;
	// otherwise it only advances lastSeen. It never overwrites userMeta on
	// the update path. The bool reports whether this call created the
	// session, decided atomically with the write so concurrent callers never
	// both see a new conversation.
	EnsureSession(ctx context.Context, sessionID string, userMeta map[string]interface{}) (*Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID, status string, patch *StatusPatch) error
	// AssignAgent binds the session to an agent: status=agent_assigned,
	// aiPaused=true, mirrored into userMeta.
	AssignAgent(ctx context.Context, sessionID, agentID string) error
	CloseSession(ctx context.Context, sessionID string) error

	AppendMessage(ctx context.Context, params AppendMessageParams) (string, error)
	ListMessages(ctx context.Context, sessionID string, opts ListMessagesOptions) ([]*Message, error)

	SaveAccuracyRecord(ctx context.Context, rec *AccuracyRecord) (string, error)
	UpdateAccuracyFeedback(ctx context.Context, accuracyID, humanMark, evaluation string) error
	AppendAccuracyAudit(ctx context.Context, audit *AccuracyAudit) error

	ListCannedResponses(ctx context.Context, activeOnly bool) ([]*CannedResponse, error)

	AppendNotification(ctx context.Context, n *Notification) (string, error)

	GetUserByToken(ctx context.Context, token string) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u *User) error

	ActiveLLMSetting(ctx context.Context) (*LLMSetting, error)
	SetLLMHealth(ctx context.Context, settingID, healthStatus, lastError string) error

	Close() error
}

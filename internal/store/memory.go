package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
)

// maxScanRows caps how many messages a single list call will consider.
// Sessions never grow anywhere near this in practice; the cap bounds the
// damage if one does.
const maxScanRows = 10000

// Memory is an in-memory Gateway. It backs tests and serves as the degraded
// mode when no database is reachable at startup.
type Memory struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	messages      map[string][]*Message // keyed by session id, append order
	accuracy      map[string]*AccuracyRecord
	audits        []*AccuracyAudit
	canned        []*CannedResponse
	notifications []*Notification
	users         map[string]*User // keyed by user id
	llmSettings   map[string]*LLMSetting
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*Session),
		messages:    make(map[string][]*Message),
		accuracy:    make(map[string]*AccuracyRecord),
		users:       make(map[string]*User),
		llmSettings: make(map[string]*LLMSetting),
	}
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func (m *Memory) EnsureSession(_ context.Context, sessionID string, userMeta map[string]interface{}) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.LastSeen = now
		return cloneSession(sess), false, nil
	}

	sess := &Session{
		SessionID: sessionID,
		Status:    StatusActive,
		StartTime: now,
		LastSeen:  now,
		UserMeta:  copyMeta(userMeta),
	}
	m.sessions[sessionID] = sess
	return cloneSession(sess), true, nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (m *Memory) UpdateSessionStatus(_ context.Context, sessionID, status string, patch *StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	sess.Status = status
	sess.LastSeen = time.Now().UTC()
	if patch == nil {
		return nil
	}
	if patch.AssignedAgent != nil {
		sess.AssignedAgent = *patch.AssignedAgent
	}
	if patch.AIPaused != nil {
		sess.AIPaused = *patch.AIPaused
	}
	if patch.UserMeta != nil {
		sess.UserMeta = copyMeta(patch.UserMeta)
	}
	return nil
}

func (m *Memory) AssignAgent(ctx context.Context, sessionID, agentID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if sess.Status == StatusClosed {
		m.mu.Unlock()
		return apperrors.Conflict("cannot assign agent to a closed session")
	}

	meta := copyMeta(sess.UserMeta)
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["assignedAgent"] = agentID
	meta["aiPaused"] = true
	m.mu.Unlock()

	paused := true
	return m.UpdateSessionStatus(ctx, sessionID, StatusAgentAssigned, &StatusPatch{
		AssignedAgent: &agentID,
		AIPaused:      &paused,
		UserMeta:      meta,
	})
}

func (m *Memory) CloseSession(ctx context.Context, sessionID string) error {
	return m.UpdateSessionStatus(ctx, sessionID, StatusClosed, nil)
}

func (m *Memory) AppendMessage(ctx context.Context, params AppendMessageParams) (string, error) {
	if _, _, err := m.EnsureSession(ctx, params.SessionID, nil); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	visibility := params.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}

	msg := &Message{
		ID:         uuid.New().String(),
		SessionID:  params.SessionID,
		Sender:     params.Sender,
		Text:       params.Text,
		Confidence: params.Confidence,
		Metadata:   copyMeta(params.Metadata),
		Visibility: visibility,
		CreatedAt:  time.Now().UTC(),
	}
	m.messages[params.SessionID] = append(m.messages[params.SessionID], msg)
	return msg.ID, nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID string, opts ListMessagesOptions) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[sessionID]
	if len(all) > maxScanRows {
		all = all[len(all)-maxScanRows:]
	}

	// Append order is creation order, so descending is a plain reversal.
	ordered := make([]*Message, len(all))
	copy(ordered, all)
	if strings.EqualFold(opts.Order, "desc") {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(ordered) {
			return nil, nil
		}
		ordered = ordered[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(ordered) {
		ordered = ordered[:opts.Limit]
	}

	result := make([]*Message, len(ordered))
	for i, msg := range ordered {
		cp := *msg
		result[i] = &cp
	}
	return result, nil
}

func (m *Memory) SaveAccuracyRecord(_ context.Context, rec *AccuracyRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	m.accuracy[rec.ID] = &cp
	return rec.ID, nil
}

func (m *Memory) UpdateAccuracyFeedback(_ context.Context, accuracyID, humanMark, evaluation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.accuracy[accuracyID]
	if !ok {
		return ErrNotFound
	}
	rec.HumanMark = humanMark
	rec.Evaluation = evaluation
	return nil
}

func (m *Memory) AppendAccuracyAudit(_ context.Context, audit *AccuracyAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.TS.IsZero() {
		audit.TS = time.Now().UTC()
	}
	cp := *audit
	m.audits = append(m.audits, &cp)
	return nil
}

// SeedCannedResponses replaces the canned-response table. Test and
// degraded-mode hook; the SQL stores load these from their schema seed.
func (m *Memory) SeedCannedResponses(responses []*CannedResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.canned = make([]*CannedResponse, 0, len(responses))
	for i, cr := range responses {
		cp := *cr
		if cp.ID == "" {
			cp.ID = uuid.New().String()
		}
		cp.Position = i
		m.canned = append(m.canned, &cp)
	}
}

func (m *Memory) ListCannedResponses(_ context.Context, activeOnly bool) ([]*CannedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*CannedResponse
	for _, cr := range m.canned {
		if activeOnly && !cr.IsActive {
			continue
		}
		cp := *cr
		result = append(result, &cp)
	}
	return result, nil
}

func (m *Memory) AppendNotification(_ context.Context, n *Notification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	m.notifications = append(m.notifications, &cp)
	return n.ID, nil
}

func (m *Memory) GetUserByToken(_ context.Context, token string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Token != "" && u.Token == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.UserID == "" {
		u.UserID = uuid.New().String()
	}
	for _, existing := range m.users {
		if existing.UserID == u.UserID || existing.Email == u.Email {
			return apperrors.Conflict("user already exists")
		}
	}

	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.AccountStatus == "" {
		u.AccountStatus = "active"
	}
	cp := *u
	m.users[u.UserID] = &cp
	return nil
}

// PutLLMSetting stores a provider configuration. Marking one active
// deactivates the rest.
func (m *Memory) PutLLMSetting(setting *LLMSetting) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if setting.ID == "" {
		setting.ID = uuid.New().String()
	}
	setting.UpdatedAt = time.Now().UTC()
	if setting.HealthStatus == "" {
		setting.HealthStatus = "healthy"
	}
	if setting.IsActive {
		for _, existing := range m.llmSettings {
			existing.IsActive = false
		}
	}
	cp := *setting
	m.llmSettings[setting.ID] = &cp
}

func (m *Memory) ActiveLLMSetting(_ context.Context) (*LLMSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, setting := range m.llmSettings {
		if setting.IsActive {
			cp := *setting
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetLLMHealth(_ context.Context, settingID, healthStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	setting, ok := m.llmSettings[settingID]
	if !ok {
		return ErrNotFound
	}
	setting.HealthStatus = healthStatus
	setting.LastError = lastError
	setting.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.UserMeta = copyMeta(s.UserMeta)
	cp.Theme = copyMeta(s.Theme)
	return &cp
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

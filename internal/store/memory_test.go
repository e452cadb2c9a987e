package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
)

func TestEnsureSessionIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, created, err := m.EnsureSession(ctx, "s-1", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusActive, first.Status)
	assert.Equal(t, "Ada", first.UserMeta["name"])

	// Re-ensuring advances lastSeen but never rewrites userMeta or startTime.
	second, created, err := m.EnsureSession(ctx, "s-1", map[string]interface{}{"name": "Eve"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Ada", second.UserMeta["name"])
	assert.Equal(t, first.StartTime, second.StartTime)
	assert.False(t, second.LastSeen.Before(first.LastSeen))
}

func TestEnsureSessionCreatedOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Concurrent ensures for one new id must agree on a single creator, so
	// only one caller greets the conversation.
	const callers = 16
	var wg sync.WaitGroup
	var createdCount atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.EnsureSession(ctx, "s-race", nil)
			assert.NoError(t, err)
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load())
}

func TestGetSessionNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignAgent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, err := m.EnsureSession(ctx, "s-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.AssignAgent(ctx, "s-1", "a-1"))

	sess, err := m.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAgentAssigned, sess.Status)
	assert.Equal(t, "a-1", sess.AssignedAgent)
	assert.True(t, sess.AIPaused)

	// Assignment is mirrored into userMeta for older readers.
	assert.Equal(t, "a-1", sess.UserMeta["assignedAgent"])
	assert.Equal(t, true, sess.UserMeta["aiPaused"])
}

func TestAssignAgentClosedSessionConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, err := m.EnsureSession(ctx, "s-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.CloseSession(ctx, "s-1"))

	err = m.AssignAgent(ctx, "s-1", "a-1")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeConflict, appErr.Code)
}

func TestAppendAndListMessages(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.AppendMessage(ctx, AppendMessageParams{
			SessionID: "s-1",
			Sender:    SenderUser,
			Text:      fmt.Sprintf("msg-%d", i),
		})
		require.NoError(t, err)
	}

	asc, err := m.ListMessages(ctx, "s-1", ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, asc, 5)
	assert.Equal(t, "msg-0", asc[0].Text)
	assert.Equal(t, "msg-4", asc[4].Text)
	assert.Equal(t, VisibilityPublic, asc[0].Visibility)

	desc, err := m.ListMessages(ctx, "s-1", ListMessagesOptions{Order: "desc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "msg-4", desc[0].Text)

	offset, err := m.ListMessages(ctx, "s-1", ListMessagesOptions{Offset: 3})
	require.NoError(t, err)
	require.Len(t, offset, 2)
	assert.Equal(t, "msg-3", offset[0].Text)

	past, err := m.ListMessages(ctx, "s-1", ListMessagesOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestAppendMessageCreatesSession(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.AppendMessage(ctx, AppendMessageParams{
		SessionID: "fresh",
		Sender:    SenderUser,
		Text:      "hello",
	})
	require.NoError(t, err)

	sess, err := m.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
}

func TestAccuracyFeedback(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.SaveAccuracyRecord(ctx, &AccuracyRecord{
		SessionID:    "s-1",
		AIText:       "answer",
		Confidence:   0.9,
		ResponseType: ResponseTypeAI,
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateAccuracyFeedback(ctx, id, "helpful", "good answer"))
	assert.ErrorIs(t, m.UpdateAccuracyFeedback(ctx, "missing", "helpful", ""), ErrNotFound)

	require.NoError(t, m.AppendAccuracyAudit(ctx, &AccuracyAudit{
		AccuracyID: id,
		AdminID:    "admin",
		Action:     "helpful",
	}))
}

func TestCannedResponses(t *testing.T) {
	m := NewMemory()
	m.SeedCannedResponses([]*CannedResponse{
		{Shortcut: "hi", Content: "Hello!", MatchType: MatchExact, IsActive: true},
		{Shortcut: "pricing", Content: "See our pricing page.", MatchType: MatchKeyword, IsActive: false},
	})

	all, err := m.ListCannedResponses(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 0, all[0].Position)
	assert.Equal(t, 1, all[1].Position)

	active, err := m.ListCannedResponses(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "hi", active[0].Shortcut)
}

func TestUserLookup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u := &User{Email: "agent@example.com", Name: "Agent", Roles: []string{"agent"}, Token: "tok-1"}
	require.NoError(t, m.CreateUser(ctx, u))

	byToken, err := m.GetUserByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, byToken.UserID)
	assert.Equal(t, "active", byToken.AccountStatus)

	byEmail, err := m.GetUserByEmail(ctx, "agent@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, byEmail.UserID)

	_, err = m.GetUserByToken(ctx, "wrong")
	assert.ErrorIs(t, err, ErrNotFound)

	err = m.CreateUser(ctx, &User{Email: "agent@example.com"})
	assert.Error(t, err)
}

func TestLLMSettings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.ActiveLLMSetting(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := &LLMSetting{Provider: "openai", Model: "gpt-4o-mini", IsActive: true}
	m.PutLLMSetting(first)
	second := &LLMSetting{Provider: "openai", Model: "gpt-4o", IsActive: true}
	m.PutLLMSetting(second)

	// Activating the second deactivates the first.
	active, err := m.ActiveLLMSetting(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	require.NoError(t, m.SetLLMHealth(ctx, second.ID, "degraded", "boom"))
	active, err = m.ActiveLLMSetting(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", active.HealthStatus)
	assert.Equal(t, "boom", active.LastError)
}

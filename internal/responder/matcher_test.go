package responder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hi!", "hi"},
		{"  What's   your pricing?  ", "whats your pricing"},
		{"HELLO THERE", "hello there"},
		{"...", ""},
		{"", ""},
		{"thanks :)", "thanks"},
		{"refund\tpolicy\nplease", "refund policy please"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func newTestMatcher(t *testing.T, rules []*store.CannedResponse) *Matcher {
	t.Helper()
	mem := store.NewMemory()
	mem.SeedCannedResponses(rules)
	return NewMatcher(context.Background(), mem, logger.Default())
}

func TestMatchClassPrecedence(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "pricing", Content: "keyword answer", MatchType: store.MatchKeyword, IsActive: true},
		{Shortcut: "pricing", Content: "prefix answer", MatchType: store.MatchPrefix, IsActive: true},
		{Shortcut: "pricing", Content: "exact answer", MatchType: store.MatchExact, IsActive: true},
	})

	// Exact beats prefix beats keyword, regardless of table order.
	got := m.Match("Pricing?")
	require.NotNil(t, got)
	assert.Equal(t, store.MatchExact, got.Rule)
	assert.Equal(t, "exact answer", got.Response.Content)

	got = m.Match("pricing for teams")
	require.NotNil(t, got)
	assert.Equal(t, store.MatchPrefix, got.Rule)

	got = m.Match("tell me about pricing please")
	require.NotNil(t, got)
	assert.Equal(t, store.MatchKeyword, got.Rule)
}

func TestMatchTableOrderBreaksTies(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "refund", Content: "first", MatchType: store.MatchKeyword, IsActive: true},
		{Shortcut: "refund", Content: "second", MatchType: store.MatchKeyword, IsActive: true},
	})

	got := m.Match("I want a refund")
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Response.Content)
}

func TestMatchKeywordWordBoundary(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "hi", Content: "Hello!", MatchType: store.MatchKeyword, IsActive: true},
	})

	assert.Nil(t, m.Match("what about shipping"), "keyword must not fire inside another word")

	got := m.Match("oh hi there")
	require.NotNil(t, got)
	assert.Equal(t, "Hello!", got.Response.Content)
}

func TestMatchMultiWordKeyword(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "business hours", Content: "9 to 5", MatchType: store.MatchKeyword, IsActive: true},
	})

	got := m.Match("what are your business hours today")
	require.NotNil(t, got)
	assert.Equal(t, "9 to 5", got.Response.Content)

	assert.Nil(t, m.Match("my business has hours"))
}

func TestMatchIgnoresShortcutRulesAndEmptyText(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "greeting", Content: "Hi, how can I help?", MatchType: store.MatchShortcut, IsActive: true},
	})

	assert.Nil(t, m.Match("greeting"))
	assert.Nil(t, m.Match("!!!"))
	assert.Nil(t, m.Match(""))
}

func TestExpand(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "greeting", Content: "Hi, how can I help?", MatchType: store.MatchShortcut, IsActive: true},
		{Shortcut: "pricing", Content: "exact answer", MatchType: store.MatchExact, IsActive: true},
	})

	content, ok := m.Expand("/greeting")
	require.True(t, ok)
	assert.Equal(t, "Hi, how can I help?", content)

	// Only shortcut rules expand.
	_, ok = m.Expand("/pricing")
	assert.False(t, ok)

	_, ok = m.Expand("/missing")
	assert.False(t, ok)
}

func TestClosing(t *testing.T) {
	m := newTestMatcher(t, []*store.CannedResponse{
		{Shortcut: "system-closing", Content: "Thanks for chatting!", MatchType: store.MatchShortcut, IsActive: true},
	})

	content, ok := m.Closing()
	require.True(t, ok)
	assert.Equal(t, "Thanks for chatting!", content)

	empty := newTestMatcher(t, nil)
	_, ok = empty.Closing()
	assert.False(t, ok)
}

func TestReloadReplacesSnapshot(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedCannedResponses([]*store.CannedResponse{
		{Shortcut: "pricing", Content: "old", MatchType: store.MatchExact, IsActive: true},
	})
	m := NewMatcher(context.Background(), mem, logger.Default())
	require.NotNil(t, m.Match("pricing"))

	mem.SeedCannedResponses([]*store.CannedResponse{
		{Shortcut: "refund", Content: "new", MatchType: store.MatchExact, IsActive: true},
	})
	require.NoError(t, m.Reload(context.Background()))

	assert.Nil(t, m.Match("pricing"))
	require.NotNil(t, m.Match("refund"))
}

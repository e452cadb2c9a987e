// Package responder answers user messages from the operator-curated
// canned-response table before any model is consulted.
package responder

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Match is a canned response that fired for a user message.
type Match struct {
	Response *store.CannedResponse
	// Rule is the match class that fired: exact, prefix or keyword.
	Rule string
}

// Matcher holds an in-memory snapshot of the active canned responses and
// evaluates user text against them. Snapshots are replaced wholesale by
// Reload; evaluation never touches the store.
type Matcher struct {
	mu    sync.RWMutex
	rules []*store.CannedResponse

	store  store.Gateway
	logger *logger.Logger
}

// NewMatcher creates a matcher and loads the initial snapshot. A load
// failure is not fatal; the matcher starts empty and a later Reload can
// populate it.
func NewMatcher(ctx context.Context, st store.Gateway, log *logger.Logger) *Matcher {
	m := &Matcher{store: st, logger: log}
	if err := m.Reload(ctx); err != nil {
		log.Warn("canned responses unavailable, starting with empty table", zap.Error(err))
	}
	return m
}

// Reload replaces the snapshot with the store's current active rules.
func (m *Matcher) Reload(ctx context.Context) error {
	rules, err := m.store.ListCannedResponses(ctx, true)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()

	m.logger.Info("canned responses loaded", zap.Int("count", len(rules)))
	return nil
}

// Match evaluates normalized user text against the snapshot. Rule classes
// are tried in order: exact, then prefix, then keyword. Within a class the
// first rule in table order wins. Shortcut rules are agent-side expansions
// and never fire on visitor text.
func (m *Matcher) Match(text string) *Match {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	m.mu.RLock()
	rules := m.rules
	m.mu.RUnlock()

	for _, class := range []string{store.MatchExact, store.MatchPrefix, store.MatchKeyword} {
		for _, rule := range rules {
			if rule.MatchType != class {
				continue
			}
			if matchesRule(normalized, Normalize(rule.Shortcut), class) {
				return &Match{Response: rule, Rule: class}
			}
		}
	}
	return nil
}

// Closing returns the configured farewell reply, if any. Operators add it
// as a rule with the reserved shortcut "system-closing".
func (m *Matcher) Closing() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rule := range m.rules {
		if rule.Shortcut == "system-closing" {
			return rule.Content, true
		}
	}
	return "", false
}

// Expand resolves an agent-side shortcut ("/greeting") to its content.
func (m *Matcher) Expand(shortcut string) (string, bool) {
	normalized := Normalize(strings.TrimPrefix(shortcut, "/"))

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rule := range m.rules {
		if rule.MatchType == store.MatchShortcut && Normalize(rule.Shortcut) == normalized {
			return rule.Content, true
		}
	}
	return "", false
}

func matchesRule(text, pattern, class string) bool {
	if pattern == "" {
		return false
	}
	switch class {
	case store.MatchExact:
		return text == pattern
	case store.MatchPrefix:
		return strings.HasPrefix(text, pattern)
	case store.MatchKeyword:
		return containsWord(text, pattern)
	}
	return false
}

// containsWord reports whether pattern appears as a whole token sequence in
// text. "hi" must not fire inside "shipping".
func containsWord(text, pattern string) bool {
	words := strings.Fields(text)
	patternWords := strings.Fields(pattern)
	if len(patternWords) == 0 || len(patternWords) > len(words) {
		return false
	}

	for i := 0; i+len(patternWords) <= len(words); i++ {
		matched := true
		for j, pw := range patternWords {
			if words[i+j] != pw {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// Normalize lowercases, strips punctuation and collapses whitespace so "Hi!"
// and "hi" compare equal.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

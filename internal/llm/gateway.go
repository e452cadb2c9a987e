// Package llm turns user messages into model completions. It owns provider
// selection, the conversation context window, the model failover list and
// the per-configuration health state.
package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/common/config"
	"github.com/relaydesk/relaydesk/internal/common/logger"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Health states persisted on the active configuration.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// recoverySuccesses is how many consecutive successes flip a degraded
// configuration back to healthy.
const recoverySuccesses = 3

// Reply is the gateway's answer for one user turn. A fallback reply is still
// a reply; callers decide presentation, not retries.
type Reply struct {
	Text         string
	Confidence   float64
	LatencyMs    int64
	Tokens       int
	ResponseType string // ai or fallback
	// RateLimited marks a fallback caused by provider throttling; the
	// routing engine escalates the session to needs_help.
	RateLimited bool
}

// configSettingID marks the synthetic setting bootstrapped from static
// config when the store has no active row.
const configSettingID = "config"

// Gateway resolves the active provider configuration, builds prompts from
// session history and calls the provider within the wall-clock budget.
type Gateway struct {
	store  store.Gateway
	cipher *store.Cipher
	cfg    config.LLMConfig
	chat   config.ChatConfig
	logger *logger.Logger

	// newProvider is swapped out by tests.
	newProvider func(apiKey, baseURL string) Provider

	mu            sync.Mutex
	provider      Provider
	model         string
	settingID     string
	degraded      bool
	successStreak int
}

// NewGateway creates a gateway. cipher may be nil when stored API keys are
// plaintext.
func NewGateway(st store.Gateway, cipher *store.Cipher, cfg config.LLMConfig, chat config.ChatConfig, log *logger.Logger) *Gateway {
	return &Gateway{
		store:  st,
		cipher: cipher,
		cfg:    cfg,
		chat:   chat,
		logger: log,
		newProvider: func(apiKey, baseURL string) Provider {
			return NewOpenAIProvider(apiKey, baseURL, cfg.MaxTokens, cfg.Temperature)
		},
	}
}

// Invalidate drops the cached provider so the next call re-resolves the
// active configuration. Called when an admin changes llm_settings.
func (g *Gateway) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.provider = nil
	g.model = ""
	g.settingID = ""
}

// Respond produces the bot turn for userText. Provider failures never
// propagate as errors; they become a fallback reply. The returned error is
// reserved for the no-configuration case.
func (g *Gateway) Respond(ctx context.Context, sessionID, userText string) (*Reply, error) {
	provider, model, settingID, err := g.resolveProvider(ctx)
	if err != nil {
		return nil, err
	}

	turns, err := g.buildTurns(ctx, sessionID, userText)
	if err != nil {
		g.logger.Warn("history unavailable, prompting without context",
			zap.String("session_id", sessionID), zap.Error(err))
		turns = []Turn{
			{Role: "system", Content: g.chat.SystemPrompt},
			{Role: "user", Content: userText},
		}
	}

	cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout())
	defer cancel()

	start := time.Now()
	completion, err := provider.Complete(cctx, model, turns)

	if errors.Is(err, ErrModelNotFound) {
		completion, err = g.failover(cctx, provider, model, turns)
	}

	latency := time.Since(start).Milliseconds()

	switch {
	case err == nil && completion.Text != "":
		g.markSuccess(ctx, settingID)
		return &Reply{
			Text:         completion.Text,
			Confidence:   0.9,
			LatencyMs:    latency,
			Tokens:       completion.Tokens,
			ResponseType: store.ResponseTypeAI,
		}, nil

	case errors.Is(err, ErrRateLimited):
		g.markFailure(ctx, settingID, err)
		g.logger.Warn("llm rate limited", zap.String("session_id", sessionID), zap.Error(err))
		return g.fallbackReply(latency, true), nil

	case errors.Is(err, ErrModelNotFound):
		// Candidate list exhausted. Not-found is not a health event.
		g.logger.Error("llm model failover exhausted",
			zap.String("session_id", sessionID),
			zap.String("model", model),
			zap.Error(err))
		return g.fallbackReply(latency, false), nil

	default:
		if err == nil {
			err = errors.New("llm: empty completion")
		}
		g.markFailure(ctx, settingID, err)
		g.logger.Error("llm call failed", zap.String("session_id", sessionID), zap.Error(err))
		return g.fallbackReply(latency, false), nil
	}
}

// failover walks the candidate model list. The first candidate that returns
// a non-empty completion becomes the cached active model; the persisted
// configuration is untouched.
func (g *Gateway) failover(ctx context.Context, provider Provider, failedModel string, turns []Turn) (*Completion, error) {
	for _, candidate := range g.cfg.FallbackModels {
		if candidate == failedModel {
			continue
		}
		completion, err := provider.Complete(ctx, candidate, turns)
		if err != nil || completion.Text == "" {
			if err != nil && !errors.Is(err, ErrModelNotFound) {
				return nil, err
			}
			continue
		}

		g.mu.Lock()
		g.model = candidate
		g.mu.Unlock()
		g.logger.Info("llm model failover",
			zap.String("from", failedModel),
			zap.String("to", candidate))
		return completion, nil
	}
	return nil, ErrModelNotFound
}

func (g *Gateway) fallbackReply(latencyMs int64, rateLimited bool) *Reply {
	return &Reply{
		Text:         g.chat.FallbackMessage,
		Confidence:   0.0,
		LatencyMs:    latencyMs,
		ResponseType: store.ResponseTypeFallback,
		RateLimited:  rateLimited,
	}
}

// resolveProvider returns the cached provider, rebuilding it when the active
// configuration changed or nothing is cached yet.
func (g *Gateway) resolveProvider(ctx context.Context) (Provider, string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.provider != nil {
		return g.provider, g.model, g.settingID, nil
	}

	setting, err := g.store.ActiveLLMSetting(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if g.cfg.APIKey == "" {
			return nil, "", "", errors.New("llm: no active configuration")
		}
		g.provider = g.newProvider(g.cfg.APIKey, g.cfg.BaseURL)
		g.model = g.cfg.Model
		g.settingID = configSettingID
		return g.provider, g.model, g.settingID, nil
	}
	if err != nil {
		return nil, "", "", err
	}

	apiKey := setting.EncryptedAPIKey
	if g.cipher != nil && apiKey != "" {
		apiKey, err = g.cipher.Decrypt(setting.EncryptedAPIKey)
		if err != nil {
			return nil, "", "", err
		}
	}

	g.provider = g.newProvider(apiKey, setting.BaseURL)
	g.model = setting.Model
	g.settingID = setting.ID
	g.degraded = setting.HealthStatus == HealthDegraded
	g.successStreak = 0
	return g.provider, g.model, g.settingID, nil
}

// buildTurns loads the last contextLimit messages ascending and maps them to
// chat turns behind the system prompt. The already-persisted current user
// turn is not duplicated.
func (g *Gateway) buildTurns(ctx context.Context, sessionID, userText string) ([]Turn, error) {
	limit := g.chat.ContextLimit
	if limit <= 0 {
		limit = 10
	}

	history, err := g.store.ListMessages(ctx, sessionID, store.ListMessagesOptions{
		Order: "desc",
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(history)+2)
	turns = append(turns, Turn{Role: "system", Content: g.chat.SystemPrompt})

	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		switch msg.Sender {
		case store.SenderUser:
			turns = append(turns, Turn{Role: "user", Content: msg.Text})
		case store.SenderBot, store.SenderAgent:
			turns = append(turns, Turn{Role: "assistant", Content: msg.Text})
		}
	}

	last := turns[len(turns)-1]
	if last.Role != "user" || last.Content != userText {
		turns = append(turns, Turn{Role: "user", Content: userText})
	}
	return turns, nil
}

func (g *Gateway) markSuccess(ctx context.Context, settingID string) {
	g.mu.Lock()
	if !g.degraded {
		g.mu.Unlock()
		return
	}
	g.successStreak++
	recovered := g.successStreak >= recoverySuccesses
	if recovered {
		g.degraded = false
		g.successStreak = 0
	}
	g.mu.Unlock()

	if recovered && settingID != configSettingID {
		if err := g.store.SetLLMHealth(ctx, settingID, HealthHealthy, ""); err != nil {
			g.logger.Warn("failed to persist llm health", zap.Error(err))
		}
	}
}

func (g *Gateway) markFailure(ctx context.Context, settingID string, cause error) {
	g.mu.Lock()
	g.degraded = true
	g.successStreak = 0
	g.mu.Unlock()

	if settingID != configSettingID {
		if err := g.store.SetLLMHealth(ctx, settingID, HealthDegraded, cause.Error()); err != nil {
			g.logger.Warn("failed to persist llm health", zap.Error(err))
		}
	}
}

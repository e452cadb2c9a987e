package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Turn is one normalized chat turn handed to a provider.
type Turn struct {
	Role    string // system, user, assistant
	Content string
}

// Completion is a successful provider result.
type Completion struct {
	Text   string
	Tokens int
}

// Provider adapts one upstream chat-completion API.
type Provider interface {
	Complete(ctx context.Context, model string, turns []Turn) (*Completion, error)
}

// Error classes the gateway routes on. Model-not-found triggers the
// candidate-list failover; rate-limit triggers the needs_help fallback.
var (
	ErrModelNotFound = errors.New("llm: model not found")
	ErrRateLimited   = errors.New("llm: rate limited")
)

// openAIProvider speaks the OpenAI chat-completions API (and compatible
// endpoints via base URL override).
type openAIProvider struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider builds a provider from a decrypted API key. baseURL may
// be empty for the default endpoint.
func NewOpenAIProvider(apiKey, baseURL string, maxTokens int, temperature float32) Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (p *openAIProvider) Complete(ctx context.Context, model string, turns []Turn) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty completion")
	}

	return &Completion{
		Text:   strings.TrimSpace(resp.Choices[0].Message.Content),
		Tokens: resp.Usage.TotalTokens,
	}, nil
}

// classifyError maps provider errors onto the gateway's routing classes,
// keeping the original error wrapped for logs.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 404:
			return errors.Join(ErrModelNotFound, err)
		case apiErr.HTTPStatusCode == 429:
			return errors.Join(ErrRateLimited, err)
		}
		if code, ok := apiErr.Code.(string); ok && code == "model_not_found" {
			return errors.Join(ErrModelNotFound, err)
		}
	}
	return err
}

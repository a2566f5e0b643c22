// Package anthropic implements the llm.Completer port on the Anthropic
// Messages API, for deployments that call Claude directly instead of going
// through the LiteLLM proxy.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/llm"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/resilience"
)

const defaultMaxTokens = 1024

// ErrAPIKeyRequired is returned by New when no API key is configured.
var ErrAPIKeyRequired = errors.New("anthropic: api key required")

// Completer calls the Messages API.
type Completer struct {
	client  sdk.Client
	breaker *resilience.Breaker
	apiKey  func() string
}

// New creates a Completer. Extra options are appended after the API key,
// so tests can point the client at an httptest server.
func New(apiKey string, opts ...option.RequestOption) (*Completer, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Completer{client: sdk.NewClient(all...)}, nil
}

// SetBreaker attaches a circuit breaker to all calls.
func (c *Completer) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetKeySource makes every call authenticate with the key returned by fn,
// falling back to the constructor key when fn returns "".
func (c *Completer) SetKeySource(fn func() string) {
	c.apiKey = fn
}

// Complete implements llm.Completer and returns the first text block.
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Messages:    toMessages(req.Messages),
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	var text string
	call := func() error {
		var opts []option.RequestOption
		if c.apiKey != nil {
			if key := c.apiKey(); key != "" {
				opts = append(opts, option.WithAPIKey(key))
			}
		}
		msg, err := c.client.Messages.New(ctx, params, opts...)
		if err != nil {
			return fmt.Errorf("anthropic messages: %w", err)
		}
		for _, block := range msg.Content {
			if block.Type == "text" {
				text = block.Text
				return nil
			}
		}
		return fmt.Errorf("anthropic messages: no text block in response")
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return "", err
		}
		return text, nil
	}
	if err := call(); err != nil {
		return "", err
	}
	return text, nil
}

func toMessages(in []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(in))
	for _, m := range in {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

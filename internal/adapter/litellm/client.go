// Package litellm implements llm.Completer against a LiteLLM proxy's
// OpenAI-compatible /v1/chat/completions endpoint.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/llm"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/resilience"
)

const (
	completionsPath = "/v1/chat/completions"
	requestTimeout  = 60 * time.Second
	maxResponseSize = 1 << 20
	maxErrorBody    = 512
)

// ErrEmptyCompletion is returned when the proxy answers without choices.
var ErrEmptyCompletion = errors.New("litellm: completion has no choices")

// StatusError is a non-2xx proxy answer. 429 matches domain.ErrRateLimited
// and 5xx matches domain.ErrUnavailable under errors.Is.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("litellm: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case domain.ErrUnavailable:
		return e.Code >= http.StatusInternalServerError
	}
	return false
}

// Client calls the proxy. The zero breaker and key source are allowed.
type Client struct {
	baseURL   string
	masterKey string
	http      *http.Client
	breaker   *resilience.Breaker
	keySource func() string
}

// NewClient returns a client for the proxy at baseURL.
func NewClient(baseURL, masterKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// SetBreaker routes every completion through b.
func (c *Client) SetBreaker(b *resilience.Breaker) { c.breaker = b }

// SetKeySource reads the master key from fn per request so a rotated key
// applies without a restart. "" falls back to the constructor key.
func (c *Client) SetKeySource(fn func() string) { c.keySource = fn }

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []llm.Message   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements llm.Completer. The system prompt is sent as the first
// message.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	cr := chatRequest{
		Model:       req.Model,
		Messages:    make([]llm.Message, 0, len(req.Messages)+1),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		cr.Messages = append(cr.Messages, llm.Message{Role: "system", Content: req.System})
	}
	cr.Messages = append(cr.Messages, req.Messages...)
	if req.JSON {
		cr.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("litellm: encode request: %w", err)
	}

	var out chatResponse
	call := func() error { return c.post(ctx, body, &out) }
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, body []byte, out *chatResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("litellm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("litellm: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("litellm: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("litellm: decode response: %w", err)
	}
	return nil
}

func (c *Client) key() string {
	if c.keySource != nil {
		if k := c.keySource(); k != "" {
			return k
		}
	}
	return c.masterKey
}

// Package llm defines the chat completion port used by AI-assisted features.
package llm

import "context"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSON asks providers that support it to constrain output to a JSON object.
	JSON        bool
}

// Completer returns the text of a single model completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

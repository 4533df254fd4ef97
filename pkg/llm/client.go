// Package llm talks to OpenAI-compatible chat and embedding endpoints.
package llm

import (
	"context"
	"fmt"
)

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and User build single messages.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

// Client is a chat completion provider.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

// SamplingOptions are passed through to the provider; zero values are
// omitted from the request.
type SamplingOptions struct {
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content      string
	FinishReason string
}

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the provider signalled a transient failure.
// The explainer falls back to its template instead of retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

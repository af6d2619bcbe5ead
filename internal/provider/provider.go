// Package provider abstracts LLM backends behind a single Generate
// interface and manages the set of configured backends as an
// atomically swappable registry.
package provider

import "context"

// Message is one entry of the outbound message list, using the
// lowercase role spelling LLM APIs expect.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Model overrides the provider's configured model when non-empty.
	Model string
}

// Response is a completed generation.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Provider is one configured LLM backend. Generate blocks until the
// backend replies or ctx is done. Close releases the provider's
// resources; in-flight Generate calls are allowed to finish.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
	Close()
}

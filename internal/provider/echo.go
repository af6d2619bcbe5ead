package provider

import "context"

// EchoProvider is the placeholder backend substituted when a provider
// cannot be built for real (missing API key, unknown type). It repeats
// the most recent user message, which keeps the engine operable and
// testable before credentials are configured.
type EchoProvider struct {
	name string
}

// NewEchoProvider creates a placeholder provider carrying name.
func NewEchoProvider(name string) *EchoProvider {
	return &EchoProvider{name: name}
}

func (p *EchoProvider) Name() string { return p.name }

// Generate returns the last user message verbatim.
func (p *EchoProvider) Generate(_ context.Context, req Request) (*Response, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return &Response{Content: req.Messages[i].Content}, nil
		}
	}
	return &Response{Content: ""}, nil
}

func (p *EchoProvider) Close() {}

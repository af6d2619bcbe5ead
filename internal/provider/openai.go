package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/arceus/mrp/internal/config"
	"github.com/arceus/mrp/internal/httpkit"
)

const (
	// openaiWorkers bounds concurrent requests per provider instance.
	openaiWorkers = 4
	// minTimeout is the floor applied to configured request timeouts.
	minTimeout = 5 * time.Second
)

// OpenAIProvider talks to any OpenAI-compatible chat completions
// endpoint. All network work runs on a small worker pool owned by the
// instance, so closing the registry never blocks on a slow backend.
type OpenAIProvider struct {
	cfg        config.ProviderConfig
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	jobs chan openaiJob
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type openaiJob struct {
	ctx   context.Context
	req   Request
	reply chan openaiResult
}

type openaiResult struct {
	resp *Response
	err  error
}

// NewOpenAIProvider creates a provider for one configured backend and
// starts its worker pool.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout < minTimeout {
		timeout = minTimeout
	}

	// Responses can take a while before headers arrive (model thinking,
	// long prompts), so the header timeout follows the request timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = timeout

	p := &OpenAIProvider{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.APIBase, "/") + "/chat/completions",
		logger:   logger.With("provider", cfg.Name),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(t),
		),
		jobs: make(chan openaiJob),
		done: make(chan struct{}),
	}
	for i := 0; i < openaiWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string {
	return p.cfg.Name
}

// Generate submits the request to the worker pool and waits for the
// result or ctx cancellation. The submit selects on the shutdown
// channel rather than checking a flag, so a Generate racing Close fails
// cleanly instead of sending on a closed channel.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	job := openaiJob{ctx: ctx, req: req, reply: make(chan openaiResult, 1)}
	select {
	case p.jobs <- job:
	case <-p.done:
		return nil, fmt.Errorf("provider %s is closed", p.cfg.Name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-job.reply:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new requests and waits for in-flight ones to
// finish.
func (p *OpenAIProvider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}

func (p *OpenAIProvider) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			resp, err := p.do(job.ctx, job.req)
			job.reply <- openaiResult{resp: resp, err: err}
		case <-p.done:
			return
		}
	}
}

// Wire types for the chat completions endpoint.

type openaiRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Messages    []Message `json:"messages"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) do(ctx context.Context, req Request) (*Response, error) {
	model := p.cfg.Model
	if req.Model != "" {
		model = req.Model
	}

	body := openaiRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    req.Messages,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		p.logger.Error("API error", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("%s API error %d: %s", p.cfg.Name, httpResp.StatusCode, errBody)
	}

	var parsed openaiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.cfg.Name)
	}

	resp := &Response{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}

	p.logger.Debug("response received",
		"model", model,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	p.logger.Log(ctx, config.LevelTrace, "response content", "content", resp.Content)

	return resp, nil
}

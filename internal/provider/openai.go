// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Default base URLs for the OpenAI-compatible backends.
const (
	DefaultDeepSeekURL = "https://api.deepseek.com"
	DefaultQwenURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultOpenAIURL   = "https://api.openai.com/v1"

	// MaxResponseSize is the maximum allowed one-shot response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024

	completionsPath = "/chat/completions"
)

// Dialect selects how message content and thinking options are encoded.
type Dialect int

const (
	// DialectText sends content as a single string (DeepSeek, OpenAI).
	DialectText Dialect = iota

	// DialectMultimodal sends content arrays with image_url items and the
	// enable_thinking / thinking_budget fields (Qwen).
	DialectMultimodal
)

// DefaultBaseURL returns the default endpoint for a backend type.
func DefaultBaseURL(t model.ProviderType) string {
	switch t {
	case model.ProviderDeepSeek:
		return DefaultDeepSeekURL
	case model.ProviderQwen:
		return DefaultQwenURL
	case model.ProviderOpenAI:
		return DefaultOpenAIURL
	}
	return ""
}

// DefaultDialect returns the dialect a backend type speaks.
func DefaultDialect(t model.ProviderType) Dialect {
	if t == model.ProviderQwen {
		return DialectMultimodal
	}
	return DialectText
}

// =============================================================================
// CONFIG
// =============================================================================

// Config configures an OpenAI-compatible client.
type Config struct {
	Type    model.ProviderType
	BaseURL string
	APIKey  string
	Dialect Dialect

	Timeouts Timeouts

	// Headers are sent with every request.
	Headers map[string]string

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a Provider speaking the OpenAI chat completions protocol with
// DeepSeek-style reasoning_content deltas.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a client from cfg. A missing base URL falls back to the
// default for cfg.Type.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(cfg.Type)
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	c := &Client{
		cfg:        cfg,
		endpoint:   completionsURL(cfg.BaseURL),
		httpClient: newHTTPClient(cfg.Timeouts),
		log:        zerolog.Nop(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// WithLogger sets the logger used for request and decode diagnostics.
func (c *Client) WithLogger(log zerolog.Logger) *Client {
	c.log = log.With().Str("provider", string(c.cfg.Type)).Logger()
	return c
}

// WithHTTPClient replaces the HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Type implements Provider.
func (c *Client) Type() model.ProviderType {
	return c.cfg.Type
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIKey != ""
}

// Endpoint returns the resolved chat completions URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// completionsURL appends the completions path unless base already has it.
func completionsURL(base string) string {
	base = strings.TrimSuffix(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, completionsPath) {
		return base
	}
	return base + completionsPath
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *Client) buildRequest(messages []model.Message, params model.GenerationParams, stream bool) chatRequest {
	req := chatRequest{
		Model:       params.Model,
		Messages:    encodeMessages(messages, c.cfg.Dialect),
		Stream:      stream,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if c.cfg.Dialect == DialectMultimodal && params.ThinkingBudget != nil && *params.ThinkingBudget != 0 {
		req.EnableThinking = model.Bool(true)
		if *params.ThinkingBudget > 0 {
			req.ThinkingBudget = params.ThinkingBudget
		}
	}
	return req
}

// post sends the request body and returns the response when the status is
// 200. Any other status is converted to a typed error.
func (c *Client) post(ctx context.Context, body []byte, params model.GenerationParams, stream bool) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, params)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	// Never log headers (auth) or bodies (conversation content).
	c.log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Bool("stream", stream).Msg("api request")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.log.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("api response")

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, errorFromResponse(resp.StatusCode, resp.Header, errBody)
	}
	return resp, nil
}

// setHeaders applies auth, content type, configured and per-request headers.
func (c *Client) setHeaders(req *http.Request, params model.GenerationParams) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rigchat/0.1.0")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

// StreamText implements Provider.
func (c *Client) StreamText(ctx context.Context, messages []model.Message, params model.GenerationParams) (Stream, error) {
	body, err := buildRequestBody(c.buildRequest(messages, params, true), params.ExtraBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, body, params, true)
	if err != nil {
		return nil, err
	}
	return newSSEStream(ctx, resp.Body, c.log), nil
}

// GenerateText implements Provider.
func (c *Client) GenerateText(ctx context.Context, messages []model.Message, params model.GenerationParams) (model.Message, error) {
	body, err := buildRequestBody(c.buildRequest(messages, params, false), params.ExtraBody)
	if err != nil {
		return model.Message{}, err
	}
	resp, err := c.post(ctx, body, params, false)
	if err != nil {
		return model.Message{}, err
	}
	defer resp.Body.Close()

	// SECURITY: Limit response size to prevent memory exhaustion
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return model.Message{}, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return model.Message{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return decodeResponse(out, time.Now())
}

// =============================================================================
// SSE STREAM
// =============================================================================

// sseStream decodes an event stream into chunks. A finishing chunk is held
// back until the next event so that a trailing usage-only chunk (sent by
// backends honoring include_usage) can be folded into it.
type sseStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *SSEReader
	log    zerolog.Logger

	seq     int
	queue   []model.MessageChunk
	pending *model.MessageChunk
	current model.MessageChunk
	done    bool
	err     error

	closeOnce sync.Once
}

func newSSEStream(ctx context.Context, body io.ReadCloser, log zerolog.Logger) *sseStream {
	return &sseStream{
		ctx:    ctx,
		body:   body,
		reader: NewSSEReader(body),
		log:    log,
	}
}

// Next implements Stream.
func (s *sseStream) Next() bool {
	for len(s.queue) == 0 {
		if s.done {
			if s.pending == nil {
				return false
			}
			s.queue = append(s.queue, *s.pending)
			s.pending = nil
			break
		}
		s.readEvent()
	}
	s.current = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

// Current implements Stream.
func (s *sseStream) Current() model.MessageChunk {
	return s.current
}

// Err implements Stream.
func (s *sseStream) Err() error {
	return s.err
}

// Close implements Stream.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}

func (s *sseStream) fail(err error) {
	s.err = err
	s.done = true
	s.pending = nil
	s.Close()
}

// readEvent reads one event and queues the chunks it yields.
func (s *sseStream) readEvent() {
	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return
	}

	_, data, err := s.reader.ReadEvent()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.fail(ctxErr)
			return
		}
		if s.pending != nil {
			// The turn already finished; a broken trailer does not matter.
			s.done = true
			return
		}
		s.fail(fmt.Errorf("stream read failed: %w", err))
		return
	}

	if bytes.Equal(data, doneSentinel) {
		s.done = true
		return
	}

	chunk, err := decodeChunk(data, s.seq, time.Now())
	if err != nil {
		// Skip malformed chunks
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("skipping malformed stream chunk")
		return
	}
	s.seq++

	if s.pending != nil {
		held := *s.pending
		s.pending = nil
		if len(chunk.Choices) == 0 && chunk.Usage != nil {
			held.Usage = model.MergeUsage(held.Usage, chunk.Usage)
			s.queue = append(s.queue, held)
			return
		}
		s.queue = append(s.queue, held)
	}

	if chunk.IsFinished() {
		s.pending = &chunk
		return
	}
	s.queue = append(s.queue, chunk)
}

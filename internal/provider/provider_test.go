// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

// sseServer returns a server writing the given event bodies as data lines
// followed by [DONE].
func sseServer(t *testing.T, events []string, inspect func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			var body map[string]any
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &body)
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestClient(baseURL string, dialect Dialect) *Client {
	return NewClient(Config{
		Type:    model.ProviderDeepSeek,
		BaseURL: baseURL,
		APIKey:  "sk-test",
		Dialect: dialect,
	})
}

func collect(t *testing.T, s Stream) []model.MessageChunk {
	t.Helper()
	defer s.Close()
	var chunks []model.MessageChunk
	for s.Next() {
		chunks = append(chunks, s.Current())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	return chunks
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_ReadEvent(t *testing.T) {
	input := "event: message\ndata: {\"a\":1}\n\n: comment\ndata:{\"b\":2}\r\n\r\ndata: line1\ndata: line2\n\ndata: tail"
	r := NewSSEReader(strings.NewReader(input))

	tests := []struct {
		eventType string
		data      string
	}{
		{"message", `{"a":1}`},
		{"", `{"b":2}`},
		{"", "line1\nline2"},
		{"", "tail"},
	}
	for i, tc := range tests {
		eventType, data, err := r.ReadEvent()
		if err != nil {
			t.Fatalf("event %d: unexpected error %v", i, err)
		}
		if eventType != tc.eventType || string(data) != tc.data {
			t.Errorf("event %d = (%q, %q), want (%q, %q)", i, eventType, data, tc.eventType, tc.data)
		}
	}
	if _, _, err := r.ReadEvent(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestSSEReader_EventTooLarge(t *testing.T) {
	big := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n\n"
	r := NewSSEReader(strings.NewReader(big))
	if _, _, err := r.ReadEvent(); !errors.Is(err, ErrEventTooLarge) {
		t.Errorf("expected ErrEventTooLarge, got %v", err)
	}
}

func TestSSEReader_LineFramed(t *testing.T) {
	// No blank lines between events: each complete data line is one event.
	input := "data: {\"a\":1}\ndata: {\"b\":\ndata: 2}\ndata: [DONE]\n"
	r := NewSSEReader(strings.NewReader(input))

	want := []string{`{"a":1}`, "{\"b\":\n2}", "[DONE]"}
	for i, w := range want {
		_, data, err := r.ReadEvent()
		if err != nil {
			t.Fatalf("event %d: unexpected error %v", i, err)
		}
		if string(data) != w {
			t.Errorf("event %d = %q, want %q", i, data, w)
		}
	}
	if _, _, err := r.ReadEvent(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestSSEReader_DoneWithoutTrailingBlankLine(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go fmt.Fprint(pw, "data: [DONE]\n")

	done := make(chan []byte, 1)
	go func() {
		_, data, _ := NewSSEReader(pr).ReadEvent()
		done <- data
	}()
	select {
	case data := <-done:
		if string(data) != "[DONE]" {
			t.Errorf("data = %q, want [DONE]", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("[DONE] waited for a blank line")
	}
}

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestDecodeChunk(t *testing.T) {
	now := time.Now()

	t.Run("reasoning and content", func(t *testing.T) {
		chunk, err := decodeChunk([]byte(`{"id":"c1","model":"m","choices":[{"index":0,"delta":{"reasoning_content":"hm","content":"ok"}}]}`), 0, now)
		if err != nil {
			t.Fatal(err)
		}
		parts := chunk.DeltaParts()
		if len(parts) != 2 {
			t.Fatalf("got %d parts, want 2", len(parts))
		}
		r, ok := parts[0].(model.ReasoningPart)
		if !ok || r.Text != "hm" || !r.IsOpen() {
			t.Errorf("reasoning part = %#v", parts[0])
		}
		if p, ok := parts[1].(model.TextPart); !ok || p.Text != "ok" {
			t.Errorf("text part = %#v", parts[1])
		}
	})

	t.Run("finish closes reasoning", func(t *testing.T) {
		chunk, err := decodeChunk([]byte(`{"choices":[{"delta":{"reasoning_content":"x"},"finish_reason":"stop"}]}`), 3, now)
		if err != nil {
			t.Fatal(err)
		}
		r := chunk.DeltaParts()[0].(model.ReasoningPart)
		if r.IsOpen() {
			t.Error("reasoning should be closed on finish")
		}
		if chunk.ID != "chunk-3" {
			t.Errorf("ID = %q, want chunk-3", chunk.ID)
		}
	})

	t.Run("empty and null fields produce no parts", func(t *testing.T) {
		chunk, err := decodeChunk([]byte(`{"id":"c","choices":[{"delta":{"content":"","reasoning_content":null}}]}`), 0, now)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(chunk.DeltaParts()); n != 0 {
			t.Errorf("got %d parts, want 0", n)
		}
	})

	t.Run("whitespace content is kept", func(t *testing.T) {
		chunk, _ := decodeChunk([]byte(`{"id":"c","choices":[{"delta":{"content":" "}}]}`), 0, now)
		if n := len(chunk.DeltaParts()); n != 1 {
			t.Errorf("got %d parts, want 1", n)
		}
	})

	t.Run("usage with cache hits", func(t *testing.T) {
		chunk, _ := decodeChunk([]byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6,"prompt_cache_hit_tokens":2}}`), 0, now)
		want := model.TokenUsage{PromptTokens: 5, CompletionTokens: 1, CachedTokens: 2, TotalTokens: 6}
		if chunk.Usage == nil || *chunk.Usage != want {
			t.Errorf("usage = %+v, want %+v", chunk.Usage, want)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := decodeChunk([]byte(`{not json`), 0, now); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestEncodeMessages(t *testing.T) {
	msgs := []model.Message{
		model.NewSystemMessage("be brief"),
		model.NewMessage(model.RoleUser, model.TextPart{Text: "what is"}, model.TextPart{Text: "this?"}, model.ImagePart{URL: "https://x/y.png"}),
		model.NewMessage(model.RoleAssistant, model.ReasoningPart{Text: "secret"}, model.TextPart{Text: "a cat"}),
	}

	t.Run("text dialect", func(t *testing.T) {
		out := encodeMessages(msgs, DialectText)
		if out[1].Content != "what is this?" {
			t.Errorf("user content = %#v", out[1].Content)
		}
		if out[2].Content != "a cat" {
			t.Errorf("assistant content = %#v, reasoning must not be sent", out[2].Content)
		}
		if out[0].Role != "system" {
			t.Errorf("role = %q, want system", out[0].Role)
		}
	})

	t.Run("multimodal dialect", func(t *testing.T) {
		out := encodeMessages(msgs, DialectMultimodal)
		items, ok := out[1].Content.([]wireContentItem)
		if !ok {
			t.Fatalf("user content = %#v, want content items", out[1].Content)
		}
		if len(items) != 3 || items[2].Type != "image_url" || items[2].ImageURL.URL != "https://x/y.png" {
			t.Errorf("items = %#v", items)
		}
		if out[0].Content != "be brief" {
			t.Errorf("text-only message should stay a string, got %#v", out[0].Content)
		}
	})
}

func TestCompletionsURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://api.deepseek.com", "https://api.deepseek.com/chat/completions"},
		{"https://api.deepseek.com/", "https://api.deepseek.com/chat/completions"},
		{"https://host/v1/chat/completions", "https://host/v1/chat/completions"},
	}
	for _, tc := range tests {
		if got := completionsURL(tc.in); got != tc.want {
			t.Errorf("completionsURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestClient_StreamText(t *testing.T) {
	events := []string{
		`{"id":"1","model":"deepseek-reasoner","choices":[{"index":0,"delta":{"reasoning_content":"Let's"}}]}`,
		`{oops`,
		`{"id":"2","model":"deepseek-reasoner","choices":[{"index":0,"delta":{"reasoning_content":" think."}}]}`,
		`{"id":"3","model":"deepseek-reasoner","choices":[{"index":0,"delta":{"content":"42"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`,
	}

	var gotAuth, gotPath string
	var gotBody map[string]any
	server := sseServer(t, events, func(r *http.Request, body map[string]any) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody = body
	})
	defer server.Close()

	client := newTestClient(server.URL, DialectText)
	params := model.GenerationParams{Model: "deepseek-reasoner", Temperature: model.Float(0.7), MaxTokens: model.Int(100)}
	stream, err := client.StreamText(context.Background(), []model.Message{model.NewUserMessage("q")}, params)
	if err != nil {
		t.Fatalf("StreamText failed: %v", err)
	}
	chunks := collect(t, stream)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (malformed chunk skipped)", len(chunks))
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["model"] != "deepseek-reasoner" || gotBody["stream"] != true || gotBody["max_tokens"] != float64(100) {
		t.Errorf("request body = %v", gotBody)
	}
	if _, ok := gotBody["top_p"]; ok {
		t.Error("unset top_p should be omitted")
	}

	msg := model.NewMessage(model.RoleAssistant, model.ReasoningPart{CreatedAt: time.Now()})
	for _, c := range chunks {
		msg = model.AppendChunk(msg, c)
	}
	r, _ := msg.Reasoning()
	if r.Text != "Let's think." || msg.Text("") != "42" {
		t.Errorf("accumulated reasoning=%q text=%q", r.Text, msg.Text(""))
	}
	if msg.Usage == nil || msg.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", msg.Usage)
	}
}

func TestClient_StreamFoldsTrailingUsage(t *testing.T) {
	events := []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"id":"2","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"3","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`,
	}
	server := sseServer(t, events, nil)
	defer server.Close()

	stream, err := newTestClient(server.URL, DialectText).StreamText(context.Background(), nil, model.GenerationParams{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	last := chunks[1]
	if !last.IsFinished() || last.Usage == nil || last.Usage.TotalTokens != 4 {
		t.Errorf("finish chunk = %+v usage=%+v", last, last.Usage)
	}
}

func TestClient_StreamNonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","code":"invalid_api_key"}}`, ErrAuthFailed},
		{"not found", http.StatusNotFound, `{"error":{"message":"no model","code":404}}`, ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited},
		{"payment", http.StatusPaymentRequired, `insufficient balance`, ErrInsufficientCredits},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, DialectText).StreamText(context.Background(), nil, model.GenerationParams{Model: "m"})
			if !errors.Is(err, tc.target) {
				t.Fatalf("error = %v, want %v", err, tc.target)
			}
			var rl *RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter != 7*time.Second {
				t.Errorf("RetryAfter = %v, want 7s", rl.RetryAfter)
			}
		})
	}
}

func TestClient_ServerErrorIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, DialectText).StreamText(context.Background(), nil, model.GenerationParams{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Errorf("error = %v, want APIError 502", err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{Type: model.ProviderDeepSeek, BaseURL: "http://127.0.0.1:1"})
	if _, err := c.StreamText(context.Background(), nil, model.GenerationParams{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestClient_StreamCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := newTestClient(server.URL, DialectText).StreamText(ctx, nil, model.GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if !stream.Next() {
		t.Fatalf("expected first chunk, err=%v", stream.Err())
	}
	cancel()

	done := make(chan bool)
	go func() { done <- stream.Next() }()
	select {
	case more := <-done:
		if more {
			t.Error("Next() after cancel should return false")
		}
		if !errors.Is(stream.Err(), context.Canceled) {
			t.Errorf("Err() = %v, want context.Canceled", stream.Err())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestClient_StreamLineFramed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"reasoning_content\":\"hmm\"}}]}\n")
		fmt.Fprint(w, "data: {\"id\":\"2\",\"choices\":[{\"delta\":{\"content\":\"42\"},\"finish_reason\":\"stop\"}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer server.Close()

	stream, err := newTestClient(server.URL, DialectText).StreamText(context.Background(), nil, model.GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[1].FinishReason() != "stop" {
		t.Errorf("finish reason = %q, want stop", chunks[1].FinishReason())
	}
}

func TestClient_StreamReadTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{
		Type:     model.ProviderDeepSeek,
		BaseURL:  server.URL,
		APIKey:   "sk-test",
		Timeouts: Timeouts{Read: 100 * time.Millisecond},
	})
	stream, err := client.StreamText(context.Background(), nil, model.GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if !stream.Next() {
		t.Fatalf("expected first chunk, err=%v", stream.Err())
	}
	start := time.Now()
	if stream.Next() {
		t.Fatal("stalled stream yielded another chunk")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("read timeout took %v", elapsed)
	}
	if err := stream.Err(); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Err() = %v, want a read timeout", err)
	}
}

func TestTimeouts_WithDefaults(t *testing.T) {
	got := Timeouts{Read: time.Second}.withDefaults()
	want := Timeouts{Connect: DefaultConnectTimeout, Read: time.Second, Write: DefaultWriteTimeout}
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}

func TestClient_QwenThinkingFields(t *testing.T) {
	var gotBody map[string]any
	server := sseServer(t, nil, func(r *http.Request, body map[string]any) { gotBody = body })
	defer server.Close()

	c := NewClient(Config{Type: model.ProviderQwen, BaseURL: server.URL, APIKey: "k", Dialect: DialectMultimodal})
	params := model.GenerationParams{Model: "qwen-plus", ThinkingBudget: model.Int(1024), ExtraBody: map[string]any{"seed": 7}}
	stream, err := c.StreamText(context.Background(), []model.Message{model.NewUserMessage("q")}, params)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, stream)

	if gotBody["enable_thinking"] != true || gotBody["thinking_budget"] != float64(1024) {
		t.Errorf("thinking fields missing: %v", gotBody)
	}
	if gotBody["seed"] != float64(7) {
		t.Errorf("extra body not merged: %v", gotBody)
	}
}

func TestClient_RateLimiterPacesRequests(t *testing.T) {
	var hits atomic.Int32
	server := sseServer(t, nil, func(r *http.Request, body map[string]any) { hits.Add(1) })
	defer server.Close()

	c := NewClient(Config{Type: model.ProviderDeepSeek, BaseURL: server.URL, APIKey: "k", RequestsPerSecond: 0.001, Burst: 1})

	stream, err := c.StreamText(context.Background(), nil, model.GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, stream)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.StreamText(ctx, nil, model.GenerationParams{}); err == nil {
		t.Error("second request should be blocked by the limiter")
	}
	if hits.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", hits.Load())
	}
}

// =============================================================================
// ONE-SHOT TESTS
// =============================================================================

func TestClient_GenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != false {
			t.Errorf("stream = %v, want false", body["stream"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r1","model":"deepseek-chat","choices":[{"index":0,"message":{"role":"assistant","content":"hello","reasoning_content":"greet"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`))
	}))
	defer server.Close()

	msg, err := newTestClient(server.URL, DialectText).GenerateText(context.Background(), []model.Message{model.NewUserMessage("hi")}, model.GenerationParams{Model: "deepseek-chat"})
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if msg.Role != model.RoleAssistant || msg.Text("") != "hello" || msg.ReasoningContent() != "greet" {
		t.Errorf("message = %#v", msg)
	}
	if r, _ := msg.Reasoning(); r.IsOpen() {
		t.Error("one-shot reasoning should be closed")
	}
	if msg.Usage == nil || msg.Usage.TotalTokens != 3 {
		t.Errorf("usage = %+v", msg.Usage)
	}
}

func TestClient_GenerateTextEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"r1","choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, DialectText).GenerateText(context.Background(), nil, model.GenerationParams{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistry(t *testing.T) {
	ds := NewClient(Config{Type: model.ProviderDeepSeek})
	qw := NewClient(Config{Type: model.ProviderQwen})
	r := NewRegistry(ds, qw)

	got, err := r.Get(model.ProviderQwen)
	if err != nil || got != qw {
		t.Errorf("Get(QWEN) = %v, %v", got, err)
	}
	if _, err := r.Get(model.ProviderClaude); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Get(CLAUDE) error = %v, want ErrProviderNotFound", err)
	}
	types := r.Types()
	if len(types) != 2 || types[0] != model.ProviderDeepSeek {
		t.Errorf("Types() = %v", types)
	}
}

func TestMessageStream(t *testing.T) {
	msg := model.NewAssistantMessage("done").WithUsage(model.TokenUsage{TotalTokens: 1})
	s := MessageStream(msg)
	if !s.Next() {
		t.Fatal("expected one chunk")
	}
	c := s.Current()
	if !c.IsFinished() || c.DeltaParts()[0].(model.TextPart).Text != "done" {
		t.Errorf("chunk = %+v", c)
	}
	if s.Next() {
		t.Error("expected a single chunk")
	}
}

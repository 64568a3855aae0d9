// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// wireMessage is one entry of the outbound messages array. Content is a
// string, or an array of content items in the multimodal dialect.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wireContentItem struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatRequest is the body of POST /chat/completions.
type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []wireMessage  `json:"messages"`
	Stream         bool           `json:"stream"`
	Temperature    *float64       `json:"temperature,omitempty"`
	TopP           *float64       `json:"top_p,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	EnableThinking *bool          `json:"enable_thinking,omitempty"`
	ThinkingBudget *int           `json:"thinking_budget,omitempty"`
	StreamOptions  *streamOptions `json:"stream_options,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type wireUsage struct {
	PromptTokens         int `json:"prompt_tokens"`
	CompletionTokens     int `json:"completion_tokens"`
	TotalTokens          int `json:"total_tokens"`
	PromptCacheHitTokens int `json:"prompt_cache_hit_tokens"`
	PromptTokensDetails  *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (u *wireUsage) toModel() *model.TokenUsage {
	if u == nil {
		return nil
	}
	cached := u.PromptCacheHitTokens
	if cached == 0 && u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	return &model.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CachedTokens:     cached,
		TotalTokens:      u.TotalTokens,
	}
}

type wireDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
}

// wireChunk is one streamed event body.
type wireChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int       `json:"index"`
		Delta        wireDelta `json:"delta"`
		FinishReason *string   `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// chatResponse is a one-shot (non-streaming) completion.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int       `json:"index"`
		Message      wireDelta `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// =============================================================================
// ENCODING
// =============================================================================

// encodeMessages converts history into the wire form for the dialect.
// Reasoning parts are never sent.
func encodeMessages(messages []model.Message, dialect Dialect) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		m = m.ForUpload()
		if dialect == DialectMultimodal && hasMedia(m) {
			out = append(out, wireMessage{Role: m.Role.String(), Content: contentItems(m)})
			continue
		}
		out = append(out, wireMessage{Role: m.Role.String(), Content: m.Text(" ")})
	}
	return out
}

func hasMedia(m model.Message) bool {
	for _, part := range m.Parts {
		switch part.(type) {
		case model.ImagePart, model.DocumentPart:
			return true
		}
	}
	return false
}

func contentItems(m model.Message) []wireContentItem {
	items := make([]wireContentItem, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch p := part.(type) {
		case model.TextPart:
			items = append(items, wireContentItem{Type: "text", Text: p.Text})
		case model.ImagePart:
			items = append(items, wireContentItem{Type: "image_url", ImageURL: &wireImageURL{URL: p.URL}})
		case model.DocumentPart:
			items = append(items, wireContentItem{Type: "text", Text: "[Document: " + p.FileName + "]"})
		}
	}
	return items
}

// buildRequestBody marshals the request and merges any extra body fields
// on top of the typed ones.
func buildRequestBody(req chatRequest, extra map[string]any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if len(extra) == 0 {
		return body, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, fmt.Errorf("failed to merge request body: %w", err)
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// =============================================================================
// DECODING
// =============================================================================

// decodeChunk converts one event body into a MessageChunk. seq is the
// position of the chunk in the stream, used when the backend sends no id.
func decodeChunk(data []byte, seq int, now time.Time) (model.MessageChunk, error) {
	var wc wireChunk
	if err := json.Unmarshal(data, &wc); err != nil {
		return model.MessageChunk{}, err
	}

	chunk := model.MessageChunk{
		ID:    wc.ID,
		Model: wc.Model,
		Usage: wc.Usage.toModel(),
	}
	if chunk.ID == "" {
		chunk.ID = fmt.Sprintf("chunk-%d", seq)
	}

	for _, wch := range wc.Choices {
		delta := model.Message{ID: chunk.ID, Role: model.RoleAssistant, CreatedAt: now, ModelID: wc.Model}
		if wch.Delta.ReasoningContent != nil && *wch.Delta.ReasoningContent != "" {
			delta.Parts = append(delta.Parts, model.ReasoningPart{Text: *wch.Delta.ReasoningContent, CreatedAt: now})
		}
		if wch.Delta.Content != nil && *wch.Delta.Content != "" {
			delta.Parts = append(delta.Parts, model.TextPart{Text: *wch.Delta.Content})
		}

		choice := model.MessageChoice{Index: wch.Index, Delta: &delta}
		if wch.FinishReason != nil && *wch.FinishReason != "" {
			choice.FinishReason = *wch.FinishReason
			delta = model.CloseReasoning(delta, now)
			choice.Delta = &delta
		}
		chunk.Choices = append(chunk.Choices, choice)
	}
	return chunk, nil
}

// decodeResponse converts a one-shot completion into a finished message.
func decodeResponse(resp chatResponse, now time.Time) (model.Message, error) {
	if len(resp.Choices) == 0 {
		return model.Message{}, ErrEmptyResponse
	}
	choice := resp.Choices[0]

	msg := model.NewMessage(model.RoleAssistant)
	msg.ModelID = resp.Model
	if r := choice.Message.ReasoningContent; r != nil && *r != "" {
		msg.Parts = append(msg.Parts, model.ReasoningPart{Text: *r, CreatedAt: now, FinishedAt: &now})
	}
	if c := choice.Message.Content; c != nil && *c != "" {
		msg.Parts = append(msg.Parts, model.TextPart{Text: *c})
	}
	if u := resp.Usage.toModel(); u != nil {
		msg.Usage = model.MergeUsage(nil, u)
	}
	return msg, nil
}

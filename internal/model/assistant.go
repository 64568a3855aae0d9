// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// Generation defaults applied when an assistant leaves a value unset.
const (
	DefaultTemperature        = 0.7
	DefaultTopP               = 0.9
	DefaultMaxTokens          = 2048
	DefaultThinkingBudget     = 1024
	DefaultContextMessageSize = 64
)

// =============================================================================
// PRESET MESSAGE
// =============================================================================

// PresetMessage is a canned message an assistant prepends to every request.
type PresetMessage struct {
	Role Role   `yaml:"role" json:"role"`
	Text string `yaml:"text" json:"text"`
}

// Message converts the preset into a message value.
func (p PresetMessage) Message() Message {
	return NewMessage(p.Role, TextPart{Text: p.Text})
}

// =============================================================================
// ASSISTANT
// =============================================================================

// Assistant is the persona a conversation is bound to. Pointer fields are
// optional; nil means "use the default".
type Assistant struct {
	ID                 string            `yaml:"id" json:"id"`
	Name               string            `yaml:"name" json:"name"`
	ModelID            string            `yaml:"model_id" json:"model_id"`
	SystemPrompt       string            `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Temperature        *float64          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP               *float64          `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens          *int              `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	ThinkingBudget     *int              `yaml:"thinking_budget,omitempty" json:"thinking_budget,omitempty"`
	StreamOutput       *bool             `yaml:"stream_output,omitempty" json:"stream_output,omitempty"`
	ContextMessageSize int               `yaml:"context_message_size,omitempty" json:"context_message_size,omitempty"`
	PresetMessages     []PresetMessage   `yaml:"preset_messages,omitempty" json:"preset_messages,omitempty"`
	CustomHeaders      map[string]string `yaml:"custom_headers,omitempty" json:"custom_headers,omitempty"`
	CustomBodies       map[string]any    `yaml:"custom_bodies,omitempty" json:"custom_bodies,omitempty"`
}

// HasSystemPrompt reports whether the system prompt is non-blank.
func (a Assistant) HasSystemPrompt() bool {
	return strings.TrimSpace(a.SystemPrompt) != ""
}

// ContextWindow returns how many history messages are sent per request.
func (a Assistant) ContextWindow() int {
	if a.ContextMessageSize > 0 {
		return a.ContextMessageSize
	}
	return DefaultContextMessageSize
}

// Streams reports whether responses should be streamed (default true).
func (a Assistant) Streams() bool {
	return a.StreamOutput == nil || *a.StreamOutput
}

// Params returns the generation parameters implied by the assistant, with
// defaults filled in.
func (a Assistant) Params() GenerationParams {
	p := GenerationParams{
		Temperature:    Float(DefaultTemperature),
		TopP:           Float(DefaultTopP),
		MaxTokens:      Int(DefaultMaxTokens),
		ThinkingBudget: Int(DefaultThinkingBudget),
	}
	if a.Temperature != nil {
		p.Temperature = Float(*a.Temperature)
	}
	if a.TopP != nil {
		p.TopP = Float(*a.TopP)
	}
	if a.MaxTokens != nil {
		p.MaxTokens = Int(*a.MaxTokens)
	}
	if a.ThinkingBudget != nil {
		p.ThinkingBudget = Int(*a.ThinkingBudget)
	}
	if len(a.CustomHeaders) > 0 {
		p.Headers = make(map[string]string, len(a.CustomHeaders))
		for k, v := range a.CustomHeaders {
			p.Headers[k] = v
		}
	}
	if len(a.CustomBodies) > 0 {
		p.ExtraBody = make(map[string]any, len(a.CustomBodies))
		for k, v := range a.CustomBodies {
			p.ExtraBody[k] = v
		}
	}
	return p
}

// =============================================================================
// GENERATION PARAMS
// =============================================================================

// GenerationParams are the per-request knobs sent to a provider. Nil
// pointer fields are omitted from the request.
type GenerationParams struct {
	Model          string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	ThinkingBudget *int
	Headers        map[string]string
	ExtraBody      map[string]any
}

// Override returns p with every field set in o replacing p's value.
func (p GenerationParams) Override(o GenerationParams) GenerationParams {
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != nil {
		p.Temperature = o.Temperature
	}
	if o.TopP != nil {
		p.TopP = o.TopP
	}
	if o.MaxTokens != nil {
		p.MaxTokens = o.MaxTokens
	}
	if o.ThinkingBudget != nil {
		p.ThinkingBudget = o.ThinkingBudget
	}
	if len(o.Headers) > 0 {
		merged := make(map[string]string, len(p.Headers)+len(o.Headers))
		for k, v := range p.Headers {
			merged[k] = v
		}
		for k, v := range o.Headers {
			merged[k] = v
		}
		p.Headers = merged
	}
	if len(o.ExtraBody) > 0 {
		merged := make(map[string]any, len(p.ExtraBody)+len(o.ExtraBody))
		for k, v := range p.ExtraBody {
			merged[k] = v
		}
		for k, v := range o.ExtraBody {
			merged[k] = v
		}
		p.ExtraBody = merged
	}
	return p
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

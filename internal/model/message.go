// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE PARTS
// =============================================================================

// PartType tags the variant of a Part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartDocument   PartType = "document"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a message body. The set of variants is closed:
// TextPart, ImagePart, DocumentPart, ReasoningPart, ToolCallPart, ToolResultPart.
type Part interface {
	Type() PartType
	isPart()
}

// TextPart is plain answer text.
type TextPart struct {
	Text string
}

// ImagePart references an image by URL (remote or data URI).
type ImagePart struct {
	URL string
}

// DocumentPart references an attached document.
type DocumentPart struct {
	URL      string
	FileName string
	MIME     string
}

// ReasoningPart holds chain-of-thought text. It is open while FinishedAt is nil.
type ReasoningPart struct {
	Text       string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// ToolCallPart is a tool invocation requested by the model.
type ToolCallPart struct {
	ID   string
	Name string
	Args string
}

// ToolResultPart is the output returned for a tool call.
type ToolResultPart struct {
	ID      string
	Name    string
	Content string
}

func (TextPart) Type() PartType       { return PartText }
func (ImagePart) Type() PartType      { return PartImage }
func (DocumentPart) Type() PartType   { return PartDocument }
func (ReasoningPart) Type() PartType  { return PartReasoning }
func (ToolCallPart) Type() PartType   { return PartToolCall }
func (ToolResultPart) Type() PartType { return PartToolResult }

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (DocumentPart) isPart()   {}
func (ReasoningPart) isPart()  {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}

// IsOpen reports whether the reasoning part is still accumulating.
func (p ReasoningPart) IsOpen() bool {
	return p.FinishedAt == nil
}

// Close returns a copy finished at t. A part that is already closed is returned unchanged.
func (p ReasoningPart) Close(t time.Time) ReasoningPart {
	if p.FinishedAt != nil {
		return p
	}
	p.FinishedAt = &t
	return p
}

// Duration returns how long reasoning lasted, or zero while it is open.
func (p ReasoningPart) Duration() time.Duration {
	if p.FinishedAt == nil {
		return 0
	}
	return p.FinishedAt.Sub(p.CreatedAt)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is an immutable chat message value. Updates produce a new value
// carrying the same ID.
type Message struct {
	ID        string
	Role      Role
	Parts     []Part
	CreatedAt time.Time
	ModelID   string
	Usage     *TokenUsage
}

// NewMessage creates a message with a fresh ID and the given parts.
func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     append([]Part(nil), parts...),
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user message holding one text part.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, TextPart{Text: text})
}

// NewAssistantMessage creates an assistant message holding one text part.
func NewAssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, TextPart{Text: text})
}

// NewSystemMessage creates a system message holding one text part.
func NewSystemMessage(text string) Message {
	return NewMessage(RoleSystem, TextPart{Text: text})
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// WithParts returns a copy of m whose parts are replaced by parts.
func (m Message) WithParts(parts []Part) Message {
	m.Parts = append([]Part(nil), parts...)
	return m
}

// WithUsage returns a copy of m carrying usage.
func (m Message) WithUsage(usage TokenUsage) Message {
	m.Usage = &usage
	return m
}

// Clone returns a copy of m that shares no mutable state with the original.
func (m Message) Clone() Message {
	m.Parts = append([]Part(nil), m.Parts...)
	if m.Usage != nil {
		u := *m.Usage
		m.Usage = &u
	}
	return m
}

// ToText renders every part to a display string. Non-text parts are shown
// as bracketed annotations; parts are separated by newlines.
func (m Message) ToText() string {
	lines := make([]string, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch p := part.(type) {
		case TextPart:
			lines = append(lines, p.Text)
		case ImagePart:
			lines = append(lines, "[Image: "+p.URL+"]")
		case DocumentPart:
			lines = append(lines, "[Document: "+p.FileName+"]")
		case ReasoningPart:
			lines = append(lines, "[Reasoning: "+p.Text+"]")
		case ToolCallPart:
			lines = append(lines, "[Tool call: "+p.Name+"]")
		case ToolResultPart:
			lines = append(lines, "[Tool result: "+p.Name+"]")
		}
	}
	return strings.Join(lines, "\n")
}

// Text concatenates the text parts only, separated by sep.
func (m Message) Text(sep string) string {
	var texts []string
	for _, part := range m.Parts {
		if p, ok := part.(TextPart); ok {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, sep)
}

// HasReasoning reports whether m contains a reasoning part.
func (m Message) HasReasoning() bool {
	_, ok := m.Reasoning()
	return ok
}

// Reasoning returns the first reasoning part, if any.
func (m Message) Reasoning() (ReasoningPart, bool) {
	for _, part := range m.Parts {
		if p, ok := part.(ReasoningPart); ok {
			return p, true
		}
	}
	return ReasoningPart{}, false
}

// ReasoningContent returns the reasoning text, or "" when there is none.
func (m Message) ReasoningContent() string {
	p, _ := m.Reasoning()
	return p.Text
}

// IsValidForUpload reports whether m carries anything a provider should receive.
func (m Message) IsValidForUpload() bool {
	for _, part := range m.Parts {
		if _, ok := part.(ReasoningPart); !ok {
			return true
		}
	}
	return false
}

// ForUpload returns a copy of m without reasoning parts. Reasoning is a
// display artifact and is never sent back to a provider.
func (m Message) ForUpload() Message {
	parts := make([]Part, 0, len(m.Parts))
	for _, part := range m.Parts {
		if _, ok := part.(ReasoningPart); ok {
			continue
		}
		parts = append(parts, part)
	}
	m.Parts = parts
	return m
}

// Preview returns a truncated single-line preview of the message text.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	content := strings.ReplaceAll(m.ToText(), "\n", " ")
	runes := []rune(content)
	if maxLen <= 3 || len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// JSON ENCODING
// =============================================================================

// partJSON is the tagged-union wire form of a Part.
type partJSON struct {
	Type       PartType   `json:"type"`
	Text       string     `json:"text,omitempty"`
	URL        string     `json:"url,omitempty"`
	FileName   string     `json:"file_name,omitempty"`
	MIME       string     `json:"mime,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Args       string     `json:"args,omitempty"`
	Content    string     `json:"content,omitempty"`
}

type messageJSON struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Parts     []partJSON  `json:"parts"`
	CreatedAt time.Time   `json:"created_at"`
	ModelID   string      `json:"model_id,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

func encodePart(part Part) partJSON {
	switch p := part.(type) {
	case TextPart:
		return partJSON{Type: PartText, Text: p.Text}
	case ImagePart:
		return partJSON{Type: PartImage, URL: p.URL}
	case DocumentPart:
		return partJSON{Type: PartDocument, URL: p.URL, FileName: p.FileName, MIME: p.MIME}
	case ReasoningPart:
		created := p.CreatedAt
		return partJSON{Type: PartReasoning, Text: p.Text, CreatedAt: &created, FinishedAt: p.FinishedAt}
	case ToolCallPart:
		return partJSON{Type: PartToolCall, ID: p.ID, Name: p.Name, Args: p.Args}
	case ToolResultPart:
		return partJSON{Type: PartToolResult, ID: p.ID, Name: p.Name, Content: p.Content}
	}
	return partJSON{}
}

func decodePart(pj partJSON) (Part, error) {
	switch pj.Type {
	case PartText:
		return TextPart{Text: pj.Text}, nil
	case PartImage:
		return ImagePart{URL: pj.URL}, nil
	case PartDocument:
		return DocumentPart{URL: pj.URL, FileName: pj.FileName, MIME: pj.MIME}, nil
	case PartReasoning:
		p := ReasoningPart{Text: pj.Text, FinishedAt: pj.FinishedAt}
		if pj.CreatedAt != nil {
			p.CreatedAt = *pj.CreatedAt
		}
		return p, nil
	case PartToolCall:
		return ToolCallPart{ID: pj.ID, Name: pj.Name, Args: pj.Args}, nil
	case PartToolResult:
		return ToolResultPart{ID: pj.ID, Name: pj.Name, Content: pj.Content}, nil
	}
	return nil, fmt.Errorf("unknown message part type %q", pj.Type)
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		Role:      m.Role,
		Parts:     make([]partJSON, 0, len(m.Parts)),
		CreatedAt: m.CreatedAt,
		ModelID:   m.ModelID,
		Usage:     m.Usage,
	}
	for _, part := range m.Parts {
		out.Parts = append(out.Parts, encodePart(part))
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parts := make([]Part, 0, len(in.Parts))
	for _, pj := range in.Parts {
		part, err := decodePart(pj)
		if err != nil {
			return err
		}
		parts = append(parts, part)
	}
	*m = Message{
		ID:        in.ID,
		Role:      in.Role,
		Parts:     parts,
		CreatedAt: in.CreatedAt,
		ModelID:   in.ModelID,
		Usage:     in.Usage,
	}
	return nil
}

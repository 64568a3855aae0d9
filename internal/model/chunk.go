// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// MessageChoice is one candidate within a streamed chunk. Delta holds only
// the parts produced since the previous chunk.
type MessageChoice struct {
	Index        int
	Delta        *Message
	FinishReason string
}

// MessageChunk is one unit of a streamed provider response.
type MessageChunk struct {
	ID      string
	Model   string
	Choices []MessageChoice
	Usage   *TokenUsage
}

// FirstChoice returns the first choice, the only one ever materialized.
func (c MessageChunk) FirstChoice() (MessageChoice, bool) {
	if len(c.Choices) == 0 {
		return MessageChoice{}, false
	}
	return c.Choices[0], true
}

// FinishReason returns the first choice's finish reason, or "".
func (c MessageChunk) FinishReason() string {
	choice, _ := c.FirstChoice()
	return choice.FinishReason
}

// IsFinished reports whether the first choice carries a finish reason.
func (c MessageChunk) IsFinished() bool {
	return c.FinishReason() != ""
}

// DeltaParts returns the first choice's delta parts, or nil.
func (c MessageChunk) DeltaParts() []Part {
	choice, ok := c.FirstChoice()
	if !ok || choice.Delta == nil {
		return nil
	}
	return choice.Delta.Parts
}

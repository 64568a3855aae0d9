// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/jeranaias/rigrun-chat/internal/model"

// =============================================================================
// GENERATION EVENTS
// =============================================================================

// GenerationChunk is one event of a generation turn. The concrete types are
// StreamTarget, ThinkingChunk, ThinkingComplete, ResponseChunk,
// ResponseComplete and ErrorChunk.
type GenerationChunk interface {
	isGenerationChunk()
}

// StreamTarget names the assistant message the turn writes into. It is
// always the first event.
type StreamTarget struct {
	MessageID string
}

// ThinkingChunk carries one new reasoning fragment. The first one of every
// turn has an empty Delta and marks the start of thinking.
type ThinkingChunk struct {
	Delta string
}

// ThinkingComplete carries the full reasoning text once thinking ends.
type ThinkingComplete struct {
	Text string
}

// ResponseChunk carries one new answer fragment.
type ResponseChunk struct {
	Delta string
}

// ResponseComplete carries the finalized assistant message.
type ResponseComplete struct {
	Message model.Message
	Usage   model.TokenUsage
}

// ErrorChunk reports the failure that ended a turn.
type ErrorChunk struct {
	Err error
}

func (StreamTarget) isGenerationChunk()     {}
func (ThinkingChunk) isGenerationChunk()    {}
func (ThinkingComplete) isGenerationChunk() {}
func (ResponseChunk) isGenerationChunk()    {}
func (ResponseComplete) isGenerationChunk() {}
func (ErrorChunk) isGenerationChunk()       {}

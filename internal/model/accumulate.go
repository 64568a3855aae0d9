// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// DELTA ACCUMULATION
// =============================================================================

// AppendChunk folds the first choice's delta of chunk into msg and returns
// the result. Reasoning and text deltas merge into a single part each; every
// other part is appended as is. Usage is merged on the finishing chunk.
//
// Chunks must be applied once each, in arrival order.
func AppendChunk(msg Message, chunk MessageChunk) Message {
	out := msg.Clone()

	choice, ok := chunk.FirstChoice()
	if !ok {
		return out
	}

	if choice.Delta != nil {
		for _, part := range choice.Delta.Parts {
			switch p := part.(type) {
			case ReasoningPart:
				out.Parts = mergeReasoning(out.Parts, p)
			case TextPart:
				out.Parts = mergeText(out.Parts, p)
			default:
				out.Parts = append(out.Parts, part)
			}
		}
	}

	if choice.FinishReason != "" && chunk.Usage != nil {
		out.Usage = MergeUsage(out.Usage, chunk.Usage)
	}
	return out
}

func mergeReasoning(parts []Part, delta ReasoningPart) []Part {
	for i, part := range parts {
		existing, ok := part.(ReasoningPart)
		if !ok {
			continue
		}
		merged := ReasoningPart{
			Text:       existing.Text + delta.Text,
			CreatedAt:  existing.CreatedAt,
			FinishedAt: existing.FinishedAt,
		}
		// Closed reasoning stays closed at its original time.
		if merged.FinishedAt == nil && delta.FinishedAt != nil {
			t := *delta.FinishedAt
			merged.FinishedAt = &t
		}
		parts[i] = merged
		return parts
	}
	return append(parts, delta)
}

func mergeText(parts []Part, delta TextPart) []Part {
	for i, part := range parts {
		if existing, ok := part.(TextPart); ok {
			parts[i] = TextPart{Text: existing.Text + delta.Text}
			return parts
		}
	}
	return append(parts, delta)
}

// CloseReasoning marks every open reasoning part of msg finished at t.
func CloseReasoning(msg Message, t time.Time) Message {
	out := msg.Clone()
	for i, part := range out.Parts {
		if p, ok := part.(ReasoningPart); ok && p.IsOpen() {
			out.Parts[i] = p.Close(t)
		}
	}
	return out
}

// DropEmptyReasoning removes reasoning parts that never received text.
func DropEmptyReasoning(msg Message) Message {
	out := msg.Clone()
	parts := out.Parts[:0]
	for _, part := range out.Parts {
		if p, ok := part.(ReasoningPart); ok && p.Text == "" {
			continue
		}
		parts = append(parts, part)
	}
	out.Parts = parts
	return out
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// State is the generation state of one conversation.
type State string

const (
	// StateIdle means no turn is running and the last one completed.
	StateIdle State = "idle"

	// StateGenerating means a turn is queued or streaming.
	StateGenerating State = "generating"

	// StateCancelled means the last turn was cancelled; its partial
	// content is kept.
	StateCancelled State = "cancelled"

	// StateErrored means the last turn failed; the conversation was
	// reverted to its last persisted value.
	StateErrored State = "errored"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// IsGenerating reports whether a turn is in flight.
func (s State) IsGenerating() bool {
	return s == StateGenerating
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "errors"

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidInput is returned when a message has no parts.
	ErrInvalidInput = errors.New("invalid input: message has no content")

	// ErrNoResponse is returned when a turn ended without completing or failing.
	ErrNoResponse = errors.New("generation produced no response")

	// ErrGenerationCancelled is returned by GenerateResponse when the turn
	// was cancelled or superseded before it completed.
	ErrGenerationCancelled = errors.New("generation cancelled")

	// ErrEngineClosed is returned by operations started after Close.
	ErrEngineClosed = errors.New("chat engine closed")
)

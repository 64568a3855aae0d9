// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations for the chat engine.
package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// REPOSITORY CONTRACT
// =============================================================================

// Repository is the durable source of truth for conversations. The engine
// writes back on every message append and every completed turn.
type Repository interface {
	// Save inserts or replaces the conversation with c.ID.
	Save(ctx context.Context, c model.Conversation) error

	// Load returns the conversation with id, or ErrConversationNotFound.
	Load(ctx context.Context, id string) (model.Conversation, error)

	// Delete removes the conversation with id, or returns ErrConversationNotFound.
	Delete(ctx context.Context, id string) error

	// Search returns conversations whose title or current-path text contains
	// query (case-insensitive), optionally restricted to one assistant,
	// most recently updated first. An empty query matches everything.
	Search(ctx context.Context, query, assistantID string) ([]model.Conversation, error)
}

// =============================================================================
// CONVERSATION META
// =============================================================================

// Meta contains the listing fields of a conversation.
type Meta struct {
	ID           string    `json:"id"`
	AssistantID  string    `json:"assistant_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// MetaOf summarizes c for listing.
func MetaOf(c model.Conversation) Meta {
	meta := Meta{
		ID:           c.ID,
		AssistantID:  c.AssistantID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: c.Metadata.MessageCount,
	}
	for _, msg := range c.CurrentMessages() {
		if msg.Role == model.RoleUser {
			meta.Preview = msg.Preview(80)
			break
		}
	}
	return meta
}

// =============================================================================
// MATCHING
// =============================================================================

// Matches reports whether c satisfies a Search query and assistant filter.
func Matches(c model.Conversation, query, assistantID string) bool {
	if assistantID != "" && c.AssistantID != assistantID {
		return false
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Title), query) {
		return true
	}
	for _, msg := range c.CurrentMessages() {
		if strings.Contains(strings.ToLower(msg.Text(" ")), query) {
			return true
		}
	}
	return false
}

// sortByUpdated orders conversations most recently updated first.
func sortByUpdated(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// validID rejects ids that could escape a storage directory.
// SECURITY: Conversation ids become file names.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`+"\x00")
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is returned for ids that cannot be stored.
var ErrInvalidID = &ConversationError{Message: "invalid conversation id"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(id string) error {
	return &ConversationError{Message: ErrConversationNotFound.Message, ID: id}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// MemoryStore keeps conversations in process memory. Used for tests and
// ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]model.Conversation
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]model.Conversation)}
}

// Save implements Repository.
func (s *MemoryStore) Save(ctx context.Context, c model.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c.Clone()
	return nil
}

// Load implements Repository.
func (s *MemoryStore) Load(ctx context.Context, id string) (model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return model.Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, notFound(id)
	}
	return c.Clone(), nil
}

// Delete implements Repository.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return notFound(id)
	}
	delete(s.convs, id)
	return nil
}

// Search implements Repository.
func (s *MemoryStore) Search(ctx context.Context, query, assistantID string) ([]model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []model.Conversation
	for _, c := range s.convs {
		if Matches(c, query, assistantID) {
			results = append(results, c.Clone())
		}
	}
	sortByUpdated(results)
	return results, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// DefaultMaxConversations is the file store's default retention limit.
const DefaultMaxConversations = 100

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore persists one JSON file per conversation.
type FileStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.rigchat/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	// The least recently updated conversations are evicted first.
	MaxConversations int

	log zerolog.Logger
	mu  sync.Mutex
}

// NewFileStore creates a store under ~/.rigchat/conversations.
func NewFileStore() (*FileStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewFileStoreWithDir(filepath.Join(homeDir, ".rigchat", "conversations"))
}

// NewFileStoreWithDir creates a store with a custom directory.
func NewFileStoreWithDir(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, util.PrivateDirMode); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &FileStore{
		BaseDir:          baseDir,
		MaxConversations: DefaultMaxConversations,
		log:              zerolog.Nop(),
	}, nil
}

// WithLogger sets the logger used for skipped files and evictions.
func (s *FileStore) WithLogger(log zerolog.Logger) *FileStore {
	s.log = log.With().Str("component", "storage").Logger()
	return s
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Save implements Repository.
func (s *FileStore) Save(ctx context.Context, c model.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(c.ID) {
		return &ConversationError{Message: ErrInvalidID.Message, ID: c.ID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// RELIABILITY: A crash mid-save leaves the previous version on disk.
	err := util.WriteAtomic(s.filePath(c.ID), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to encode conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.MaxConversations > 0 {
		s.enforceLimitLocked(c.ID)
	}
	return nil
}

// Load implements Repository.
func (s *FileStore) Load(ctx context.Context, id string) (model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return model.Conversation{}, err
	}
	if !validID(id) {
		return model.Conversation{}, notFound(id)
	}
	return s.read(id)
}

func (s *FileStore) read(id string) (model.Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Conversation{}, notFound(id)
		}
		return model.Conversation{}, err
	}

	var c model.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return c, nil
}

// Delete implements Repository.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return notFound(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.filePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound(id)
		}
		return err
	}
	return nil
}

// Search implements Repository.
func (s *FileStore) Search(ctx context.Context, query, assistantID string) ([]model.Conversation, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]model.Conversation, 0, len(all))
	for _, c := range all {
		if Matches(c, query, assistantID) {
			results = append(results, c)
		}
	}
	sortByUpdated(results)
	return results, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns metadata for all saved conversations (most recent first).
func (s *FileStore) List(ctx context.Context) ([]Meta, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	sortByUpdated(all)
	metas := make([]Meta, len(all))
	for i, c := range all {
		metas[i] = MetaOf(c)
	}
	return metas, nil
}

// loadAll reads every conversation file, skipping corrupted ones.
func (s *FileStore) loadAll(ctx context.Context) ([]model.Conversation, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var convs []model.Conversation
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		c, err := s.read(id)
		if err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable conversation")
			continue
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// enforceLimitLocked removes the oldest conversations past the limit,
// never the one just written. Must be called with lock held.
func (s *FileStore) enforceLimitLocked(keep string) {
	all, err := s.loadAll(context.Background())
	if err != nil || len(all) <= s.MaxConversations {
		return
	}

	// Oldest first
	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.Before(all[j].UpdatedAt)
	})

	excess := len(all) - s.MaxConversations
	for _, c := range all {
		if excess == 0 {
			break
		}
		if c.ID == keep {
			continue
		}
		if err := os.Remove(s.filePath(c.ID)); err == nil {
			s.log.Debug().Str("conversation", c.ID).Msg("evicted conversation")
		}
		excess--
	}
}

// Clear removes all saved conversations.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

// filePath returns the file path for a conversation ID.
func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

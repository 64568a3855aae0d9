// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider turns backend transports into typed message chunk streams.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// Provider produces assistant messages for one backend family.
type Provider interface {
	// Type returns the backend family this provider serves.
	Type() model.ProviderType

	// StreamText opens a streamed completion. Transport failures before the
	// first event (connect errors, non-200 status) are returned directly;
	// failures while reading are reported by Stream.Err.
	StreamText(ctx context.Context, messages []model.Message, params model.GenerationParams) (Stream, error)

	// GenerateText performs a one-shot completion.
	GenerateText(ctx context.Context, messages []model.Message, params model.GenerationParams) (model.Message, error)
}

// Stream is a lazy, single-consumer sequence of chunks.
//
//	for s.Next() {
//	    chunk := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	// Next advances to the next chunk. It returns false at the end of the
	// stream or on error.
	Next() bool

	// Current returns the chunk Next advanced to.
	Current() model.MessageChunk

	// Err returns the error that stopped the stream, if any.
	Err() error

	// Close releases the underlying connection. It is safe to call twice.
	Close() error
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps backend types to providers. It is built once at startup
// and handed to the chat engine.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.ProviderType]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.ProviderType]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the provider for p.Type().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get returns the provider for t.
func (r *Registry) Get(t model.ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, t)
	}
	return p, nil
}

// Types returns the registered backend types in sorted order.
func (r *Registry) Types() []model.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]model.ProviderType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// =============================================================================
// SINGLE-MESSAGE STREAM
// =============================================================================

// messageStream replays a complete message as one finishing chunk.
type messageStream struct {
	chunk model.MessageChunk
	sent  bool
}

// MessageStream wraps a finished message (for example from GenerateText)
// as a Stream yielding a single chunk with finish reason "stop".
func MessageStream(msg model.Message) Stream {
	delta := msg.Clone()
	return &messageStream{chunk: model.MessageChunk{
		ID:      msg.ID,
		Model:   msg.ModelID,
		Choices: []model.MessageChoice{{Delta: &delta, FinishReason: "stop"}},
		Usage:   msg.Usage,
	}}
}

func (s *messageStream) Next() bool {
	if s.sent {
		return false
	}
	s.sent = true
	return true
}

func (s *messageStream) Current() model.MessageChunk { return s.chunk }
func (s *messageStream) Err() error                  { return nil }
func (s *messageStream) Close() error                { return nil }

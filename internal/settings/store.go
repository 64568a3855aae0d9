// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings provides read access to assistant and model configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAssistantNotFound indicates no assistant has the requested id.
	ErrAssistantNotFound = errors.New("assistant not found")

	// ErrModelNotFound indicates no model has the requested id.
	ErrModelNotFound = errors.New("model not found")
)

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the read contract the chat engine uses to resolve the assistant
// a conversation belongs to and the model that assistant runs on.
type Store interface {
	GetAssistant(ctx context.Context, id string) (model.Assistant, error)
	GetModel(ctx context.Context, id string) (model.ModelSpec, error)
}

// Settings is the full set of assistants and models.
type Settings struct {
	Assistants []model.Assistant `yaml:"assistants"`
	Models     []model.ModelSpec `yaml:"models"`
}

// Validate checks every assistant and model, and that each assistant's
// model id refers to a defined model.
func (s Settings) Validate() error {
	models := make(map[string]bool, len(s.Models))
	for _, m := range s.Models {
		models[m.ID] = true
	}

	return validation.ValidateStruct(&s,
		validation.Field(&s.Models, validation.Each(validation.By(validateModel))),
		validation.Field(&s.Assistants, validation.Each(validation.By(func(value interface{}) error {
			return validateAssistant(value, models)
		}))),
	)
}

func validateModel(value interface{}) error {
	m, ok := value.(model.ModelSpec)
	if !ok {
		return fmt.Errorf("invalid model type")
	}
	types := make([]interface{}, len(model.ProviderTypes))
	for i, t := range model.ProviderTypes {
		types[i] = t
	}
	return validation.ValidateStruct(&m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.ProviderType, validation.Required, validation.In(types...)),
		validation.Field(&m.ContextLength, validation.Min(0)),
	)
}

func validateAssistant(value interface{}, models map[string]bool) error {
	a, ok := value.(model.Assistant)
	if !ok {
		return fmt.Errorf("invalid assistant type")
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.ModelID, validation.Required, validation.By(func(interface{}) error {
			if !models[a.ModelID] {
				return fmt.Errorf("unknown model %q", a.ModelID)
			}
			return nil
		})),
		validation.Field(&a.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&a.TopP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&a.MaxTokens, validation.Min(1)),
		validation.Field(&a.ContextMessageSize, validation.Min(0)),
	)
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory is an in-process Store. It is also the snapshot holder behind
// the YAML file store.
type Memory struct {
	mu         sync.RWMutex
	assistants map[string]model.Assistant
	models     map[string]model.ModelSpec
}

// NewMemory creates a store holding s. It does not validate.
func NewMemory(s Settings) *Memory {
	m := &Memory{}
	m.Replace(s)
	return m
}

// Replace swaps in a new settings snapshot.
func (m *Memory) Replace(s Settings) {
	assistants := make(map[string]model.Assistant, len(s.Assistants))
	for _, a := range s.Assistants {
		assistants[a.ID] = a
	}
	models := make(map[string]model.ModelSpec, len(s.Models))
	for _, spec := range s.Models {
		models[spec.ID] = spec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants = assistants
	m.models = models
}

// PutAssistant adds or replaces an assistant.
func (m *Memory) PutAssistant(a model.Assistant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants[a.ID] = a
}

// PutModel adds or replaces a model.
func (m *Memory) PutModel(spec model.ModelSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[spec.ID] = spec
}

// GetAssistant implements Store.
func (m *Memory) GetAssistant(ctx context.Context, id string) (model.Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assistants[id]
	if !ok {
		return model.Assistant{}, fmt.Errorf("%w: %s", ErrAssistantNotFound, id)
	}
	return a, nil
}

// GetModel implements Store.
func (m *Memory) GetModel(ctx context.Context, id string) (model.ModelSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.models[id]
	if !ok {
		return model.ModelSpec{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return spec, nil
}

// Snapshot returns the current settings, sorted by id.
func (m *Memory) Snapshot() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Settings
	for _, a := range m.assistants {
		s.Assistants = append(s.Assistants, a)
	}
	for _, spec := range m.models {
		s.Models = append(s.Models, spec)
	}
	sort.Slice(s.Assistants, func(i, j int) bool { return s.Assistants[i].ID < s.Assistants[j].ID })
	sort.Slice(s.Models, func(i, j int) bool { return s.Models[i].ID < s.Models[j].ID })
	return s
}

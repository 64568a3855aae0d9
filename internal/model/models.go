// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// PROVIDER TYPE
// =============================================================================

// ProviderType identifies a backend family.
type ProviderType string

const (
	ProviderDeepSeek ProviderType = "DEEPSEEK"
	ProviderQwen     ProviderType = "QWEN"
	ProviderOpenAI   ProviderType = "OPENAI"
	ProviderClaude   ProviderType = "CLAUDE"
	ProviderGoogle   ProviderType = "GOOGLE"
	ProviderCustom   ProviderType = "CUSTOM"
)

// ProviderTypes lists every known backend family.
var ProviderTypes = []ProviderType{
	ProviderDeepSeek, ProviderQwen, ProviderOpenAI, ProviderClaude, ProviderGoogle, ProviderCustom,
}

// ParseProviderType parses a case-insensitive provider type name.
func ParseProviderType(s string) (ProviderType, error) {
	t := ProviderType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ProviderTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown provider type %q", s)
}

// =============================================================================
// MODEL SPEC
// =============================================================================

// ModelAbility is a capability flag of a model.
type ModelAbility string

const (
	AbilityReasoning ModelAbility = "REASONING"
	AbilityTool      ModelAbility = "TOOL"
	AbilityVision    ModelAbility = "VISION"
	AbilityStreaming ModelAbility = "STREAMING"
)

// ModelSpec describes a model the user can chat with.
type ModelSpec struct {
	// ID is the local identifier referenced by assistants
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable display name
	Name string `yaml:"name" json:"name"`

	// ModelName is the identifier sent to the backend; ID is used when empty
	ModelName string `yaml:"model_name,omitempty" json:"model_name,omitempty"`

	// ProviderType selects the provider from the registry
	ProviderType ProviderType `yaml:"provider" json:"provider"`

	// Abilities lists capability flags
	Abilities []ModelAbility `yaml:"abilities,omitempty" json:"abilities,omitempty"`

	// ContextLength is the maximum context window in tokens (informational)
	ContextLength int `yaml:"context_length,omitempty" json:"context_length,omitempty"`
}

// UpstreamName returns the model identifier to send on the wire.
func (m ModelSpec) UpstreamName() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return m.ID
}

// HasAbility reports whether the model advertises ability.
func (m ModelSpec) HasAbility(ability ModelAbility) bool {
	for _, a := range m.Abilities {
		if a == ability {
			return true
		}
	}
	return false
}

// =============================================================================
// REASONING LEVEL
// =============================================================================

// ReasoningLevel is a named thinking budget.
type ReasoningLevel string

const (
	ReasoningOff    ReasoningLevel = "OFF"
	ReasoningAuto   ReasoningLevel = "AUTO"
	ReasoningLow    ReasoningLevel = "LOW"
	ReasoningMedium ReasoningLevel = "MEDIUM"
	ReasoningHigh   ReasoningLevel = "HIGH"
)

// Budget returns the thinking token budget for the level. AUTO is -1,
// meaning the backend decides.
func (l ReasoningLevel) Budget() int {
	switch l {
	case ReasoningAuto:
		return -1
	case ReasoningLow:
		return 1024
	case ReasoningMedium:
		return 16000
	case ReasoningHigh:
		return 32000
	default:
		return 0
	}
}

// ReasoningLevelForBudget maps a budget back to the closest named level.
func ReasoningLevelForBudget(budget int) ReasoningLevel {
	switch {
	case budget < 0:
		return ReasoningAuto
	case budget == 0:
		return ReasoningOff
	case budget <= 1024:
		return ReasoningLow
	case budget <= 16000:
		return ReasoningMedium
	default:
		return ReasoningHigh
	}
}

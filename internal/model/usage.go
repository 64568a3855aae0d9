// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// TokenUsage holds the token counters reported by a provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Merge combines u with a newer snapshot. Non-zero fields of newer win,
// zero fields fall back to u, and the total is recomputed.
func (u TokenUsage) Merge(newer TokenUsage) TokenUsage {
	out := u
	if newer.PromptTokens != 0 {
		out.PromptTokens = newer.PromptTokens
	}
	if newer.CompletionTokens != 0 {
		out.CompletionTokens = newer.CompletionTokens
	}
	if newer.CachedTokens != 0 {
		out.CachedTokens = newer.CachedTokens
	}
	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	return out
}

// Add sums two usages counter by counter.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		CachedTokens:     u.CachedTokens + other.CachedTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no counter is set.
func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// MergeUsage merges newer into prior, treating nil as absent.
func MergeUsage(prior, newer *TokenUsage) *TokenUsage {
	switch {
	case newer == nil && prior == nil:
		return nil
	case newer == nil:
		u := *prior
		return &u
	case prior == nil:
		u := TokenUsage{}.Merge(*newer)
		return &u
	}
	u := prior.Merge(*newer)
	return &u
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// Configuration is TOML with built-in defaults, .env loading, environment
// variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - EngineConfig: Concurrency, context window and title generation
//   - StorageConfig: Conversation repository driver (memory, file, sqlite)
//   - ProviderConfig: One backend endpoint, key, timeouts and rate limit
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*), including ones from ./.env
//   - ~/.rigchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	window := cfg.Engine.ContextWindow
//	for _, p := range cfg.Providers {
//	    // build a client per provider
//	}
package config

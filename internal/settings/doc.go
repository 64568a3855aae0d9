// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings provides read access to assistant and model configuration.
//
// The chat engine only reads settings: the assistant bound to a
// conversation and the model it runs on. Memory serves a fixed snapshot;
// FileStore serves a validated YAML file and can hot reload it.
//
// # File Format
//
//	models:
//	  - id: deepseek-reasoner
//	    name: DeepSeek R1
//	    provider: DEEPSEEK
//	    abilities: [REASONING, STREAMING]
//	assistants:
//	  - id: default
//	    name: Helper
//	    model_id: deepseek-reasoner
//	    system_prompt: You are concise.
//	    temperature: 0.6
//	    context_message_size: 32
package settings

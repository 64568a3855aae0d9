// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations for the chat engine.
//
// Every store implements Repository; the engine treats it as the durable
// source of truth and its own in-memory state as a write-back cache.
//
// # Key Types
//
//   - Repository: Save / Load / Delete / Search contract
//   - MemoryStore: In-process map, for tests and ephemeral sessions
//   - FileStore: One JSON file per conversation, atomic writes, retention limit
//   - SQLiteStore: One row per conversation (pure Go driver)
//   - Meta: Lightweight listing fields
//
// # Usage
//
//	store, err := storage.NewFileStoreWithDir(dir)
//	err = store.Save(ctx, conv)
//	conv, err = store.Load(ctx, id)
//	results, err := store.Search(ctx, "query text", "")
//
// # Storage Location
//
// FileStore defaults to ~/.rigchat/conversations/ as JSON files.
package storage

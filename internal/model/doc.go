// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// Every type here is a value: operations return new values and never modify
// their receiver, so snapshots handed to observers stay stable while a
// generation keeps streaming.
//
// # Key Types
//
//   - Message: role, ordered Parts, timestamp, model id and token usage
//   - Part: closed set of variants (TextPart, ImagePart, DocumentPart,
//     ReasoningPart, ToolCallPart, ToolResultPart)
//   - Conversation: arena of Nodes keyed by id; the current branch follows
//     the first child of every node
//   - MessageChunk: one streamed provider delta
//   - Assistant, ModelSpec, GenerationParams: read-only settings
//
// # Usage
//
// Build a conversation and fold a streamed chunk into the reply:
//
//	conv := model.NewConversation("default")
//	conv = conv.AddMessage(model.NewUserMessage("Hello!"))
//
//	reply := model.NewMessage(model.RoleAssistant)
//	reply = model.AppendChunk(reply, chunk)
//	conv = conv.AddMessage(reply)
package model

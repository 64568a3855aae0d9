// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the conversation engine: it appends user messages, runs
// generation turns against providers and keeps each conversation's live
// state consistent with the repository.
//
// # Turns
//
// A turn resolves the conversation's assistant, model and provider, sends
// the system prompt, preset messages and recent history, and streams the
// reply into a new assistant message. At most one turn runs per
// conversation; starting another cancels the first, and a cancelled turn
// emits nothing further. Turns run on a shared tasks.Pool.
//
// # Events
//
// Every turn emits, in order:
//
//   - StreamTarget with the assistant message id
//   - An empty ThinkingChunk, then one ThinkingChunk per reasoning fragment
//   - ThinkingComplete with the full reasoning, when there was any
//   - One ResponseChunk per answer fragment
//   - ResponseComplete with the final message, or a single ErrorChunk
//
// # Failure and Cancellation
//
// A failed turn emits one ErrorChunk and reverts the conversation to its
// last persisted value. A cancelled turn keeps the content streamed so far.
// Neither is retried.
//
// # Usage
//
//	engine := chat.NewEngine(repo, settingsStore, registry, pool,
//	    chat.WithLogger(log),
//	    chat.WithMetrics(m),
//	)
//	defer engine.Close(ctx)
//
//	conv, err := engine.CreateConversation(ctx, "default")
//	_, err = engine.SendMessage(ctx, conv.ID, []model.Part{model.TextPart{Text: "Hi"}}, false)
//	events, err := engine.GenerateResponseStream(ctx, conv.ID, model.GenerationParams{})
//	for ev := range events {
//	    switch ev := ev.(type) {
//	    case chat.ResponseChunk:
//	        fmt.Print(ev.Delta)
//	    case chat.ErrorChunk:
//	        return ev.Err
//	    }
//	}
package chat

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider turns backend transports into typed message chunk streams.
//
// A Provider owns its transport privately: request encoding, SSE framing,
// JSON decoding and field extraction never leak past the Stream interface.
// Client implements the OpenAI chat completions protocol used by DeepSeek,
// Qwen (compatible mode) and OpenAI itself.
//
// # Wire Behavior
//
//   - Events are "data: <json>" lines; "data: [DONE]" ends the stream
//   - delta.reasoning_content becomes a ReasoningPart (open), delta.content
//     a TextPart
//   - A finish_reason closes any open ReasoningPart in that chunk's delta
//   - Malformed chunks are logged and skipped; a non-200 status fails the call
//   - Connect, read and write timeouts default to 30s / 60s / 60s
//
// # Usage
//
//	client := provider.NewClient(provider.Config{
//	    Type:   model.ProviderDeepSeek,
//	    APIKey: os.Getenv("DEEPSEEK_API_KEY"),
//	})
//	registry := provider.NewRegistry(client)
//
//	stream, err := client.StreamText(ctx, messages, params)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    chunk := stream.Current()
//	    ...
//	}
//	return stream.Err()
package provider

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// HELPERS
// =============================================================================

func textDelta(text string, finish string) MessageChunk {
	delta := Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
	return MessageChunk{Choices: []MessageChoice{{Delta: &delta, FinishReason: finish}}}
}

func reasoningDelta(text string, finishedAt *time.Time) MessageChunk {
	delta := Message{Role: RoleAssistant, Parts: []Part{ReasoningPart{Text: text, CreatedAt: time.Now(), FinishedAt: finishedAt}}}
	return MessageChunk{Choices: []MessageChoice{{Delta: &delta}}}
}

// =============================================================================
// TOKEN USAGE TESTS
// =============================================================================

func TestTokenUsage_Merge(t *testing.T) {
	tests := []struct {
		name   string
		prior  TokenUsage
		newer  TokenUsage
		expect TokenUsage
	}{
		{
			name:   "zero fields fall back to prior",
			prior:  TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			newer:  TokenUsage{CompletionTokens: 8},
			expect: TokenUsage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
		},
		{
			name:   "non-zero fields override",
			prior:  TokenUsage{PromptTokens: 10, CompletionTokens: 5, CachedTokens: 2, TotalTokens: 15},
			newer:  TokenUsage{PromptTokens: 12, CompletionTokens: 9, CachedTokens: 4, TotalTokens: 99},
			expect: TokenUsage{PromptTokens: 12, CompletionTokens: 9, CachedTokens: 4, TotalTokens: 21},
		},
		{
			name:   "empty prior",
			prior:  TokenUsage{},
			newer:  TokenUsage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6},
			expect: TokenUsage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.prior.Merge(tc.newer)
			if got != tc.expect {
				t.Errorf("Merge() = %+v, want %+v", got, tc.expect)
			}
		})
	}
}

func TestMergeUsage_Nil(t *testing.T) {
	if MergeUsage(nil, nil) != nil {
		t.Error("MergeUsage(nil, nil) should be nil")
	}
	prior := &TokenUsage{PromptTokens: 3, TotalTokens: 3}
	got := MergeUsage(prior, nil)
	if got == prior || *got != *prior {
		t.Errorf("MergeUsage(prior, nil) = %+v, want a copy of %+v", got, prior)
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_ForUpload(t *testing.T) {
	msg := NewMessage(RoleAssistant, ReasoningPart{Text: "x", CreatedAt: time.Now()}, TextPart{Text: "y"})

	up := msg.ForUpload()
	if len(up.Parts) != 1 {
		t.Fatalf("ForUpload() kept %d parts, want 1", len(up.Parts))
	}
	if p, ok := up.Parts[0].(TextPart); !ok || p.Text != "y" {
		t.Errorf("ForUpload() part = %#v, want TextPart{y}", up.Parts[0])
	}
	if len(msg.Parts) != 2 {
		t.Error("ForUpload() must not modify the receiver")
	}
	if up.ID != msg.ID {
		t.Error("ForUpload() must keep the message id")
	}
}

func TestMessage_IsValidForUpload(t *testing.T) {
	onlyReasoning := NewMessage(RoleAssistant, ReasoningPart{Text: "hmm"})
	if onlyReasoning.IsValidForUpload() {
		t.Error("reasoning-only message should not be valid for upload")
	}
	if !NewUserMessage("hi").IsValidForUpload() {
		t.Error("text message should be valid for upload")
	}
}

func TestMessage_ToText(t *testing.T) {
	msg := NewMessage(RoleUser,
		TextPart{Text: "look"},
		ImagePart{URL: "https://x/cat.png"},
		DocumentPart{URL: "file://a.pdf", FileName: "a.pdf", MIME: "application/pdf"},
		ReasoningPart{Text: "pondering"},
		ToolCallPart{ID: "1", Name: "search"},
		ToolResultPart{ID: "1", Name: "search", Content: "ok"},
	)

	want := strings.Join([]string{
		"look",
		"[Image: https://x/cat.png]",
		"[Document: a.pdf]",
		"[Reasoning: pondering]",
		"[Tool call: search]",
		"[Tool result: search]",
	}, "\n")
	if got := msg.ToText(); got != want {
		t.Errorf("ToText() = %q, want %q", got, want)
	}
}

func TestMessage_Reasoning(t *testing.T) {
	msg := NewMessage(RoleAssistant, TextPart{Text: "a"}, ReasoningPart{Text: "why"})
	if !msg.HasReasoning() {
		t.Error("HasReasoning() = false, want true")
	}
	if got := msg.ReasoningContent(); got != "why" {
		t.Errorf("ReasoningContent() = %q, want %q", got, "why")
	}
	if NewUserMessage("x").HasReasoning() {
		t.Error("plain user message should not have reasoning")
	}
}

func TestMessage_JSONPreservesParts(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := created.Add(2 * time.Second)
	msg := NewMessage(RoleAssistant,
		ReasoningPart{Text: "think", CreatedAt: created, FinishedAt: &finished},
		TextPart{Text: "answer"},
		ToolCallPart{ID: "c1", Name: "calc", Args: `{"x":1}`},
	).WithUsage(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	msg.CreatedAt = created

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	r, ok := got.Reasoning()
	if !ok || r.Text != "think" || r.FinishedAt == nil || !r.FinishedAt.Equal(finished) || !r.CreatedAt.Equal(created) {
		t.Errorf("reasoning part not preserved: %#v", r)
	}
	if got.Text("") != "answer" {
		t.Errorf("text = %q, want %q", got.Text(""), "answer")
	}
	if tc, ok := got.Parts[2].(ToolCallPart); !ok || tc.Args != `{"x":1}` {
		t.Errorf("tool call not preserved: %#v", got.Parts[2])
	}
	if got.Usage == nil || got.Usage.TotalTokens != 3 {
		t.Errorf("usage not preserved: %+v", got.Usage)
	}
}

func TestMessage_UnmarshalUnknownPart(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"1","role":"user","parts":[{"type":"hologram"}]}`), &m)
	if err == nil {
		t.Error("expected error for unknown part type")
	}
}

// =============================================================================
// ACCUMULATOR TESTS
// =============================================================================

func TestAppendChunk_TextSplitsConcatenate(t *testing.T) {
	const full = "The quick brown fox jumps over the lazy dog."

	splits := [][]int{
		{len(full)},
		{1, len(full) - 1},
		{4, 6, 6, 6, 22},
		{10, 10, 10, 14},
	}
	// One fragment per rune as well.
	perRune := make([]int, 0, len(full))
	for range full {
		perRune = append(perRune, 1)
	}
	splits = append(splits, perRune)

	for _, sizes := range splits {
		msg := NewMessage(RoleAssistant)
		offset := 0
		for _, n := range sizes {
			msg = AppendChunk(msg, textDelta(full[offset:offset+n], ""))
			offset += n
		}
		if len(msg.Parts) != 1 {
			t.Fatalf("split %v produced %d parts, want 1", sizes, len(msg.Parts))
		}
		if got := msg.Text(""); got != full {
			t.Errorf("split %v produced %q, want %q", sizes, got, full)
		}
	}
}

func TestAppendChunk_ReasoningMonotonicClose(t *testing.T) {
	start := time.Now()
	closedAt := start.Add(time.Second)
	later := start.Add(5 * time.Second)

	msg := NewMessage(RoleAssistant, ReasoningPart{CreatedAt: start})
	msg = AppendChunk(msg, reasoningDelta("a", nil))
	msg = AppendChunk(msg, reasoningDelta("b", &closedAt))
	msg = AppendChunk(msg, reasoningDelta("c", nil))
	msg = AppendChunk(msg, reasoningDelta("d", &later))

	r, ok := msg.Reasoning()
	if !ok {
		t.Fatal("expected reasoning part")
	}
	if r.Text != "abcd" {
		t.Errorf("reasoning text = %q, want %q", r.Text, "abcd")
	}
	if !r.CreatedAt.Equal(start) {
		t.Errorf("createdAt changed: %v, want %v", r.CreatedAt, start)
	}
	if r.FinishedAt == nil || !r.FinishedAt.Equal(closedAt) {
		t.Errorf("finishedAt = %v, want %v", r.FinishedAt, closedAt)
	}
}

func TestAppendChunk_EndToEnd(t *testing.T) {
	now := time.Now()
	msg := NewMessage(RoleAssistant, ReasoningPart{CreatedAt: now})

	msg = AppendChunk(msg, reasoningDelta("Let's", nil))
	msg = AppendChunk(msg, reasoningDelta(" think.", nil))

	final := textDelta("42", "stop")
	final.Usage = &TokenUsage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6}
	msg = AppendChunk(msg, final)
	msg = CloseReasoning(msg, time.Now())

	if len(msg.Parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(msg.Parts))
	}
	r, _ := msg.Reasoning()
	if r.Text != "Let's think." || r.IsOpen() {
		t.Errorf("reasoning = %#v, want closed \"Let's think.\"", r)
	}
	if msg.Text("") != "42" {
		t.Errorf("text = %q, want 42", msg.Text(""))
	}
	want := TokenUsage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6}
	if msg.Usage == nil || *msg.Usage != want {
		t.Errorf("usage = %+v, want %+v", msg.Usage, want)
	}
}

func TestAppendChunk_UsageOnlyOnFinish(t *testing.T) {
	msg := NewMessage(RoleAssistant)
	c := textDelta("a", "")
	c.Usage = &TokenUsage{PromptTokens: 9}
	msg = AppendChunk(msg, c)
	if msg.Usage != nil {
		t.Errorf("usage merged before finish: %+v", msg.Usage)
	}
}

func TestAppendChunk_AtomicPartsAppended(t *testing.T) {
	delta := Message{Parts: []Part{ToolCallPart{ID: "1", Name: "a"}, ToolCallPart{ID: "2", Name: "b"}}}
	chunk := MessageChunk{Choices: []MessageChoice{{Delta: &delta}}}

	msg := AppendChunk(NewMessage(RoleAssistant), chunk)
	msg = AppendChunk(msg, chunk)
	if len(msg.Parts) != 4 {
		t.Errorf("got %d parts, want 4", len(msg.Parts))
	}
}

func TestAppendChunk_IgnoresLaterChoices(t *testing.T) {
	first := Message{Parts: []Part{TextPart{Text: "first"}}}
	second := Message{Parts: []Part{TextPart{Text: "second"}}}
	chunk := MessageChunk{Choices: []MessageChoice{{Delta: &first}, {Index: 1, Delta: &second}}}

	msg := AppendChunk(NewMessage(RoleAssistant), chunk)
	if msg.Text("") != "first" {
		t.Errorf("text = %q, want %q", msg.Text(""), "first")
	}
}

func TestAppendChunk_DoesNotMutateInput(t *testing.T) {
	orig := NewMessage(RoleAssistant, TextPart{Text: "a"})
	_ = AppendChunk(orig, textDelta("b", ""))
	if orig.Text("") != "a" {
		t.Errorf("input mutated to %q", orig.Text(""))
	}
}

func TestDropEmptyReasoning(t *testing.T) {
	msg := NewMessage(RoleAssistant, ReasoningPart{}, TextPart{Text: "x"})
	got := DropEmptyReasoning(msg)
	if got.HasReasoning() {
		t.Error("empty reasoning part should be dropped")
	}
	if len(msg.Parts) != 2 {
		t.Error("DropEmptyReasoning must not modify the receiver")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_AddMessageWiresChildren(t *testing.T) {
	conv := NewConversation("a1")
	if !conv.IsEmpty() {
		t.Fatal("new conversation should be empty")
	}

	conv = conv.AddMessage(NewUserMessage("one"))
	conv = conv.AddMessage(NewAssistantMessage("two"))
	conv = conv.AddMessage(NewUserMessage("three"))

	msgs := conv.CurrentMessages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Text("") != want {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Text(""), want)
		}
	}

	root := conv.Nodes[conv.RootID]
	if root.ParentID != "" {
		t.Error("root should have no parent")
	}
	child := conv.Nodes[root.ChildIDs[0]]
	if child.ParentID != root.ID {
		t.Errorf("child parent = %q, want %q", child.ParentID, root.ID)
	}
	last, _ := conv.LastNode()
	if !last.IsLeaf() {
		t.Error("last node should be a leaf")
	}
	if conv.Metadata.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", conv.Metadata.MessageCount)
	}
}

func TestConversation_ImmutableUpdates(t *testing.T) {
	base := NewConversation("a1").AddMessage(NewUserMessage("hi"))
	next := base.AddMessage(NewAssistantMessage("hello"))

	if len(base.CurrentMessages()) != 1 {
		t.Errorf("base changed: %d messages", len(base.CurrentMessages()))
	}
	if len(next.CurrentMessages()) != 2 {
		t.Errorf("next has %d messages, want 2", len(next.CurrentMessages()))
	}
}

func TestConversation_UpdateLastMessageKeepsNode(t *testing.T) {
	conv := NewConversation("a1").AddMessage(NewUserMessage("q"))
	reply := NewMessage(RoleAssistant, ReasoningPart{CreatedAt: time.Now()})
	conv = conv.AddMessage(reply)
	before, _ := conv.LastNode()

	updated := reply.WithParts([]Part{TextPart{Text: "partial"}})
	conv = conv.UpdateLastMessage(updated)
	after, _ := conv.LastNode()

	if before.ID != after.ID {
		t.Errorf("node id changed from %q to %q", before.ID, after.ID)
	}
	if len(after.Messages) != 1 {
		t.Errorf("revisions = %d, want 1", len(after.Messages))
	}
	last, _ := conv.LastMessage()
	if last.ID != reply.ID || last.Text("") != "partial" {
		t.Errorf("last message = %#v", last)
	}
}

func TestConversation_UpdateLastMessageEmpty(t *testing.T) {
	conv := NewConversation("a1")
	got := conv.UpdateLastMessage(NewUserMessage("x"))
	if !got.IsEmpty() {
		t.Error("updating an empty conversation should be a no-op")
	}
}

func TestConversation_CurrentMessagesDeterministic(t *testing.T) {
	conv := NewConversation("a1").
		AddMessage(NewUserMessage("a")).
		AddMessage(NewAssistantMessage("b")).
		AddMessage(NewUserMessage("c"))

	first := conv.CurrentMessages()
	second := conv.CurrentMessages()
	if !reflect.DeepEqual(first, second) {
		t.Error("CurrentMessages() is not idempotent")
	}
}

func TestConversation_CorruptCycleTerminates(t *testing.T) {
	conv := NewConversation("a1").AddMessage(NewUserMessage("a")).AddMessage(NewUserMessage("b"))
	last, _ := conv.LastNode()
	last.ChildIDs = []string{conv.RootID}
	conv.Nodes[last.ID] = last

	if got := len(conv.CurrentMessages()); got != 2 {
		t.Errorf("got %d messages from cyclic arena, want 2", got)
	}
}

func TestConversation_Revisions(t *testing.T) {
	conv := NewConversation("a1").
		AddMessage(NewUserMessage("q")).
		AddMessage(NewAssistantMessage("first"))

	conv = conv.AddRevision(NewAssistantMessage("second"))
	last, _ := conv.LastNode()
	if len(last.Messages) != 2 || last.CurrentIndex != 1 {
		t.Fatalf("revisions = %d, current = %d", len(last.Messages), last.CurrentIndex)
	}
	msg, _ := conv.LastMessage()
	if msg.Text("") != "second" {
		t.Errorf("current revision = %q, want second", msg.Text(""))
	}

	conv, ok := conv.SelectRevision(last.ID, 0)
	if !ok {
		t.Fatal("SelectRevision failed")
	}
	msg, _ = conv.LastMessage()
	if msg.Text("") != "first" {
		t.Errorf("selected revision = %q, want first", msg.Text(""))
	}
	if _, ok := conv.SelectRevision(last.ID, 5); ok {
		t.Error("SelectRevision with bad index should fail")
	}
}

func TestConversation_UsageAndMetadata(t *testing.T) {
	a := NewAssistantMessage("x").WithUsage(TokenUsage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6})
	a.ModelID = "deepseek-chat"
	b := NewAssistantMessage("y").WithUsage(TokenUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13})
	b.ModelID = "deepseek-chat"

	conv := NewConversation("a1").
		AddMessage(NewUserMessage("q")).
		AddMessage(a).
		AddMessage(NewUserMessage("q2")).
		AddMessage(b)

	total := conv.TotalUsage()
	if total.TotalTokens != 19 || total.PromptTokens != 14 {
		t.Errorf("TotalUsage() = %+v", total)
	}
	if conv.Metadata.TotalTokens != 19 {
		t.Errorf("Metadata.TotalTokens = %d, want 19", conv.Metadata.TotalTokens)
	}
	if !reflect.DeepEqual(conv.Metadata.ModelIDs, []string{"deepseek-chat"}) {
		t.Errorf("Metadata.ModelIDs = %v", conv.Metadata.ModelIDs)
	}
}

func TestConversation_JSONRoundTripPath(t *testing.T) {
	conv := NewConversation("a1").
		AddMessage(NewUserMessage("q")).
		AddMessage(NewAssistantMessage("a")).
		WithTitle("t")

	data, err := json.Marshal(conv)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got Conversation
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Title != "t" || got.AssistantID != "a1" {
		t.Errorf("identity not preserved: %+v", got)
	}
	msgs := got.CurrentMessages()
	if len(msgs) != 2 || msgs[1].Text("") != "a" {
		t.Errorf("path not preserved: %v", msgs)
	}
}

// =============================================================================
// SETTINGS TYPE TESTS
// =============================================================================

func TestAssistant_ParamsDefaults(t *testing.T) {
	p := Assistant{}.Params()
	if *p.Temperature != DefaultTemperature || *p.TopP != DefaultTopP ||
		*p.MaxTokens != DefaultMaxTokens || *p.ThinkingBudget != DefaultThinkingBudget {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if (Assistant{}).ContextWindow() != DefaultContextMessageSize {
		t.Error("default context window should be 64")
	}
}

func TestGenerationParams_Override(t *testing.T) {
	base := Assistant{Temperature: Float(0.2), CustomHeaders: map[string]string{"X-A": "1"}}.Params()
	got := base.Override(GenerationParams{MaxTokens: Int(10), Headers: map[string]string{"X-B": "2"}})

	if *got.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", *got.Temperature)
	}
	if *got.MaxTokens != 10 {
		t.Errorf("max tokens = %v, want 10", *got.MaxTokens)
	}
	if got.Headers["X-A"] != "1" || got.Headers["X-B"] != "2" {
		t.Errorf("headers = %v", got.Headers)
	}
}

func TestReasoningLevel_Budget(t *testing.T) {
	tests := []struct {
		level  ReasoningLevel
		budget int
	}{
		{ReasoningOff, 0},
		{ReasoningAuto, -1},
		{ReasoningLow, 1024},
		{ReasoningMedium, 16000},
		{ReasoningHigh, 32000},
	}
	for _, tc := range tests {
		if got := tc.level.Budget(); got != tc.budget {
			t.Errorf("%s.Budget() = %d, want %d", tc.level, got, tc.budget)
		}
		if got := ReasoningLevelForBudget(tc.budget); got != tc.level {
			t.Errorf("ReasoningLevelForBudget(%d) = %s, want %s", tc.budget, got, tc.level)
		}
	}
}

func TestParseProviderType(t *testing.T) {
	if got, err := ParseProviderType(" deepseek "); err != nil || got != ProviderDeepSeek {
		t.Errorf("ParseProviderType(deepseek) = %q, %v", got, err)
	}
	if _, err := ParseProviderType("nope"); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

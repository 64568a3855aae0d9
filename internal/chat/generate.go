// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/provider"
	"github.com/jeranaias/rigrun-chat/internal/tasks"
)

// unresolvedProvider labels metrics for turns that failed before a
// provider was resolved.
const unresolvedProvider = "unresolved"

// =============================================================================
// GENERATION
// =============================================================================

// generation is one in-flight turn. Every event and every state mutation
// goes through mu with a context check, so once stop returns the turn can
// neither emit nor change the conversation.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	events chan GenerationChunk // nil for background turns
}

// emit delivers ev to the consumer. It reports false once the turn is
// stopped or its consumer is gone.
func (g *generation) emit(ev GenerationChunk) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	if g.events == nil {
		return true
	}
	select {
	case g.events <- ev:
		return true
	case <-g.ctx.Done():
		return false
	}
}

// commit applies fn to the live conversation unless the turn is stopped.
func (g *generation) commit(st *conversationState, fn func(model.Conversation) model.Conversation) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	st.mutate(fn)
	return true
}

// settle moves the conversation to a terminal state if this turn is still
// the one in flight. With revert the live value returns to the last
// persisted snapshot.
func (g *generation) settle(st *conversationState, state State, revert bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != g {
		return false
	}
	if revert {
		st.conv = st.persisted
		st.live.publish(st.conv)
	}
	st.gen = nil
	st.state = state
	return true
}

// persist saves the conversation unless the turn is stopped, so a stopped
// turn never writes over a deleted or superseded conversation.
func (g *generation) persist(ctx context.Context, e *Engine, st *conversationState) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false, nil
	}
	return true, e.persist(ctx, st)
}

// stop cancels the turn and waits for any emit, commit or save in progress.
func (g *generation) stop() {
	g.cancel()
	g.mu.Lock()
	defer g.mu.Unlock()
}

// =============================================================================
// TURN START
// =============================================================================

// startLocked supersedes any in-flight turn and schedules a new one on the
// pool. The caller holds st.turnMu.
func (e *Engine) startLocked(ctx context.Context, st *conversationState, params model.GenerationParams, regenerate, stream bool) (<-chan GenerationChunk, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}

	gctx, cancel := context.WithCancel(ctx)
	g := &generation{ctx: gctx, cancel: cancel}
	if stream {
		g.events = make(chan GenerationChunk)
	}

	st.mu.Lock()
	prev := st.gen
	st.gen = g
	st.state = StateGenerating
	st.mu.Unlock()
	if prev != nil {
		prev.stop()
		e.log.Debug().Str("conversation", st.id).Msg("generation superseded")
	}

	task, err := e.pool.Submit(gctx, tasks.KindGeneration, st.id, func(tctx context.Context) error {
		return e.runTurn(tctx, st, g, params, regenerate)
	})
	if err != nil {
		cancel()
		st.detach(StateIdle)
		if g.events != nil {
			close(g.events)
		}
		if errors.Is(err, tasks.ErrPoolClosed) {
			return nil, ErrEngineClosed
		}
		return nil, fmt.Errorf("failed to schedule generation: %w", err)
	}

	go func() {
		<-task.Done()
		// A turn canceled while still queued never ran.
		st.mu.Lock()
		if st.gen == g {
			st.gen = nil
			st.state = StateCancelled
		}
		st.mu.Unlock()
		cancel()
		if g.events != nil {
			close(g.events)
		}
	}()
	return g.events, nil
}

// =============================================================================
// TURN
// =============================================================================

// turn holds the per-turn bookkeeping of runTurn.
type turn struct {
	st  *conversationState
	g   *generation
	msg model.Message
	// label is the provider type used for metrics and logs.
	label string
	// thinkingDone is set once ThinkingComplete was decided.
	thinkingDone bool
}

// runTurn executes one generation turn inside a pool task.
func (e *Engine) runTurn(ctx context.Context, st *conversationState, g *generation, params model.GenerationParams, regenerate bool) error {
	start := time.Now()
	e.metrics.GenerationStarted()
	t := &turn{st: st, g: g, label: unresolvedProvider}
	log := e.log.With().Str("conversation", st.id).Logger()

	conv := st.snapshot()
	assistant, spec, prov, err := e.resolve(ctx, conv.AssistantID)
	if err != nil {
		return e.failTurn(ctx, t, err, start)
	}
	t.label = string(spec.ProviderType)

	revise := false
	if regenerate {
		if last, ok := conv.LastMessage(); ok && last.Role == model.RoleAssistant {
			revise = true
		}
	}
	history := buildHistory(assistant, conv, e.window(assistant), revise)

	// Placeholder with an open, empty reasoning part.
	t.msg = model.NewMessage(model.RoleAssistant, model.ReasoningPart{CreatedAt: time.Now()})
	t.msg.ModelID = spec.ID
	placeholder := t.msg
	if !g.commit(st, func(c model.Conversation) model.Conversation {
		if revise {
			return c.AddRevision(placeholder)
		}
		return c.AddMessage(placeholder)
	}) {
		return e.cancelTurn(ctx, t, start)
	}
	if ok, err := g.persist(ctx, e, st); !ok {
		return e.cancelTurn(ctx, t, start)
	} else if err != nil {
		log.Warn().Err(err).Msg("placeholder not persisted")
	}

	log.Info().Str("provider", t.label).Str("model", spec.ID).Int("history", len(history)).Msg("generation started")
	g.emit(StreamTarget{MessageID: t.msg.ID})
	g.emit(ThinkingChunk{})

	req := assistant.Params()
	req.Model = spec.UpstreamName()
	req = req.Override(params)

	var stream provider.Stream
	if assistant.Streams() {
		stream, err = prov.StreamText(ctx, history, req)
	} else {
		var reply model.Message
		reply, err = prov.GenerateText(ctx, history, req)
		if err == nil {
			stream = provider.MessageStream(reply)
		}
	}
	if err != nil {
		if cancelled(ctx, g) {
			return e.cancelTurn(ctx, t, start)
		}
		return e.failTurn(ctx, t, err, start)
	}
	defer stream.Close()

	for stream.Next() {
		if cancelled(ctx, g) {
			break
		}
		e.metrics.Chunk()
		if !e.applyChunk(t, stream.Current()) {
			break
		}
		if stream.Current().IsFinished() {
			break
		}
	}

	if cancelled(ctx, g) {
		return e.cancelTurn(ctx, t, start)
	}
	if err := stream.Err(); err != nil {
		return e.failTurn(ctx, t, err, start)
	}
	return e.completeTurn(ctx, t, start)
}

// applyChunk mirrors the chunk's new fragments as events and folds it into
// the tracked message. It reports false once the turn is stopped.
func (e *Engine) applyChunk(t *turn, chunk model.MessageChunk) bool {
	hasText := false
	for _, part := range chunk.DeltaParts() {
		switch p := part.(type) {
		case model.ReasoningPart:
			if p.Text != "" && !t.g.emit(ThinkingChunk{Delta: p.Text}) {
				return false
			}
		case model.TextPart:
			if p.Text != "" {
				hasText = true
			}
		}
	}

	t.msg = model.AppendChunk(t.msg, chunk)
	if hasText && !t.thinkingDone {
		if !e.finishThinking(t) {
			return false
		}
	}

	for _, part := range chunk.DeltaParts() {
		if p, ok := part.(model.TextPart); ok && p.Text != "" {
			if !t.g.emit(ResponseChunk{Delta: p.Text}) {
				return false
			}
		}
	}

	msg := t.msg
	return t.g.commit(t.st, func(c model.Conversation) model.Conversation {
		return c.UpdateLastMessage(msg)
	})
}

// finishThinking closes the reasoning part and emits ThinkingComplete when
// any reasoning was produced.
func (e *Engine) finishThinking(t *turn) bool {
	t.thinkingDone = true
	t.msg = model.CloseReasoning(t.msg, time.Now())
	if text := t.msg.ReasoningContent(); text != "" {
		return t.g.emit(ThinkingComplete{Text: text})
	}
	return true
}

// completeTurn finalizes the message, persists it, settles the state and
// emits ResponseComplete.
func (e *Engine) completeTurn(ctx context.Context, t *turn, start time.Time) error {
	if !t.thinkingDone && !e.finishThinking(t) {
		return e.cancelTurn(ctx, t, start)
	}
	t.msg = model.DropEmptyReasoning(model.CloseReasoning(t.msg, time.Now()))

	final := t.msg
	if !t.g.commit(t.st, func(c model.Conversation) model.Conversation {
		return c.UpdateLastMessage(final)
	}) {
		return e.cancelTurn(ctx, t, start)
	}
	if ok, err := t.g.persist(ctx, e, t.st); !ok || (err != nil && cancelled(ctx, t.g)) {
		return e.cancelTurn(ctx, t, start)
	} else if err != nil {
		return e.failTurn(ctx, t, err, start)
	}

	var usage model.TokenUsage
	if final.Usage != nil {
		usage = *final.Usage
	}
	if !t.g.settle(t.st, StateIdle, false) {
		return e.cancelTurn(ctx, t, start)
	}
	// The turn is persisted and idle; a consumer that left early only misses the event.
	t.g.emit(ResponseComplete{Message: final, Usage: usage})

	e.metrics.GenerationFinished(t.label, metrics.OutcomeComplete, time.Since(start))
	e.metrics.Tokens(t.label, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens)
	e.log.Info().
		Str("conversation", t.st.id).
		Str("provider", t.label).
		Int("tokens", usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("generation complete")

	if e.titleGeneration {
		e.scheduleTitle(t.st.id)
	}
	return nil
}

// failTurn reverts to the last persisted value and emits exactly one error.
func (e *Engine) failTurn(ctx context.Context, t *turn, err error, start time.Time) error {
	if cancelled(ctx, t.g) {
		return e.cancelTurn(ctx, t, start)
	}
	e.metrics.GenerationFinished(t.label, metrics.OutcomeError, time.Since(start))
	e.log.Warn().Err(err).Str("conversation", t.st.id).Str("provider", t.label).Msg("generation failed")

	t.g.settle(t.st, StateErrored, true)
	t.g.emit(ErrorChunk{Err: err})
	return err
}

// cancelTurn records a stopped turn. A turn cancelled through its own
// context (not superseded, not cancelled by CancelGeneration) keeps its
// partial content and persists it here.
func (e *Engine) cancelTurn(ctx context.Context, t *turn, start time.Time) error {
	e.metrics.GenerationFinished(t.label, metrics.OutcomeCancelled, time.Since(start))
	e.log.Debug().Str("conversation", t.st.id).Msg("generation stopped")

	t.st.mu.Lock()
	mine := t.st.gen == t.g
	if mine {
		t.st.gen = nil
		t.st.state = StateCancelled
	}
	t.st.mu.Unlock()

	if mine {
		_ = e.persistDetached(ctx, t.st)
	}
	return context.Canceled
}

// scheduleTitle runs GenerateTitle in the background.
func (e *Engine) scheduleTitle(id string) {
	_, err := e.pool.Submit(context.Background(), tasks.KindTitle, id, func(ctx context.Context) error {
		_, err := e.GenerateTitle(ctx, id)
		return err
	})
	if err != nil && !errors.Is(err, tasks.ErrPoolClosed) {
		e.log.Warn().Err(err).Str("conversation", id).Msg("title job not scheduled")
	}
}

func cancelled(ctx context.Context, g *generation) bool {
	return g.ctx.Err() != nil || errors.Is(ctx.Err(), context.Canceled)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// resolve looks up the assistant, its model and the provider for the
// model's backend type.
func (e *Engine) resolve(ctx context.Context, assistantID string) (model.Assistant, model.ModelSpec, provider.Provider, error) {
	assistant, err := e.settings.GetAssistant(ctx, assistantID)
	if err != nil {
		return model.Assistant{}, model.ModelSpec{}, nil, fmt.Errorf("failed to resolve assistant: %w", err)
	}
	spec, err := e.settings.GetModel(ctx, assistant.ModelID)
	if err != nil {
		return model.Assistant{}, model.ModelSpec{}, nil, fmt.Errorf("failed to resolve model: %w", err)
	}
	prov, err := e.providers.Get(spec.ProviderType)
	if err != nil {
		return model.Assistant{}, model.ModelSpec{}, nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	return assistant, spec, prov, nil
}

func (e *Engine) window(a model.Assistant) int {
	if a.ContextMessageSize > 0 {
		return a.ContextMessageSize
	}
	return e.contextWindow
}

// buildHistory assembles the outbound messages: system prompt, presets,
// then the most recent window messages of the current path with reasoning
// stripped. With dropLast the trailing message (the one being regenerated)
// is left out.
func buildHistory(a model.Assistant, c model.Conversation, window int, dropLast bool) []model.Message {
	out := make([]model.Message, 0, len(a.PresetMessages)+window+1)
	if a.HasSystemPrompt() {
		out = append(out, model.NewSystemMessage(a.SystemPrompt))
	}
	for _, p := range a.PresetMessages {
		out = append(out, p.Message())
	}

	msgs := c.CurrentMessages()
	if dropLast && len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}
	history := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsValidForUpload() {
			history = append(history, m.ForUpload())
		}
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	return append(out, history...)
}

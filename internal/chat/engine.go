// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/provider"
	"github.com/jeranaias/rigrun-chat/internal/settings"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/tasks"
)

// saveTimeout bounds persistence done on behalf of a turn that has already
// been cancelled.
const saveTimeout = 5 * time.Second

// =============================================================================
// ENGINE
// =============================================================================

// Engine orchestrates conversations: it appends user messages, runs
// generation turns on the shared pool and keeps every loaded conversation's
// live state in sync with the repository.
type Engine struct {
	repo      storage.Repository
	settings  settings.Store
	providers *provider.Registry
	pool      *tasks.Pool

	log             zerolog.Logger
	metrics         *metrics.Metrics
	titleGeneration bool
	contextWindow   int

	mu     sync.Mutex
	convs  map[string]*conversationState
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the collectors turns are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTitleGeneration enables or disables the post-turn title job.
func WithTitleGeneration(enabled bool) Option {
	return func(e *Engine) { e.titleGeneration = enabled }
}

// WithContextWindow sets the history size used for assistants that do not
// configure their own.
func WithContextWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.contextWindow = n
		}
	}
}

// NewEngine creates an engine. A nil pool gets a private pool with the
// default concurrency.
func NewEngine(repo storage.Repository, store settings.Store, providers *provider.Registry, pool *tasks.Pool, opts ...Option) *Engine {
	e := &Engine{
		repo:            repo,
		settings:        store,
		providers:       providers,
		pool:            pool,
		log:             zerolog.Nop(),
		titleGeneration: true,
		contextWindow:   model.DefaultContextMessageSize,
		convs:           make(map[string]*conversationState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pool == nil {
		e.pool = tasks.NewPool(tasks.DefaultMaxConcurrent, tasks.WithLogger(e.log))
	}
	return e
}

// =============================================================================
// CONVERSATION STATE
// =============================================================================

// conversationState is the live, in-memory copy of one conversation.
//
// Lock order: turnMu, then generation.mu, then mu. persist takes saveMu
// and then mu briefly; it is never called with mu held. DeleteConversation
// takes saveMu last, after releasing turnMu and mu.
type conversationState struct {
	id string

	// turnMu serializes operations that start, stop or supersede a turn.
	turnMu sync.Mutex

	mu        sync.Mutex
	conv      model.Conversation
	persisted model.Conversation
	gen       *generation
	state     State
	// deleted is set once DeleteConversation starts; no save follows it.
	deleted bool

	saveMu sync.Mutex
	live   *live
}

func newConversationState(c model.Conversation) *conversationState {
	return &conversationState{
		id:        c.ID,
		conv:      c,
		persisted: c,
		state:     StateIdle,
		live:      newLive(c),
	}
}

// mutate applies fn to the live conversation and publishes the result.
func (st *conversationState) mutate(fn func(model.Conversation) model.Conversation) model.Conversation {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conv = fn(st.conv)
	st.live.publish(st.conv)
	return st.conv
}

func (st *conversationState) snapshot() model.Conversation {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conv
}

// detach clears the in-flight generation and sets the resulting state. It
// returns the generation that was in flight, if any.
func (st *conversationState) detach(state State) *generation {
	st.mu.Lock()
	defer st.mu.Unlock()
	g := st.gen
	if g == nil {
		return nil
	}
	st.gen = nil
	st.state = state
	return g
}

// lookup returns the loaded state for id, loading it from the repository
// on first use.
func (e *Engine) lookup(ctx context.Context, id string) (*conversationState, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if st, ok := e.convs[id]; ok {
		e.mu.Unlock()
		return st, nil
	}
	e.mu.Unlock()

	c, err := e.repo.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	// Another caller may have loaded it meanwhile.
	if st, ok := e.convs[id]; ok {
		return st, nil
	}
	st := newConversationState(c)
	e.convs[id] = st
	return st, nil
}

// loaded returns the in-memory state for id without touching the repository.
func (e *Engine) loaded(id string) (*conversationState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.convs[id]
	return st, ok
}

// persist writes the latest snapshot to the repository. Saves for one
// conversation are serialized so an older snapshot never overwrites a newer.
func (e *Engine) persist(ctx context.Context, st *conversationState) error {
	st.saveMu.Lock()
	defer st.saveMu.Unlock()

	st.mu.Lock()
	snap, deleted := st.conv, st.deleted
	st.mu.Unlock()
	if deleted {
		e.log.Debug().Str("conversation", st.id).Msg("skipping save of deleted conversation")
		return nil
	}
	if err := e.repo.Save(ctx, snap); err != nil {
		e.log.Error().Err(err).Str("conversation", st.id).Msg("failed to persist conversation")
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	st.mu.Lock()
	st.persisted = snap
	st.mu.Unlock()
	return nil
}

// persistDetached persists with a context that survives ctx's cancellation.
func (e *Engine) persistDetached(ctx context.Context, st *conversationState) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	return e.persist(ctx, st)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation creates, persists and loads a conversation bound to
// assistantID, optionally seeded with initial messages.
func (e *Engine) CreateConversation(ctx context.Context, assistantID string, initial ...model.Message) (model.Conversation, error) {
	if _, err := e.settings.GetAssistant(ctx, assistantID); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to resolve assistant: %w", err)
	}

	c := model.NewConversation(assistantID)
	for _, m := range initial {
		c = c.AddMessage(m)
	}
	if err := e.repo.Save(ctx, c); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to save conversation: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return model.Conversation{}, ErrEngineClosed
	}
	e.convs[c.ID] = newConversationState(c)
	e.log.Debug().Str("conversation", c.ID).Str("assistant", assistantID).Msg("conversation created")
	return c, nil
}

// LoadConversation returns the live value of a conversation.
func (e *Engine) LoadConversation(ctx context.Context, id string) (model.Conversation, error) {
	st, err := e.lookup(ctx, id)
	if err != nil {
		return model.Conversation{}, err
	}
	return st.snapshot(), nil
}

// Observe returns a channel of conversation snapshots: the current value
// first, then every update. Intermediate updates are dropped for a slow
// reader, never the newest. The channel closes when ctx is done or the
// conversation is deleted.
func (e *Engine) Observe(ctx context.Context, id string) (<-chan model.Conversation, error) {
	st, err := e.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	ch, unsubscribe := st.live.subscribe()
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return ch, nil
}

// SaveConversation replaces a conversation wholesale and persists it.
func (e *Engine) SaveConversation(ctx context.Context, c model.Conversation) error {
	if st, ok := e.loaded(c.ID); ok {
		st.mutate(func(model.Conversation) model.Conversation { return c })
		return e.persist(ctx, st)
	}
	if err := e.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// DeleteConversation cancels any in-flight turn and removes the conversation.
// A save already running for it finishes before the repository delete, and
// no later save is written.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	st, ok := e.loaded(id)
	if ok {
		st.turnMu.Lock()
		if g := st.detach(StateCancelled); g != nil {
			g.stop()
		}
		st.mu.Lock()
		st.deleted = true
		st.mu.Unlock()
		st.turnMu.Unlock()

		e.mu.Lock()
		if e.convs[id] == st {
			delete(e.convs, id)
		}
		e.mu.Unlock()
		st.live.close()

		st.saveMu.Lock()
		defer st.saveMu.Unlock()
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	e.log.Debug().Str("conversation", id).Msg("conversation deleted")
	return nil
}

// SearchConversations returns persisted conversations whose title or
// message text contains query, most recently updated first. An empty
// assistantID matches every assistant.
func (e *Engine) SearchConversations(ctx context.Context, query, assistantID string) ([]model.Conversation, error) {
	results, err := e.repo.Search(ctx, query, assistantID)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	return results, nil
}

// TokenUsage returns the usage summed over the conversation's current path.
func (e *Engine) TokenUsage(ctx context.Context, id string) (model.TokenUsage, error) {
	st, err := e.lookup(ctx, id)
	if err != nil {
		return model.TokenUsage{}, err
	}
	return st.snapshot().TotalUsage(), nil
}

// State returns the generation state of a conversation. Conversations that
// are not loaded are idle.
func (e *Engine) State(id string) State {
	st, ok := e.loaded(id)
	if !ok {
		return StateIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// =============================================================================
// MESSAGES
// =============================================================================

// SendMessage appends a user message built from parts and persists it. Any
// in-flight turn is cancelled first. With autoGenerate a turn is started in
// the background; its progress is visible through Observe.
func (e *Engine) SendMessage(ctx context.Context, id string, parts []model.Part, autoGenerate bool) (model.Message, error) {
	if len(parts) == 0 {
		return model.Message{}, ErrInvalidInput
	}
	st, err := e.lookup(ctx, id)
	if err != nil {
		return model.Message{}, err
	}

	st.turnMu.Lock()
	defer st.turnMu.Unlock()

	if g := st.detach(StateCancelled); g != nil {
		g.stop()
		e.log.Debug().Str("conversation", id).Msg("generation superseded by new message")
	}

	msg := model.NewMessage(model.RoleUser, parts...)
	st.mutate(func(c model.Conversation) model.Conversation { return c.AddMessage(msg) })
	if err := e.persist(ctx, st); err != nil {
		return msg, err
	}

	if autoGenerate {
		if _, err := e.startLocked(context.WithoutCancel(ctx), st, model.GenerationParams{}, false, false); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateResponseStream starts a turn for the conversation and returns its
// events. Any in-flight turn for the same conversation is cancelled first.
// The channel closes when the turn ends; cancelling ctx cancels the turn.
// The caller must drain the channel or cancel ctx.
func (e *Engine) GenerateResponseStream(ctx context.Context, id string, params model.GenerationParams) (<-chan GenerationChunk, error) {
	st, err := e.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	st.turnMu.Lock()
	defer st.turnMu.Unlock()
	return e.startLocked(ctx, st, params, false, true)
}

// Regenerate starts a turn that rewrites the last assistant message as a
// new revision of the same node. Without a trailing assistant message it
// behaves like GenerateResponseStream.
func (e *Engine) Regenerate(ctx context.Context, id string, params model.GenerationParams) (<-chan GenerationChunk, error) {
	st, err := e.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	st.turnMu.Lock()
	defer st.turnMu.Unlock()
	return e.startLocked(ctx, st, params, true, true)
}

// GenerateResponse runs a turn to completion and returns the final message.
func (e *Engine) GenerateResponse(ctx context.Context, id string, params model.GenerationParams) (model.Message, error) {
	events, err := e.GenerateResponseStream(ctx, id, params)
	if err != nil {
		return model.Message{}, err
	}
	return collect(ctx, events)
}

// collect drains events and returns the completion or the turn error.
func collect(ctx context.Context, events <-chan GenerationChunk) (model.Message, error) {
	var (
		result    *model.Message
		resultErr error
	)
	for ev := range events {
		switch ev := ev.(type) {
		case ResponseComplete:
			msg := ev.Message
			result = &msg
		case ErrorChunk:
			resultErr = ev.Err
		}
	}
	switch {
	case result != nil:
		return *result, nil
	case resultErr != nil:
		return model.Message{}, resultErr
	case ctx.Err() != nil:
		return model.Message{}, fmt.Errorf("%w: %v", ErrGenerationCancelled, ctx.Err())
	}
	return model.Message{}, ErrNoResponse
}

// CancelGeneration cancels the in-flight turn of a conversation, keeping
// whatever content streamed so far, and persists that partial state. It is
// a no-op when nothing is in flight.
func (e *Engine) CancelGeneration(ctx context.Context, id string) error {
	st, ok := e.loaded(id)
	if !ok {
		return nil
	}
	st.turnMu.Lock()
	defer st.turnMu.Unlock()

	g := st.detach(StateCancelled)
	if g == nil {
		return nil
	}
	g.stop()
	e.log.Info().Str("conversation", id).Msg("generation cancelled")
	return e.persistDetached(ctx, st)
}

// GenerateTitle sets a title derived from the first messages when the
// conversation has none, and returns the title.
func (e *Engine) GenerateTitle(ctx context.Context, id string) (string, error) {
	st, err := e.lookup(ctx, id)
	if err != nil {
		return "", err
	}

	var changed bool
	c := st.mutate(func(c model.Conversation) model.Conversation {
		if c.Title != "" {
			return c
		}
		title := deriveTitle(c)
		if title == "" {
			return c
		}
		changed = true
		return c.WithTitle(title)
	})
	if !changed {
		return c.Title, nil
	}
	if err := e.persist(ctx, st); err != nil {
		return c.Title, err
	}
	e.log.Debug().Str("conversation", id).Str("title", c.Title).Msg("title generated")
	return c.Title, nil
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close cancels every in-flight turn, drains the worker pool and closes all
// observer channels.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	states := make([]*conversationState, 0, len(e.convs))
	for _, st := range e.convs {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		st.turnMu.Lock()
		if g := st.detach(StateCancelled); g != nil {
			g.stop()
			_ = e.persistDetached(ctx, st)
		}
		st.turnMu.Unlock()
	}

	err := e.pool.Close(ctx)
	for _, st := range states {
		st.live.close()
	}
	return err
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxConcurrent bounds running tasks when no limit is configured.
const DefaultMaxConcurrent = 8

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("task pool closed")

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// Notification reports a task reaching a terminal status.
type Notification struct {
	Info
}

// =============================================================================
// POOL
// =============================================================================

// Pool runs tasks on at most maxConcurrent goroutines at a time. Tasks
// beyond the limit wait in Queued until a slot frees up or they are
// canceled.
type Pool struct {
	semaphore  chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	baseCtx    context.Context
	baseCancel context.CancelFunc
	timeout    time.Duration
	maxHistory int
	log        zerolog.Logger

	mu      sync.RWMutex
	tasks   map[string]*Task
	history []string // finished task IDs, oldest first

	notifyChan chan Notification
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pool) { p.log = log.With().Str("component", "tasks").Logger() }
}

// WithTimeout bounds every task's run time (0 = no timeout).
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithHistory keeps up to n finished tasks queryable through Get.
func WithHistory(n int) Option {
	return func(p *Pool) { p.maxHistory = n }
}

// NewPool creates a pool running at most maxConcurrent tasks at once.
func NewPool(maxConcurrent int, opts ...Option) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		semaphore:  make(chan struct{}, maxConcurrent),
		baseCtx:    ctx,
		baseCancel: cancel,
		maxHistory: 100,
		log:        zerolog.Nop(),
		tasks:      make(map[string]*Task),
		notifyChan: make(chan Notification, 100),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit schedules fn. The task runs under a context derived from ctx; it
// is canceled when ctx is, when Task.Cancel or Pool.Cancel is called, or
// when the pool closes. Submit never blocks on a free slot.
func (p *Pool) Submit(ctx context.Context, kind Kind, conversationID string, fn Func) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.baseCtx, cancel)
	if p.timeout > 0 {
		var cancelTimeout context.CancelFunc
		taskCtx, cancelTimeout = context.WithTimeout(taskCtx, p.timeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}

	task := newTask(kind, conversationID, cancel)
	p.tasks[task.id] = task

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		defer cancel()
		p.run(taskCtx, task, fn)
	}()
	return task, nil
}

// run waits for a slot and executes fn.
func (p *Pool) run(ctx context.Context, task *Task, fn Func) {
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		p.finish(task, TaskStatusCanceled, ctx.Err())
		return
	}
	defer func() { <-p.semaphore }()

	// A cancel racing with slot acquisition wins.
	if err := ctx.Err(); err != nil {
		p.finish(task, TaskStatusCanceled, err)
		return
	}
	_ = task.setStatus(TaskStatusRunning, nil)

	err := safeCall(ctx, fn)
	switch {
	case err == nil:
		p.finish(task, TaskStatusComplete, nil)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		p.finish(task, TaskStatusFailed, fmt.Errorf("task timeout after %v: %w", p.timeout, err))
	case ctx.Err() != nil:
		p.finish(task, TaskStatusCanceled, err)
	default:
		p.finish(task, TaskStatusFailed, err)
	}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (p *Pool) finish(task *Task, status TaskStatus, err error) {
	if setErr := task.setStatus(status, err); setErr != nil {
		p.log.Error().Err(setErr).Str("task", task.id).Msg("task status update rejected")
	}
	defer task.markDone()
	info := task.Info()

	evt := p.log.Debug()
	if status == TaskStatusFailed {
		evt = p.log.Warn().Err(err)
	}
	evt.Str("task", info.ID).
		Str("kind", string(info.Kind)).
		Str("conversation", info.ConversationID).
		Str("status", info.Status.String()).
		Dur("duration", info.Duration()).
		Msg("task finished")

	p.mu.Lock()
	p.history = append(p.history, task.id)
	p.cleanupLocked()
	p.mu.Unlock()

	p.notify(Notification{Info: info})
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a snapshot of the task with id.
func (p *Pool) Get(id string) (Info, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task, ok := p.tasks[id]
	if !ok {
		return Info{}, false
	}
	return task.Info(), true
}

// Cancel cancels the task with id. Returns false if unknown or finished.
func (p *Pool) Cancel(id string) bool {
	p.mu.RLock()
	task, ok := p.tasks[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return task.Cancel()
}

// Active returns snapshots of all queued and running tasks, oldest first.
func (p *Pool) Active() []Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]Info, 0, len(p.tasks))
	for _, task := range p.tasks {
		if info := task.Info(); !info.Status.IsTerminal() {
			result = append(result, info)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].QueuedAt.Before(result[j].QueuedAt) })
	return result
}

// RunningCount returns the number of tasks holding a worker slot.
func (p *Pool) RunningCount() int {
	return len(p.semaphore)
}

// Summary returns a formatted summary of the pool.
func (p *Pool) Summary() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, task := range p.tasks {
		counts[task.Status()]++
	}
	return fmt.Sprintf("Running: %d | Queued: %d | Completed: %d | Failed: %d | Canceled: %d",
		counts[TaskStatusRunning], counts[TaskStatusQueued], counts[TaskStatusComplete],
		counts[TaskStatusFailed], counts[TaskStatusCanceled])
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notifications returns the channel of terminal-status notifications.
// Notifications are dropped when nobody drains the channel.
func (p *Pool) Notifications() <-chan Notification {
	return p.notifyChan
}

func (p *Pool) notify(n Notification) {
	select {
	case p.notifyChan <- n:
	default:
		p.log.Warn().Str("task", n.ID).Str("status", n.Status.String()).Msg("notification channel full, dropped notification")
	}
}

// =============================================================================
// CLEANUP
// =============================================================================

// cleanupLocked forgets the oldest finished tasks beyond maxHistory.
// Must be called with lock held.
func (p *Pool) cleanupLocked() {
	if p.maxHistory <= 0 || len(p.history) <= p.maxHistory {
		return
	}
	excess := len(p.history) - p.maxHistory
	for _, id := range p.history[:excess] {
		delete(p.tasks, id)
	}
	p.history = append([]string(nil), p.history[excess:]...)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close stops accepting tasks, cancels every queued and running task and
// waits for them to return, or for ctx to be done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed.Store(true)
	p.mu.Unlock()
	p.baseCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

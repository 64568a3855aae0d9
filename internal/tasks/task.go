// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks runs cancellable background jobs on a bounded worker pool.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a background task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for a worker slot
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "Running"

	// TaskStatusComplete indicates the task finished successfully
	TaskStatusComplete TaskStatus = "Complete"

	// TaskStatusFailed indicates the task returned an error or panicked
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCanceled indicates the task's context was canceled
	TaskStatusCanceled TaskStatus = "Canceled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed || s == TaskStatusCanceled
}

// validTransition reports whether from -> to is allowed.
// Queued -> Running | Canceled, Running -> Complete | Failed | Canceled.
func validTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusCanceled
	case TaskStatusRunning:
		return to.IsTerminal()
	}
	return false
}

// =============================================================================
// TASK KIND
// =============================================================================

// Kind labels what a task does.
type Kind string

const (
	// KindGeneration streams an assistant reply into a conversation.
	KindGeneration Kind = "generation"

	// KindTitle derives a conversation title in the background.
	KindTitle Kind = "title"
)

// =============================================================================
// TASK
// =============================================================================

// Task is one submitted job. All fields are guarded by mu; read them
// through Info.
type Task struct {
	id             string
	kind           Kind
	conversationID string

	mu        sync.RWMutex
	status    TaskStatus
	queuedAt  time.Time
	startTime time.Time
	endTime   time.Time
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
}

// Info is a point-in-time copy of a task's state.
type Info struct {
	ID             string
	Kind           Kind
	ConversationID string
	Status         TaskStatus
	QueuedAt       time.Time
	StartTime      time.Time
	EndTime        time.Time
	Err            error
}

// Duration returns how long the task ran, or has been running.
func (i Info) Duration() time.Duration {
	if i.StartTime.IsZero() {
		return 0
	}
	if i.EndTime.IsZero() {
		return time.Since(i.StartTime)
	}
	return i.EndTime.Sub(i.StartTime)
}

// Summary returns a one-line summary of the task.
func (i Info) Summary() string {
	id := i.ID
	if len(id) > 8 {
		id = id[:8]
	}
	summary := fmt.Sprintf("[%s] %s %s - %s", id, i.Kind, i.ConversationID, i.Status)
	if d := i.Duration(); d > 0 {
		summary += fmt.Sprintf(" (%.1fs)", d.Seconds())
	}
	return summary
}

func newTask(kind Kind, conversationID string, cancel context.CancelFunc) *Task {
	return &Task{
		id:             uuid.NewString(),
		kind:           kind,
		conversationID: conversationID,
		status:         TaskStatusQueued,
		queuedAt:       time.Now(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Kind returns what the task does.
func (t *Task) Kind() Kind { return t.kind }

// ConversationID returns the conversation the task works on.
func (t *Task) ConversationID() string { return t.conversationID }

// Status returns the current status (thread-safe).
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Info returns a snapshot of the task (thread-safe).
func (t *Task) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Info{
		ID:             t.id,
		Kind:           t.kind,
		ConversationID: t.conversationID,
		Status:         t.status,
		QueuedAt:       t.queuedAt,
		StartTime:      t.startTime,
		EndTime:        t.endTime,
		Err:            t.err,
	}
}

// Done is closed once the task has finished and been recorded.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done, and returns the
// task's error (nil for Complete).
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the task's context. The task reports Canceled once its
// function returns. Returns false if the task already finished.
func (t *Task) Cancel() bool {
	t.mu.RLock()
	terminal := t.status.IsTerminal()
	t.mu.RUnlock()
	if terminal {
		return false
	}
	t.cancel()
	return true
}

// setStatus moves the task to status, validating the transition.
func (t *Task) setStatus(status TaskStatus, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !validTransition(t.status, status) {
		return fmt.Errorf("invalid status transition from %s to %s", t.status, status)
	}
	if t.status == status {
		return nil
	}

	now := time.Now()
	t.status = status
	switch {
	case status == TaskStatusRunning:
		t.startTime = now
	case status.IsTerminal():
		t.endTime = now
		t.err = err
	}
	return nil
}

// markDone releases Wait and Done. Called once, after the pool has
// recorded the terminal status.
func (t *Task) markDone() {
	close(t.done)
}

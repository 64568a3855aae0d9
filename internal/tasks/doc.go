// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks runs cancellable background jobs on a bounded worker pool.
//
// The chat engine submits every response generation and every background
// title job here, so the number of concurrently streaming backends is
// bounded and shutdown can cancel and drain all of them.
//
// # Key Types
//
//   - Pool: Semaphore-bounded executor with cancellation and history
//   - Task: One submitted job with validated status transitions
//   - Info: Point-in-time snapshot of a task
//   - TaskStatus: Queued, Running, Complete, Failed, Canceled
//
// # Usage
//
//	pool := tasks.NewPool(8, tasks.WithLogger(log))
//	defer pool.Close(context.Background())
//
//	task, err := pool.Submit(ctx, tasks.KindTitle, convID, func(ctx context.Context) error {
//	    return generateTitle(ctx, convID)
//	})
//	if err != nil {
//	    return err
//	}
//	if err := task.Wait(ctx); err != nil {
//	    log.Warn().Err(err).Msg("title job failed")
//	}
package tasks

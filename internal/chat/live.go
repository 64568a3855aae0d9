// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// LIVE STATE
// =============================================================================

// live multicasts conversation snapshots with replay-latest semantics. Each
// subscriber has a one-slot buffer; a slow subscriber loses intermediate
// snapshots but always ends up holding the newest one. New subscribers
// receive the latest snapshot immediately.
type live struct {
	mu     sync.Mutex
	latest model.Conversation
	subs   map[int]chan model.Conversation
	nextID int
	closed bool
}

func newLive(initial model.Conversation) *live {
	return &live{
		latest: initial,
		subs:   make(map[int]chan model.Conversation),
	}
}

// publish replaces the latest snapshot and offers it to every subscriber.
func (l *live) publish(c model.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.latest = c
	for _, ch := range l.subs {
		offer(ch, c)
	}
}

// offer replaces whatever is buffered in ch with c. Only publishers send and
// they hold l.mu, so the send after draining cannot block.
func offer(ch chan model.Conversation, c model.Conversation) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- c:
	default:
	}
}

// subscribe registers a subscriber seeded with the latest snapshot. The
// returned func unsubscribes and closes the channel; it is safe to call twice.
func (l *live) subscribe() (<-chan model.Conversation, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan model.Conversation, 1)
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	ch <- l.latest

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
		})
	}
}

// subscribers returns the number of open subscriptions.
func (l *live) subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// close closes every subscriber channel. Later publishes are dropped.
func (l *live) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

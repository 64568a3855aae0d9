// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// NODE TYPE
// =============================================================================

// Node is one position in the conversation tree. It holds every revision of
// the message at that position; CurrentIndex selects the visible one.
// ParentID is a back-reference for traversal only.
type Node struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	CurrentIndex int       `json:"current_index"`
	ParentID     string    `json:"parent_id,omitempty"`
	ChildIDs     []string  `json:"child_ids,omitempty"`
}

// Current returns the selected revision.
func (n Node) Current() Message {
	if len(n.Messages) == 0 {
		return Message{}
	}
	idx := n.CurrentIndex
	if idx < 0 || idx >= len(n.Messages) {
		idx = len(n.Messages) - 1
	}
	return n.Messages[idx]
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return len(n.ChildIDs) == 0
}

func (n Node) clone() Node {
	n.Messages = append([]Message(nil), n.Messages...)
	n.ChildIDs = append([]string(nil), n.ChildIDs...)
	return n
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Metadata is the lightweight summary kept alongside the node arena.
type Metadata struct {
	TotalTokens  int      `json:"total_tokens"`
	MessageCount int      `json:"message_count"`
	ModelIDs     []string `json:"model_ids,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Conversation is an immutable value holding a tree of message nodes keyed
// by id. Mutating methods return a new Conversation and never modify the
// receiver, so a value handed to an observer stays stable.
type Conversation struct {
	ID          string          `json:"id"`
	AssistantID string          `json:"assistant_id"`
	Title       string          `json:"title"`
	RootID      string          `json:"root_id,omitempty"`
	Nodes       map[string]Node `json:"nodes"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Metadata    Metadata        `json:"metadata"`
}

// NewConversation creates an empty conversation owned by assistantID.
func NewConversation(assistantID string) Conversation {
	now := time.Now()
	return Conversation{
		ID:          uuid.NewString(),
		AssistantID: assistantID,
		Nodes:       make(map[string]Node),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	nodes := make(map[string]Node, len(c.Nodes))
	for id, n := range c.Nodes {
		nodes[id] = n.clone()
	}
	c.Nodes = nodes
	c.Metadata.ModelIDs = append([]string(nil), c.Metadata.ModelIDs...)
	c.Metadata.Tags = append([]string(nil), c.Metadata.Tags...)
	return c
}

// shallow copies the node map so a single node can be replaced without
// touching the receiver.
func (c Conversation) shallow() Conversation {
	nodes := make(map[string]Node, len(c.Nodes)+1)
	for id, n := range c.Nodes {
		nodes[id] = n
	}
	c.Nodes = nodes
	return c
}

// IsEmpty reports whether the conversation has no nodes.
func (c Conversation) IsEmpty() bool {
	return len(c.Nodes) == 0
}

// =============================================================================
// TRAVERSAL
// =============================================================================

// path returns the nodes on the current branch, root first. The walk is
// bounded by the node count, so a corrupted arena cannot loop forever.
func (c Conversation) path() []Node {
	if c.RootID == "" {
		return nil
	}
	out := make([]Node, 0, len(c.Nodes))
	id := c.RootID
	for steps := 0; steps < len(c.Nodes); steps++ {
		n, ok := c.Nodes[id]
		if !ok {
			break
		}
		out = append(out, n)
		if n.IsLeaf() {
			break
		}
		id = n.ChildIDs[0]
	}
	return out
}

// CurrentMessages returns the current revision of each node on the current
// branch, root first.
func (c Conversation) CurrentMessages() []Message {
	nodes := c.path()
	msgs := make([]Message, 0, len(nodes))
	for _, n := range nodes {
		msgs = append(msgs, n.Current())
	}
	return msgs
}

// LastNode returns the leaf at the end of the current branch.
func (c Conversation) LastNode() (Node, bool) {
	nodes := c.path()
	if len(nodes) == 0 {
		return Node{}, false
	}
	return nodes[len(nodes)-1], true
}

// LastMessage returns the current revision of the last node.
func (c Conversation) LastMessage() (Message, bool) {
	n, ok := c.LastNode()
	if !ok {
		return Message{}, false
	}
	return n.Current(), true
}

// TotalUsage sums token usage over the messages on the current branch.
func (c Conversation) TotalUsage() TokenUsage {
	var total TokenUsage
	for _, m := range c.CurrentMessages() {
		if m.Usage != nil {
			total = total.Add(*m.Usage)
		}
	}
	return total
}

// =============================================================================
// MUTATION
// =============================================================================

// AddMessage appends msg as a new leaf on the current branch, wiring the
// previous leaf's children to it.
func (c Conversation) AddMessage(msg Message) Conversation {
	out := c.shallow()
	node := Node{ID: uuid.NewString(), Messages: []Message{msg}}

	if last, ok := c.LastNode(); ok {
		node.ParentID = last.ID
		last = last.clone()
		last.ChildIDs = append(last.ChildIDs, node.ID)
		out.Nodes[last.ID] = last
	} else {
		out.RootID = node.ID
	}
	out.Nodes[node.ID] = node
	return out.touch()
}

// UpdateLastMessage replaces the current revision of the last node with msg,
// keeping the node id. An empty conversation is returned unchanged.
func (c Conversation) UpdateLastMessage(msg Message) Conversation {
	last, ok := c.LastNode()
	if !ok {
		return c
	}
	out := c.shallow()
	last = last.clone()
	if len(last.Messages) == 0 {
		last.Messages = []Message{msg}
		last.CurrentIndex = 0
	} else {
		idx := last.CurrentIndex
		if idx < 0 || idx >= len(last.Messages) {
			idx = len(last.Messages) - 1
			last.CurrentIndex = idx
		}
		last.Messages[idx] = msg
	}
	out.Nodes[last.ID] = last
	return out.touch()
}

// AddRevision appends msg as a new revision of the last node and selects it.
// Used by regenerate; the node id does not change.
func (c Conversation) AddRevision(msg Message) Conversation {
	last, ok := c.LastNode()
	if !ok {
		return c.AddMessage(msg)
	}
	out := c.shallow()
	last = last.clone()
	last.Messages = append(last.Messages, msg)
	last.CurrentIndex = len(last.Messages) - 1
	out.Nodes[last.ID] = last
	return out.touch()
}

// SelectRevision makes revision index of nodeID current. It reports false
// and returns c unchanged when the node or index does not exist.
func (c Conversation) SelectRevision(nodeID string, index int) (Conversation, bool) {
	n, ok := c.Nodes[nodeID]
	if !ok || index < 0 || index >= len(n.Messages) {
		return c, false
	}
	out := c.shallow()
	n = n.clone()
	n.CurrentIndex = index
	out.Nodes[nodeID] = n
	return out.touch(), true
}

// WithTitle returns a copy of c with the given title.
func (c Conversation) WithTitle(title string) Conversation {
	c.Title = title
	c.UpdatedAt = time.Now()
	return c
}

// WithTags returns a copy of c with the given metadata tags.
func (c Conversation) WithTags(tags ...string) Conversation {
	c.Metadata.Tags = append([]string(nil), tags...)
	return c
}

// touch bumps UpdatedAt and recomputes metadata from the current branch.
func (c Conversation) touch() Conversation {
	c.UpdatedAt = time.Now()
	msgs := c.CurrentMessages()

	var total TokenUsage
	seen := make(map[string]bool)
	var modelIDs []string
	for _, m := range msgs {
		if m.Usage != nil {
			total = total.Add(*m.Usage)
		}
		if m.ModelID != "" && !seen[m.ModelID] {
			seen[m.ModelID] = true
			modelIDs = append(modelIDs, m.ModelID)
		}
	}

	c.Metadata = Metadata{
		TotalTokens:  total.TotalTokens,
		MessageCount: len(msgs),
		ModelIDs:     modelIDs,
		Tags:         append([]string(nil), c.Metadata.Tags...),
	}
	return c
}

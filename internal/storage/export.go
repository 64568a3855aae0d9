// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList formats conversation metadata as a table for display.
func FormatList(metas []Meta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	sb.WriteString("-----------------------------------------------------\n")
	sb.WriteString(util.PadRight("ID", 12) + " " + util.PadRight("Updated", 20) + " " + util.PadRight("Messages", 8) + " Title\n")
	sb.WriteString("-----------------------------------------------------\n")

	for _, m := range metas {
		idStr := m.ID
		if len(idStr) > 12 {
			idStr = idStr[:12]
		}
		title := m.Title
		if title == "" {
			title = m.Preview
		}
		sb.WriteString(util.PadRight(idStr, 12) + " " +
			util.PadRight(m.UpdatedAt.Format("2006-01-02 15:04"), 20) + " " +
			util.PadRight(strconv.Itoa(m.MessageCount), 8) + " " +
			util.TruncateWidth(title, 30) + "\n")
	}
	return sb.String()
}


// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the current path of c as Markdown. Reasoning is
// shown as a quoted block above the answer.
func ExportMarkdown(c model.Conversation) string {
	var sb strings.Builder
	title := c.Title
	if title == "" {
		title = c.ID
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.CurrentMessages() {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.CreatedAt.Format("15:04") + "):\n\n")
		if r := msg.ReasoningContent(); r != "" {
			for _, line := range strings.Split(r, "\n") {
				sb.WriteString("> " + line + "\n")
			}
			sb.WriteString("\n")
		}
		sb.WriteString(msg.ForUpload().ToText())
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// Title heuristic limits.
const (
	titleMessages       = 3
	titleRunesPerSource = 50
	titleMaxRunes       = 30
)

// deriveTitle builds a title from the first messages of the current path:
// each contributes at most 50 runes, and the joined summary is cut to 30.
func deriveTitle(c model.Conversation) string {
	msgs := c.CurrentMessages()
	if len(msgs) > titleMessages {
		msgs = msgs[:titleMessages]
	}

	pieces := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := util.CollapseWhitespace(m.ForUpload().ToText())
		if text == "" {
			continue
		}
		pieces = append(pieces, util.TruncateRunesNoEllipsis(text, titleRunesPerSource))
	}
	return strings.TrimSpace(util.TruncateRunesNoEllipsis(strings.Join(pieces, " "), titleMaxRunes))
}

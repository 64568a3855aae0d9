// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigchat packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - TruncateRunesNoEllipsis: UTF-8 safe hard cut
//   - TruncateWidth: Cut to terminal columns (wide characters count double)
//   - CollapseWhitespace: Fold newlines and runs of spaces for one-line display
//   - PadRight: Column padding by display width
//
// File Operations:
//   - WriteAtomic: Crash-safe replace of a file from a streaming writer
//   - WriteFileAtomic: Same, for bytes already in memory
//   - PrivateFileMode, PrivateDirMode: Owner-only modes for everything rigchat writes
//
// # Usage
//
//	// One-line preview of a message
//	preview := util.TruncateWidth(util.CollapseWhitespace(text), 50)
//
//	// Encode straight into the replacement file
//	err := util.WriteAtomic(path, func(w io.Writer) error {
//		return json.NewEncoder(w).Encode(conv)
//	})
package util

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// Version information, set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

// Run executes a non-interactive command against app, writing to out.
func Run(ctx context.Context, app *App, args Args, out io.Writer) error {
	switch args.Command {
	case CmdList, CmdSearch:
		return runList(ctx, app, args, out)
	case CmdExport:
		conv, err := app.Engine.LoadConversation(ctx, args.Query)
		if err != nil {
			return err
		}
		if args.JSON {
			return writeJSON(out, conv)
		}
		_, err = fmt.Fprint(out, storage.ExportMarkdown(conv))
		return err
	case CmdDelete:
		if err := app.Engine.DeleteConversation(ctx, args.Query); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %s\n", args.Query)
		return nil
	case CmdConfig:
		_, err := fmt.Fprint(out, app.Config.String())
		return err
	case CmdChat:
		return RunChat(ctx, app, args)
	}
	return fmt.Errorf("unknown command: %s", args.Command)
}

func runList(ctx context.Context, app *App, args Args, out io.Writer) error {
	convs, err := app.Engine.SearchConversations(ctx, args.Query, args.Assistant)
	if err != nil {
		return err
	}
	metas := make([]storage.Meta, len(convs))
	for i, c := range convs {
		metas[i] = storage.MetaOf(c)
	}
	if args.JSON {
		return writeJSON(out, metas)
	}
	if len(metas) == 0 {
		_, err := fmt.Fprintln(out, "No conversations found.")
		return err
	}
	_, err = fmt.Fprint(out, storage.FormatList(metas))
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintVersion prints build information.
func PrintVersion(out io.Writer) {
	fmt.Fprintf(out, "rigchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// PrintUsage prints command-line help.
func PrintUsage(out io.Writer) {
	fmt.Fprint(out, `rigchat - streaming chat client for DeepSeek, Qwen and OpenAI-compatible endpoints

Usage:
  rigchat [command] [flags]

Commands:
  chat                 Start an interactive chat (default)
  list                 List saved conversations
  search <text>        Search conversations by title or message text
  export <id>          Print a conversation as Markdown (--json for raw)
  delete <id>          Delete a conversation
  config               Show the effective configuration (keys masked)
  version              Show version information
  help                 Show this help

Flags:
  -c, --config PATH        Config file (default ~/.rigchat/config.toml)
  -a, --assistant ID       Assistant for new conversations
  -r, --conversation ID    Resume a conversation
  --json                   JSON output for list, search and export
  -q, --quiet              Hide reasoning and usage lines
`)
}

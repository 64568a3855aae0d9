// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	configDir, err := config.EnsureConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history to file.
// SECURITY: History may contain prompts, so the file is owner-only.
func (c *ChatCLI) SaveHistory() {
	_ = util.WriteAtomic(c.historyFile, func(w io.Writer) error {
		_, err := c.line.WriteHistory(w)
		return err
	})
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// completeCommand completes slash commands on Tab.
func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c.name, line) {
			out = append(out, c.name)
		}
	}
	return out
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// RunChat runs the interactive REPL until the user exits.
//
// Ctrl+C while a response streams cancels that turn; Ctrl+C or Ctrl+D at
// the prompt exits.
func RunChat(ctx context.Context, app *App, args Args) error {
	session := NewSession(app, os.Stdout, args.Assistant, args.Quiet)
	if args.Conversation != "" {
		if err := session.Resume(ctx, args.Conversation); err != nil {
			return err
		}
	}

	if !args.Quiet {
		session.printWelcome()
	}

	input := NewChatCLI()
	defer input.Close()

	for {
		line, err := input.ReadInput(session.prompt())
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted), Ctrl+D (io.EOF) or a terminal error
			fmt.Fprintln(session.out)
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		keepGoing, err := session.Handle(turnCtx, line)
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "[Error] %v\n", err)
		}
		if !keepGoing {
			return nil
		}
	}
}

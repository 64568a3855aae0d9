// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// Session is one interactive chat: the current conversation plus the
// assistant used for new ones.
type Session struct {
	app   *App
	out   io.Writer
	quiet bool

	assistantID    string
	conversationID string
}

// NewSession creates a session writing to out.
func NewSession(app *App, out io.Writer, assistantID string, quiet bool) *Session {
	return &Session{
		app:         app,
		out:         out,
		quiet:       quiet,
		assistantID: app.defaultAssistant(assistantID),
	}
}

// ConversationID returns the current conversation, or "" before the first message.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Resume makes id the current conversation.
func (s *Session) Resume(ctx context.Context, id string) error {
	conv, err := s.app.Engine.LoadConversation(ctx, id)
	if err != nil {
		return err
	}
	s.conversationID = conv.ID
	s.assistantID = conv.AssistantID
	return nil
}

func (s *Session) prompt() string {
	return s.assistantID + "> "
}

// ensureConversation creates the conversation on first use.
func (s *Session) ensureConversation(ctx context.Context) error {
	if s.conversationID != "" {
		return nil
	}
	conv, err := s.app.Engine.CreateConversation(ctx, s.assistantID)
	if err != nil {
		return err
	}
	s.conversationID = conv.ID
	return nil
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// Send appends a user message and streams the reply. Cancelling ctx
// cancels the turn.
func (s *Session) Send(ctx context.Context, text string) error {
	if err := s.ensureConversation(ctx); err != nil {
		return err
	}
	if _, err := s.app.Engine.SendMessage(ctx, s.conversationID, []model.Part{model.TextPart{Text: text}}, false); err != nil {
		return err
	}
	events, err := s.app.Engine.GenerateResponseStream(ctx, s.conversationID, model.GenerationParams{})
	if err != nil {
		return err
	}
	return renderStream(s.out, events, s.quiet)
}

// Regenerate replaces the last reply with a new revision.
func (s *Session) Regenerate(ctx context.Context) error {
	if s.conversationID == "" {
		return errors.New("no conversation yet")
	}
	events, err := s.app.Engine.Regenerate(ctx, s.conversationID, model.GenerationParams{})
	if err != nil {
		return err
	}
	return renderStream(s.out, events, s.quiet)
}

// renderStream prints a turn as it arrives. Reasoning is printed under a
// "Thinking:" header, separated from the answer by a rule.
func renderStream(w io.Writer, events <-chan chat.GenerationChunk, quiet bool) error {
	var thinking, completed bool
	for ev := range events {
		switch e := ev.(type) {
		case chat.ThinkingChunk:
			if e.Delta == "" || quiet {
				continue
			}
			if !thinking {
				fmt.Fprint(w, "Thinking: ")
				thinking = true
			}
			fmt.Fprint(w, e.Delta)
		case chat.ThinkingComplete:
			if thinking {
				fmt.Fprint(w, "\n"+strings.Repeat("-", 20)+"\n")
				thinking = false
			}
		case chat.ResponseChunk:
			if thinking {
				// Reasoning that never saw a ThinkingComplete still gets its rule.
				fmt.Fprint(w, "\n"+strings.Repeat("-", 20)+"\n")
				thinking = false
			}
			fmt.Fprint(w, e.Delta)
		case chat.ResponseComplete:
			completed = true
			fmt.Fprintln(w)
			if !quiet && !e.Usage.IsZero() {
				fmt.Fprintf(w, "[tokens: %d prompt, %d completion, %d total]\n",
					e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.TotalTokens)
			}
		case chat.ErrorChunk:
			fmt.Fprintln(w)
			return e.Err
		}
	}
	if !completed {
		fmt.Fprintln(w, "\n[Cancelled]")
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

var slashCommands = []struct {
	name string
	args string
	desc string
}{
	{"/help", "", "Show this help"},
	{"/new", "[assistant]", "Start a new conversation"},
	{"/assistants", "", "List assistants"},
	{"/list", "", "List saved conversations"},
	{"/search", "<text>", "Search conversations"},
	{"/load", "<id>", "Resume a conversation"},
	{"/history", "", "Show the current conversation"},
	{"/regen", "", "Regenerate the last reply"},
	{"/title", "", "Derive a title for the current conversation"},
	{"/usage", "", "Show token usage"},
	{"/export", "[id] [file]", "Export as Markdown"},
	{"/delete", "[id]", "Delete a conversation"},
	{"/quit", "", "Exit chat"},
}

// Handle processes one line of input. It reports false when the session
// should end.
func (s *Session) Handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return true, s.Send(ctx, line)
	}

	fields := strings.Fields(line)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()
	case "/quit", "/q", "/exit":
		return false, nil
	case "/new":
		if len(args) > 0 {
			s.assistantID = args[0]
		}
		s.conversationID = ""
		fmt.Fprintf(s.out, "[New conversation with %s]\n", s.assistantID)
	case "/assistants":
		s.printAssistants()
	case "/list":
		return true, s.list(ctx, "")
	case "/search":
		if len(args) == 0 {
			return true, errors.New("usage: /search <text>")
		}
		return true, s.list(ctx, strings.Join(args, " "))
	case "/load":
		if len(args) == 0 {
			return true, errors.New("usage: /load <id>")
		}
		if err := s.Resume(ctx, args[0]); err != nil {
			return true, err
		}
		return true, s.printHistory(ctx)
	case "/history":
		return true, s.printHistory(ctx)
	case "/regen", "/regenerate":
		return true, s.Regenerate(ctx)
	case "/title":
		return true, s.title(ctx)
	case "/usage":
		return true, s.usage(ctx)
	case "/export":
		return true, s.export(ctx, args)
	case "/delete":
		return true, s.remove(ctx, args)
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

func (s *Session) target(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if s.conversationID == "" {
		return "", errors.New("no conversation yet")
	}
	return s.conversationID, nil
}

func (s *Session) list(ctx context.Context, query string) error {
	convs, err := s.app.Engine.SearchConversations(ctx, query, "")
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(s.out, "[No conversations]")
		return nil
	}
	metas := make([]storage.Meta, len(convs))
	for i, c := range convs {
		metas[i] = storage.MetaOf(c)
	}
	fmt.Fprint(s.out, storage.FormatList(metas))
	return nil
}

func (s *Session) printHistory(ctx context.Context) error {
	if s.conversationID == "" {
		fmt.Fprintln(s.out, "[No messages yet]")
		return nil
	}
	conv, err := s.app.Engine.LoadConversation(ctx, s.conversationID)
	if err != nil {
		return err
	}
	if conv.Title != "" {
		fmt.Fprintf(s.out, "# %s\n", conv.Title)
	}
	for i, msg := range conv.CurrentMessages() {
		text := util.TruncateWidth(util.CollapseWhitespace(msg.ForUpload().ToText()), 100)
		fmt.Fprintf(s.out, "  %d. %s: %s\n", i+1, msg.Role.DisplayName(), text)
	}
	return nil
}

func (s *Session) title(ctx context.Context) error {
	if s.conversationID == "" {
		return errors.New("no conversation yet")
	}
	title, err := s.app.Engine.GenerateTitle(ctx, s.conversationID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "[Title] %s\n", title)
	return nil
}

func (s *Session) usage(ctx context.Context) error {
	if s.conversationID == "" {
		fmt.Fprintln(s.out, "[No usage yet]")
		return nil
	}
	u, err := s.app.Engine.TokenUsage(ctx, s.conversationID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "[Usage] prompt %d, completion %d, cached %d, total %d\n",
		u.PromptTokens, u.CompletionTokens, u.CachedTokens, u.TotalTokens)
	return nil
}

func (s *Session) export(ctx context.Context, args []string) error {
	id, err := s.target(args)
	if err != nil {
		return err
	}
	conv, err := s.app.Engine.LoadConversation(ctx, id)
	if err != nil {
		return err
	}
	md := storage.ExportMarkdown(conv)
	if len(args) < 2 {
		fmt.Fprint(s.out, md)
		return nil
	}
	if err := util.WriteFileAtomic(args[1], []byte(md)); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	fmt.Fprintf(s.out, "[Exported to %s]\n", args[1])
	return nil
}

func (s *Session) remove(ctx context.Context, args []string) error {
	id, err := s.target(args)
	if err != nil {
		return err
	}
	if err := s.app.Engine.DeleteConversation(ctx, id); err != nil {
		return err
	}
	if id == s.conversationID {
		s.conversationID = ""
	}
	fmt.Fprintf(s.out, "[Deleted %s]\n", id)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (s *Session) printWelcome() {
	fmt.Fprintln(s.out, "rigchat interactive chat")
	fmt.Fprintln(s.out, strings.Repeat("-", 30))
	fmt.Fprintf(s.out, "Assistant: %s\n", s.assistantID)
	if s.conversationID != "" {
		fmt.Fprintf(s.out, "Conversation: %s\n", s.conversationID)
	}
	fmt.Fprintln(s.out, "Type your message and press Enter. Commands: /help, /quit")
	fmt.Fprintln(s.out)
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, "Available Commands")
	fmt.Fprintln(s.out, strings.Repeat("-", 20))
	for _, c := range slashCommands {
		fmt.Fprintf(s.out, "  %-26s %s\n", strings.TrimSpace(c.name+" "+c.args), c.desc)
	}
	fmt.Fprintln(s.out, "Tip: Ctrl+C cancels the current reply, Ctrl+D exits")
}

func (s *Session) printAssistants() {
	list := s.app.assistants()
	if len(list) == 0 {
		fmt.Fprintln(s.out, "[No assistants]")
		return
	}
	for _, a := range list {
		marker := " "
		if a.ID == s.assistantID {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %-12s %-20s %s\n", marker, a.ID, a.Name, a.ModelID)
	}
}

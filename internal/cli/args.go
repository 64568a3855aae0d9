// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
)

// Command names.
const (
	CmdChat    = "chat"
	CmdList    = "list"
	CmdSearch  = "search"
	CmdExport  = "export"
	CmdDelete  = "delete"
	CmdConfig  = "config"
	CmdVersion = "version"
	CmdHelp    = "help"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser separates flags from positional arguments.
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
}

// boolOnly lists flags that never take a value, so the next argument stays
// positional.
var boolOnly = map[string]bool{
	"json": true, "quiet": true, "q": true, "help": true, "h": true, "version": true, "v": true,
}

// NewArgParser parses raw arguments.
//
//	p := NewArgParser([]string{"search", "tokyo", "--assistant", "reasoner", "--json"})
//	p.Positional(0)          // "search"
//	p.Flag("assistant")      // "reasoner"
//	p.BoolFlag("json")       // true
func NewArgParser(raw []string) *ArgParser {
	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if key, value, ok := strings.Cut(name, "="); ok {
			if value == "true" || value == "false" {
				p.boolFlags[key] = value == "true"
			} else {
				p.flags[key] = value
			}
			continue
		}

		if !boolOnly[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			p.flags[name] = raw[i+1]
			i++
			continue
		}
		p.boolFlags[name] = true
	}
	return p
}

// Flag returns the value of a string flag, or "".
func (p *ArgParser) Flag(names ...string) string {
	for _, name := range names {
		if val, ok := p.flags[strings.TrimLeft(name, "-")]; ok {
			return val
		}
	}
	return ""
}

// BoolFlag reports whether any of the named boolean flags is set.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, name := range names {
		if p.boolFlags[strings.TrimLeft(name, "-")] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns all positional arguments starting from index.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// =============================================================================
// ARGS
// =============================================================================

// Args holds the parsed command line.
type Args struct {
	Command string

	// ConfigPath overrides ~/.rigchat/config.toml
	ConfigPath string

	// Assistant selects the assistant for new conversations
	Assistant string

	// Conversation resumes an existing conversation
	Conversation string

	// Query is the search text or the id for export/delete
	Query string

	JSON  bool
	Quiet bool
}

// Parse parses the command line (without the program name).
func Parse(raw []string) (Args, error) {
	p := NewArgParser(raw)

	args := Args{
		Command:      strings.ToLower(p.Positional(0)),
		ConfigPath:   p.Flag("config", "c"),
		Assistant:    p.Flag("assistant", "a"),
		Conversation: p.Flag("conversation", "resume", "r"),
		Query:        strings.Join(p.PositionalFrom(1), " "),
		JSON:         p.BoolFlag("json"),
		Quiet:        p.BoolFlag("quiet", "q"),
	}
	if p.BoolFlag("help", "h") {
		args.Command = CmdHelp
	}
	if p.BoolFlag("version", "v") {
		args.Command = CmdVersion
	}
	if args.Command == "" {
		args.Command = CmdChat
	}

	switch args.Command {
	case CmdChat, CmdList, CmdSearch, CmdConfig, CmdVersion, CmdHelp:
	case CmdExport, CmdDelete:
		if args.Query == "" {
			return args, fmt.Errorf("%s requires a conversation id", args.Command)
		}
	default:
		return args, fmt.Errorf("unknown command: %s (run 'rigchat help')", args.Command)
	}
	return args, nil
}

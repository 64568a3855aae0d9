// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the rigchat command line: argument parsing, wiring
// of the engine from configuration, one-shot commands and the interactive
// chat REPL.
//
// # Key Types
//
//   - Args / ArgParser: Command and flag parsing
//   - App: Logger, metrics, repository, settings, providers, pool and engine built from a Config
//   - Session: Current conversation and slash command handling
//   - ChatCLI: liner line editing with persistent history
//
// # Usage
//
//	args, err := cli.Parse(os.Args[1:])
//	app, err := cli.NewApp(cfg, nil)
//	defer app.Close(ctx)
//	err = cli.Run(ctx, app, args, os.Stdout)
package cli

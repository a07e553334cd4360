// Package main provides the Tyler CLI.
//
// Tyler is a multi-agent conversational runtime: agents run chat completion
// loops with tool execution, threads persist across backends, and file
// attachments are stored and processed automatically.
//
// # Basic Usage
//
// Chat with the default agent:
//
//	tyler chat
//
// Stream responses as they are produced:
//
//	tyler chat --stream
//
// Inspect stored threads:
//
//	tyler threads list
//	tyler threads show <id>
//	tyler threads delete <id>
//
// # Environment Variables
//
//   - OPENAI_API_KEY: API key for the chat completions backend
//   - OPENAI_BASE_URL: override for OpenAI-compatible endpoints
//   - TYLER_DB_TYPE: thread store backend (sqlite, postgresql; in-memory when unset)
//   - TYLER_FILE_STORAGE_PATH: file store root (default ~/.tyler/files)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tyler",
		Short:        "Tyler - multi-agent conversational runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildChatCmd(),
		buildThreadsCmd(),
		buildFilesCmd(),
	)
	return rootCmd
}

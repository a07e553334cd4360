package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tyler-agent/tyler/internal/agent"
	"github.com/tyler-agent/tyler/internal/service"
	"github.com/tyler-agent/tyler/pkg/models"
)

// buildChatCmd creates the interactive REPL against one agent.
func buildChatCmd() *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with an agent.

Each line of input is submitted as a user message; the conversation runs
on a single thread until the session ends. Type "exit" or press Ctrl-D
to quit.`,
		Example: `  # Chat with the default agent
  tyler chat

  # Stream tokens as they are produced
  tyler chat --stream

  # Attach external tool servers
  tyler chat --mcp-config servers.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.agentName, "agent", "Tyler", "Agent name")
	cmd.Flags().StringVar(&opts.model, "model", agent.DefaultModel, "Model to use for completions")
	cmd.Flags().StringVar(&opts.purpose, "purpose", "", "Agent purpose, included in the system prompt")
	cmd.Flags().StringVar(&opts.mcpConfig, "mcp-config", "", "Path to a JSON file of MCP server configs")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream responses token by token")

	return cmd
}

func runChat(cmd *cobra.Command, opts chatOptions) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts, slog.Default())
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	source := service.Source{Name: "cli"}
	fmt.Fprintf(out, "Chatting with %s. Type \"exit\" to quit.\n", opts.agentName)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return nil
		}

		if opts.stream {
			err = streamTurn(cmd, a, text, &source)
		} else {
			err = batchTurn(cmd, a, text, &source)
		}
		if err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}

// batchTurn submits one message and prints the finished messages.
func batchTurn(cmd *cobra.Command, a *app, text string, source *service.Source) error {
	res, err := a.service.Submit(cmd.Context(), text, *source, nil)
	if err != nil {
		return err
	}
	source.ThreadID = res.Thread.ID

	out := cmd.OutOrStdout()
	for _, msg := range res.NewMessages {
		switch msg.Role {
		case models.RoleAssistant:
			if content := msg.Content.AsText(); content != "" {
				fmt.Fprintln(out, content)
			}
		case models.RoleTool:
			fmt.Fprintf(out, "[tool %s] %s\n", msg.Name, msg.Content.AsText())
		}
	}
	return nil
}

// streamTurn submits one message and prints events as they arrive.
func streamTurn(cmd *cobra.Command, a *app, text string, source *service.Source) error {
	ch, err := a.service.SubmitStream(cmd.Context(), text, *source, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for update := range ch {
		switch update.Type {
		case agent.UpdateContentChunk:
			fmt.Fprint(out, update.Chunk)
		case agent.UpdateAssistantMessage:
			if update.Message.Content.AsText() != "" {
				fmt.Fprintln(out)
			}
		case agent.UpdateToolMessage:
			fmt.Fprintf(out, "[tool %s] %s\n", update.Message.Name, update.Message.Content.AsText())
		case agent.UpdateError:
			return update.Err
		case agent.UpdateComplete:
			source.ThreadID = update.Thread.ID
		}
	}
	return nil
}

// buildThreadsCmd creates the "threads" command group.
func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and manage stored threads",
	}
	cmd.AddCommand(buildThreadsListCmd(), buildThreadsShowCmd(), buildThreadsDeleteCmd())
	return cmd
}

func buildThreadsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newStoreOnlyApp(cmd.Context(), slog.Default())
			if err != nil {
				return err
			}
			defer a.close()

			threads, err := a.store.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, t := range threads {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					t.ID, t.Title, len(t.Messages), t.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of threads to list")
	return cmd
}

func buildThreadsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newStoreOnlyApp(cmd.Context(), slog.Default())
			if err != nil {
				return err
			}
			defer a.close()

			thread, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if thread == nil {
				return fmt.Errorf("thread not found: %s", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", thread.Title, thread.ID)
			for _, msg := range thread.Messages {
				fmt.Fprintf(out, "[%d] %s: %s\n", msg.Sequence, msg.Role, msg.Content.AsText())
				for _, att := range msg.Attachments {
					fmt.Fprintf(out, "    attachment: %s (%s)\n", att.Filename, att.MimeType)
				}
			}
			return nil
		},
	}
}

func buildThreadsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newStoreOnlyApp(cmd.Context(), slog.Default())
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := a.store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("thread not found: %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted", args[0])
			return nil
		},
	}
}

// buildFilesCmd creates the "files" command group.
func buildFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect the attachment file store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show file store usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newStoreOnlyApp(cmd.Context(), slog.Default())
			if err != nil {
				return err
			}
			defer a.close()

			size, err := a.files.GetStorageSize(cmd.Context())
			if err != nil {
				return err
			}
			count, err := a.files.GetFileCount(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Path: ", a.files.BasePath())
			fmt.Fprintln(out, "Files:", count)
			fmt.Fprintf(out, "Size:  %.2f MiB\n", float64(size)/(1<<20))
			return nil
		},
	})
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/runtime"
)

// buildSessionCmd creates the "session" command group: start and list wrap
// runtime's public API; save, branch, and compact only report that they
// need a long-lived process holding the session and point at serve's RPC
// surface.
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agent runtime sessions",
	}
	cmd.AddCommand(
		buildSessionStartCmd(),
		buildSessionListCmd(),
		buildSessionSaveCmd(),
		buildSessionBranchCmd(),
		buildSessionCompactCmd(),
	)
	return cmd
}

func buildSessionStartCmd() *cobra.Command {
	var (
		workspaceRoot string
		dataDir       string
		model         string
		provider      string
		systemPrompt  string
		contextWindow int
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(workspaceRoot, dataDir)
			if err != nil {
				return err
			}
			if provider == "" {
				provider = defaultProviderTag(mgr)
			}
			sessionID := uuid.NewString()
			sess, err := mgr.StartSession(cmd.Context(), sessionID, runtime.SessionConfig{
				WorkingDir:          workspaceRoot,
				DataDir:             dataDir,
				SessionStoreEnabled: dataDir != "",
				Provider:            provider,
				Model:               runtime.ModelConfig{ProviderTag: provider, ModelID: model},
				SystemPrompt:        systemPrompt,
				ContextWindow:       contextWindow,
			})
			if err != nil {
				return err
			}
			defer mgr.StopSession(context.Background(), sessionID)
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceRoot, "workspace", ".", "Workspace root for file tools")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for session persistence")
	cmd.Flags().StringVar(&model, "model", "", "Model id to use")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider tag; defaults to the first configured provider")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "System prompt for this session")
	cmd.Flags().IntVar(&contextWindow, "context-window", 0, "Context window size enabling auto-compaction; 0 disables it")
	return cmd
}

func buildSessionListCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted session transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := runtime.ListSavedSessions(dataDir)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory session transcripts are persisted to")
	return cmd
}

func buildSessionSaveCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "save <session-id>",
		Short: "Persist a live session's transcript to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("agentcore: session save requires a running process holding session %q; use serve and the RPC surface for long-lived sessions", args[0])
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory to persist the transcript into")
	return cmd
}

func buildSessionBranchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch <session-id> <message-id>",
		Short: "Fork a session's future appends from a prior message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("agentcore: branch requires a running process holding session %q; use the RPC surface", args[0])
		},
	}
	return cmd
}

func buildSessionCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact <session-id>",
		Short: "Force an out-of-band compaction pass on a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("agentcore: compact requires a running process holding session %q; use the RPC surface", args[0])
		},
	}
	return cmd
}

// printJSON writes v to stdout as indented JSON, the output convention used
// by prompt.go's --json output.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

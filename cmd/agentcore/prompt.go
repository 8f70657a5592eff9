package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/runtime"
)

// buildPromptCmd creates the "prompt" command: start a fresh session, send
// it one prompt, block for the reply, and print the final assistant text
// (or the reply plus session state as JSON with --json). The runtime lives
// just long enough to answer the one request.
func buildPromptCmd() *cobra.Command {
	var (
		workspaceRoot string
		dataDir       string
		model         string
		provider      string
		systemPrompt  string
		timeout       time.Duration
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Send a single prompt to a fresh session and print the reply",
		Args:  cobra.ExactArgs(1),
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
			})
			if err != nil {
				return err
			}
			defer mgr.StopSession(context.Background(), sessionID)

			reply, err := sess.PromptSync(cmd.Context(), args[0], timeout)
			if err != nil {
				return fmt.Errorf("agentcore: prompt failed: %w", err)
			}

			if asJSON {
				return printJSON(map[string]any{
					"session_id": sessionID,
					"reply":      reply,
					"state":      sess.GetState(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceRoot, "workspace", ".", "Workspace root for file tools")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for session persistence")
	cmd.Flags().StringVar(&model, "model", "", "Model id to use")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider tag; defaults to the first configured provider")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "System prompt for this session")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Maximum time to wait for the reply")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reply and session state as JSON")
	return cmd
}

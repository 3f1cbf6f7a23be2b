package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listLimit int

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)
	checkpointsListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum checkpoints to list (0 = all)")
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage session checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list [session-id]",
	Short: "List checkpoints, newest first",
	Long: `List checkpoints on the active backend.

Examples:
  # Latest checkpoints across all sessions
  spectrad checkpoints list

  # All checkpoints of one session
  spectrad checkpoints list 6f1f7e2a-... --limit 0`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		sessionID := ""
		if len(args) == 1 {
			sessionID = args[0]
		}
		summaries, err := rt.checkpoints.List(cmd.Context(), sessionID, listLimit)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints found")
			return nil
		}
		for _, s := range summaries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
				s.CreatedAt.Format("2006-01-02 15:04:05"), s.SessionID, s.CheckpointID)
		}
		return nil
	},
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id> [checkpoint-id]",
	Short: "Delete one checkpoint or a whole session",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		checkpointID := ""
		if len(args) == 2 {
			checkpointID = args[1]
		}
		deleted, err := rt.checkpoints.Delete(cmd.Context(), args[0], checkpointID)
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to delete")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted")
		return nil
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studyflowlab/studyflow/internal/coordinator"
)

var sessionJump bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Experimenter-side session controls",
	Long: `Drives a session on the coordinator: create it, advance the current
procedure, inspect its state, and terminate it. These are the operations
the experimenter station performs during a trial.`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <experiment>",
	Short: "Create a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := coordinator.NewClient(cfg.Coordinator.BaseURL)
		id, err := client.CreateSession(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Println(id)
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's authoritative state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := coordinator.NewClient(cfg.Coordinator.BaseURL)
		snap, err := client.SessionStatus(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch status: %w", err)
		}
		fmt.Printf("active: %v\ncurrent procedure: %d\ncompleted: %v\nparticipant registered: %v\n",
			snap.Active, snap.CurrentProcedure, snap.CompletedProcedures, snap.ParticipantRegistered)
		return nil
	},
}

var sessionAdvanceCmd = &cobra.Command{
	Use:   "advance <session-id> <index>",
	Short: "Set the session's current procedure",
	Long: `Moves the session to the given procedure index. Forward moves by one
are always allowed; use --jump to revisit a completed procedure or skip
ahead, subject to the coordinator's transition rules.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var index int
		if _, err := fmt.Sscanf(args[1], "%d", &index); err != nil {
			return fmt.Errorf("index must be a number: %w", err)
		}
		client := coordinator.NewClient(cfg.Coordinator.BaseURL)
		if err := client.SetCurrentProcedure(cmd.Context(), args[0], index, sessionJump); err != nil {
			return fmt.Errorf("failed to advance session: %w", err)
		}
		fmt.Printf("current procedure set to %d\n", index)
		return nil
	},
}

var sessionTerminateCmd = &cobra.Command{
	Use:   "terminate <session-id>",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := coordinator.NewClient(cfg.Coordinator.BaseURL)
		if err := client.Terminate(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to terminate session: %w", err)
		}
		fmt.Println("session terminated")
		return nil
	},
}

func init() {
	sessionAdvanceCmd.Flags().BoolVar(&sessionJump, "jump", false, "allow a non-sequential transition")
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionAdvanceCmd)
	sessionCmd.AddCommand(sessionTerminateCmd)
	rootCmd.AddCommand(sessionCmd)
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <media-file>",
	Short: "Play one media file through the configured player",
	Long: `Plays a single file from the configured media directory. Handy for
verifying the playback chain before a session.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	player, err := buildPlayer(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up audio playback: %w", err)
	}

	done := make(chan error, 1)
	if err := player.Play(args[0], func(err error) { done <- err }); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		fmt.Println("playback finished")
	case <-sig:
		player.Stop()
		fmt.Println("\nstopped")
	}
	return nil
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/studyflowlab/studyflow/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "studyflow",
	Short: "Session runtime for lab experiment procedures",
	Long: `StudyFlow runs the participant-facing side of a lab experiment session:
it keeps a local replica of the session state in sync with the session
coordinator and plays each procedure's step sequence (audio cues, timed
waits, recording windows) as the experimenter advances the session.

It also ships a reference coordinator server for local setups.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, "")

		// The coordinator server manages its own state and needs no client
		// profile.
		if cmd.Name() == "serve" {
			return nil
		}

		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/studyflow.yaml")
		}
		if _, err := os.Stat(cfgFile); err != nil {
			// No config file: run on defaults so single-machine trials work
			// out of the box.
			cfg = config.Default()
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Log.File != "" {
			setupLogging(verboseLevel, cfg.Log.File)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/studyflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(participantCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sequenceCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog: a text handler on stderr, fanned out to a
// JSON file handler when a log file is configured.
func setupLogging(level int, logFile string) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: slogLevel}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Warn("could not open log file, logging to stderr only", "file", logFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))
}

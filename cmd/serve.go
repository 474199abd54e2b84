package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/studyflowlab/studyflow/internal/coordinator"
)

var (
	servePort string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference session coordinator",
	Long: `Starts the HTTP session coordinator: session lifecycle, procedure
transitions, completion writes, and the push event stream. State is kept
in a local SQLite database so sessions survive restarts.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "8090", "port to listen on")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "session database path (default $HOME/.config/studyflow-sessions.db)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if serveDB == "" {
		serveDB = os.ExpandEnv("$HOME/.config/studyflow-sessions.db")
	}
	store, err := coordinator.NewStore(serveDB)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	srv := coordinator.NewServer(store, servePort, log)
	log.Info("session coordinator listening", "port", servePort, "db", serveDB)
	return srv.Start()
}

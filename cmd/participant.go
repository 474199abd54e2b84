package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyflowlab/studyflow/internal/coordinator"
	"github.com/studyflowlab/studyflow/internal/procedure"
	"github.com/studyflowlab/studyflow/internal/replica"
	"github.com/studyflowlab/studyflow/internal/sequence"
	"github.com/studyflowlab/studyflow/internal/telemetry"
)

var (
	participantSession  string
	participantPlan     string
	participantRegister bool
)

var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Run the participant client for a session",
	Long: `Connects to the session coordinator, mirrors the session state, and
runs each activated procedure's step sequence on this machine. The client
keeps running until the coordinator reports the session finished or
terminated.`,
	RunE: runParticipant,
}

func init() {
	participantCmd.Flags().StringVar(&participantSession, "session", "", "session ID to join (required)")
	participantCmd.Flags().StringVar(&participantPlan, "plan", "", "experiment plan file (required)")
	participantCmd.Flags().BoolVar(&participantRegister, "register", true, "announce the participant as present on startup")
	participantCmd.MarkFlagRequired("session")
	participantCmd.MarkFlagRequired("plan")
}

func runParticipant(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	plan, err := procedure.LoadPlan(participantPlan)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	log.Info("plan loaded", "experiment", plan.Experiment, "procedures", len(plan.Instances))

	player, err := buildPlayer(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up audio playback: %w", err)
	}
	capture, err := buildCapture(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up recording: %w", err)
	}

	journalPath := filepath.Join(cfg.Recording.Directory, "telemetry.db")
	journal, err := telemetry.NewJournal(journalPath, participantSession, log)
	if err != nil {
		return fmt.Errorf("failed to open telemetry journal: %w", err)
	}
	defer journal.Close()

	client := coordinator.NewClient(cfg.Coordinator.BaseURL)

	positions := make(map[string]int, len(plan.Instances))
	for _, inst := range plan.Instances {
		positions[inst.InstanceID] = inst.Position
	}

	var rep *replica.Replica

	complete := func(ctx context.Context, instanceID string) error {
		index, ok := positions[instanceID]
		if !ok {
			return fmt.Errorf("instance %q not in plan", instanceID)
		}
		meta := map[string]any{"instance_id": instanceID}
		if err := client.CompleteProcedure(ctx, participantSession, index, meta); err != nil {
			return err
		}
		rep.MarkCompleted(index)
		return nil
	}

	seq := sequence.New(player, capture, journal, complete, sequence.Options{
		Listener:          consoleListener{},
		Logger:            log,
		CompletionRetries: cfg.Sequence.CompletionRetries,
		CompletionBackoff: time.Duration(cfg.Sequence.CompletionBackoffMS) * time.Millisecond,
	})

	onActivated := func(inst procedure.Instance) {
		if inst.Setup {
			// Configuration-only entries carry no runnable steps.
			seq.Stop()
			log.Info("setup procedure activated, idling", "instance_id", inst.InstanceID)
			return
		}
		steps, err := procedure.BuildSteps(inst)
		if err != nil {
			log.Error("procedure has invalid step parameters, not starting", "instance_id", inst.InstanceID, "error", err)
			return
		}
		if err := seq.Start(inst.InstanceID, steps); err != nil {
			log.Error("failed to start sequence", "instance_id", inst.InstanceID, "error", err)
		}
	}
	onTerminal := func() {
		seq.Stop()
	}

	rep = replica.New(participantSession, plan, onActivated, onTerminal, log)
	runner := replica.NewRunner(rep, client, replica.RunnerOptions{
		PollInterval: cfg.PollInterval(),
		BackoffMin:   time.Duration(cfg.Coordinator.PushBackoffMinMS) * time.Millisecond,
		BackoffMax:   time.Duration(cfg.Coordinator.PushBackoffMaxMS) * time.Millisecond,
		Logger:       log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if participantRegister {
		if err := client.RegisterParticipant(ctx, participantSession); err != nil {
			log.Warn("could not register participant, continuing", "error", err)
		}
	}

	log.Info("participant client running", "session", participantSession, "coordinator", cfg.Coordinator.BaseURL)
	err = runner.Run(ctx)
	seq.Stop()
	player.Stop()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("session loop failed: %w", err)
	}
	return nil
}

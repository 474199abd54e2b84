package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyflowlab/studyflow/internal/procedure"
	"github.com/studyflowlab/studyflow/internal/sequence"
	"github.com/studyflowlab/studyflow/internal/telemetry"
)

var sequencePlan string

var sequenceCmd = &cobra.Command{
	Use:   "sequence <instance-id>",
	Short: "Run one procedure's step sequence without a coordinator",
	Long: `Runs the step sequence of a single procedure from a plan file,
standalone. Useful for rehearsing a procedure or checking audio levels
before a session.`,
	Args: cobra.ExactArgs(1),
	RunE: runSequence,
}

func init() {
	sequenceCmd.Flags().StringVar(&sequencePlan, "plan", "", "experiment plan file (required)")
	sequenceCmd.MarkFlagRequired("plan")
}

// doneListener forwards progress to the console and signals run completion.
type doneListener struct {
	consoleListener
	done chan struct{}
}

func (l doneListener) OnRunCompleted() {
	l.consoleListener.OnRunCompleted()
	close(l.done)
}

func runSequence(cmd *cobra.Command, args []string) error {
	log := slog.Default()
	instanceID := args[0]

	plan, err := procedure.LoadPlan(sequencePlan)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	var inst procedure.Instance
	found := false
	for _, candidate := range plan.Instances {
		if candidate.InstanceID == instanceID {
			inst = candidate
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("instance %q not in plan %s", instanceID, sequencePlan)
	}
	if inst.Setup {
		return fmt.Errorf("instance %q is a setup entry and has no runnable steps", instanceID)
	}

	steps, err := procedure.BuildSteps(inst)
	if err != nil {
		return fmt.Errorf("invalid step parameters: %w", err)
	}

	player, err := buildPlayer(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up audio playback: %w", err)
	}
	capture, err := buildCapture(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up recording: %w", err)
	}

	done := make(chan struct{})
	seq := sequence.New(player, capture, telemetry.Nop{}, nil, sequence.Options{
		Listener: doneListener{done: done},
		Logger:   log,
	})

	if err := seq.Start(inst.InstanceID, steps); err != nil {
		return fmt.Errorf("failed to start sequence: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-done:
	case <-sig:
		fmt.Println("\ninterrupted")
	}
	seq.Stop()
	player.Stop()
	return nil
}

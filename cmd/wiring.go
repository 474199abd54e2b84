package cmd

import (
	"fmt"
	"log/slog"

	"github.com/studyflowlab/studyflow/internal/audio"
	"github.com/studyflowlab/studyflow/internal/config"
	"github.com/studyflowlab/studyflow/internal/procedure"
)

func buildPlayer(cfg *config.Config) (*audio.ExternalPlayer, error) {
	return audio.NewExternalPlayer(audio.PlayerOptions{
		MediaDir: cfg.Audio.MediaDirectory,
		BeepFile: cfg.Audio.BeepFile,
		Binary:   cfg.Audio.Player,
	}, slog.Default())
}

func buildCapture(cfg *config.Config) (*audio.SubprocessCapture, error) {
	return audio.NewSubprocessCapture(audio.CaptureOptions{
		Binary:     cfg.Recording.Binary,
		Source:     cfg.Recording.Source,
		OutputDir:  cfg.Recording.Directory,
		Format:     cfg.Recording.Format,
		SampleRate: cfg.Recording.SampleRate,
	}, slog.Default())
}

// consoleListener reports sequence progress on the terminal. It stands in
// for the operator-facing screen on headless setups.
type consoleListener struct{}

func (consoleListener) OnStepChanged(index int, kind procedure.StepKind) {
	fmt.Printf("step %d: %s\n", index, kind)
}

func (consoleListener) OnCountdown(remaining int) {
	if remaining%10 == 0 || remaining <= 5 {
		fmt.Printf("  %ds remaining\n", remaining)
	}
}

func (consoleListener) OnWarning(remaining int) {
	fmt.Printf("  warning: %ds left in recording window\n", remaining)
}

func (consoleListener) OnRunCompleted() {
	fmt.Println("sequence completed")
}

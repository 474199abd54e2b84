package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/studyflowlab/studyflow/internal/procedure"
)

// GuardState is the per-run execution state. At most one of a live timer, a
// live recording, or a live cue-completion handler exists in any state.
type GuardState string

const (
	GuardIdle              GuardState = "IDLE"
	GuardPlayingCue        GuardState = "PLAYING_CUE"
	GuardCounting          GuardState = "COUNTING"
	GuardRecording         GuardState = "RECORDING"
	GuardPendingExpiration GuardState = "PENDING_EXPIRATION"
	GuardCompleted         GuardState = "COMPLETED"
)

// CloseReason reports why a recording window closed.
type CloseReason string

const (
	CloseManual  CloseReason = "manual"
	CloseTimeout CloseReason = "timeout"
)

// IdleTag is the telemetry condition label between runs.
const IdleTag = "idle"

var (
	// ErrNoActiveRecording is returned by SubmitRecording when no recording
	// window is open.
	ErrNoActiveRecording = errors.New("no active recording window")
	// ErrNoRun is returned by RetryStep when no run is active.
	ErrNoRun = errors.New("no active run")
)

// Player plays a single audio resource at a time. Play begins playback of ref
// and returns an error if the resource cannot start; on successful start,
// done is invoked exactly once when playback finishes (with a non-nil error
// if playback broke off). Beep plays the short cue tone; done may be nil and
// is invoked even when the tone cannot be played, so sequencing never stalls
// on a missing beep. Stop interrupts the current playback; completion
// callbacks for a stopped playback are not invoked after Stop returns.
// Implementations must invoke done from their own goroutine, never from
// within the Play or Beep call itself.
type Player interface {
	Play(ref string, done func(err error)) error
	Beep(done func())
	Stop()
}

// Capture owns the audio-capture resource for the duration of a recording
// window.
type Capture interface {
	Start(label string) error
	Stop() error
}

// Telemetry receives condition tags and recording lifecycle events.
type Telemetry interface {
	SetTag(label string)
	RecordingOpened(label string)
	RecordingClosed(label string, reason CloseReason, elapsed time.Duration)
}

// Listener receives UI-facing progress callbacks. Implementations must not
// call back into the Sequencer from within a callback.
type Listener interface {
	OnStepChanged(index int, kind procedure.StepKind)
	OnCountdown(secondsRemaining int)
	OnWarning(secondsRemaining int)
	OnRunCompleted()
}

// NopListener discards all progress callbacks.
type NopListener struct{}

func (NopListener) OnStepChanged(int, procedure.StepKind) {}
func (NopListener) OnCountdown(int)                       {}
func (NopListener) OnWarning(int)                         {}
func (NopListener) OnRunCompleted()                       {}

// CompleteFunc performs the completion write for a finished run. The run is
// considered fully closed only once it returns nil; failures are retried and
// then surfaced, never discarded, because the completed set is the sole
// record of experiment progress.
type CompleteFunc func(ctx context.Context, instanceID string) error

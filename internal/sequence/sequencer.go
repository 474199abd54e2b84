package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyflowlab/studyflow/internal/procedure"
	"github.com/studyflowlab/studyflow/internal/timeutil"
)

// settleDelay is the fixed pause inserted between a pre-cue beep and the
// step's media, and between one step ending and the next starting, so two
// audio resources never overlap.
const settleDelay = 300 * time.Millisecond

// Run is the mutable runtime state for one procedure instance execution.
// stepIndex is monotonically non-decreasing for the lifetime of one
// InstanceID; a fresh Run (index 0) is created only on instance-identity
// change.
type Run struct {
	InstanceID string
	RunID      string
	Steps      []procedure.Step

	stepIndex     int
	guard         GuardState
	timeRemaining int

	// gen invalidates deferred callbacks: every registration records the
	// current value and every teardown or advance bumps it, so a late-firing
	// timer or media handler re-reads the cell and discards itself.
	gen uint64

	timer  timeutil.Timer
	window *window
}

// Sequencer walks one procedure instance's ordered step list, one step at a
// time, driving the cue player and recording capture. All state transitions
// are serialized through a single mutex; timer and media callbacks re-enter
// through guarded entry points that verify the run and step they were armed
// for are still current.
type Sequencer struct {
	mu        sync.Mutex
	clock     timeutil.Clock
	player    Player
	capture   Capture
	telemetry Telemetry
	listener  Listener
	complete  CompleteFunc
	log       *slog.Logger

	completionRetries int
	completionBackoff time.Duration

	run     *Run
	lastErr string
}

// Options tunes sequencer behavior; zero values select defaults.
type Options struct {
	Clock             timeutil.Clock
	Listener          Listener
	Logger            *slog.Logger
	CompletionRetries int
	CompletionBackoff time.Duration
}

// New creates a Sequencer. complete is invoked after the final step of each
// run; it may be nil for standalone runs.
func New(player Player, capture Capture, telemetry Telemetry, complete CompleteFunc, opts Options) *Sequencer {
	if opts.Clock == nil {
		opts.Clock = timeutil.Real{}
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CompletionRetries <= 0 {
		opts.CompletionRetries = 3
	}
	return &Sequencer{
		clock:             opts.Clock,
		player:            player,
		capture:           capture,
		telemetry:         telemetry,
		listener:          opts.Listener,
		complete:          complete,
		log:               opts.Logger,
		completionRetries: opts.CompletionRetries,
		completionBackoff: opts.CompletionBackoff,
	}
}

// Start tears down any current run and begins executing steps for the given
// instance from index 0. Teardown happens even mid-step so no stale callback
// can fire into the new run's state.
func (s *Sequencer) Start(instanceID string, steps []procedure.Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("instance %s: empty step list", instanceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.lastErr = ""

	run := &Run{
		InstanceID: instanceID,
		RunID:      uuid.New().String(),
		Steps:      steps,
		guard:      GuardIdle,
	}
	s.run = run
	s.log.Info("sequence run started", "instance_id", instanceID, "run_id", run.RunID, "steps", len(steps))
	s.executeStepLocked(run)
	return nil
}

// Stop tears down the current run: clears timers, invalidates handlers, and
// stops any in-progress capture and playback.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// ActiveInstance returns the instance ID of the current run, or "".
func (s *Sequencer) ActiveInstance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.InstanceID
}

// Status reports the current guard state, step index, and remaining seconds.
func (s *Sequencer) Status() (GuardState, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return GuardIdle, -1, 0
	}
	return s.run.guard, s.run.stepIndex, s.run.timeRemaining
}

// LastError returns the most recent operator-facing error message.
func (s *Sequencer) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RetryStep re-executes the current step after a surfaced media or capture
// failure.
func (s *Sequencer) RetryStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ErrNoRun
	}
	if s.run.guard == GuardCompleted {
		return fmt.Errorf("run %s already completed", s.run.RunID)
	}
	s.lastErr = ""
	s.clearLiveLocked(s.run)
	s.executeStepLocked(s.run)
	return nil
}

// teardownLocked destroys the current run: live timers are stopped, deferred
// handlers invalidated, the capture and player released.
func (s *Sequencer) teardownLocked() {
	run := s.run
	if run == nil {
		return
	}
	run.gen++
	if run.timer != nil {
		run.timer.Stop()
		run.timer = nil
	}
	if run.window != nil {
		run.window.teardownLocked()
		run.window = nil
	}
	s.player.Stop()
	s.run = nil
	s.log.Debug("sequence run torn down", "instance_id", run.InstanceID, "run_id", run.RunID, "at_step", run.stepIndex)
}

// clearLiveLocked stops the run's live timer and invalidates registered
// handlers without destroying the run.
func (s *Sequencer) clearLiveLocked(run *Run) {
	run.gen++
	if run.timer != nil {
		run.timer.Stop()
		run.timer = nil
	}
}

// handler wraps fn as a one-shot deferred callback for the given run and step.
// When it fires it first re-reads the authoritative run/index/generation cells
// and detaches itself, before any side effect, so late duplicate firings and
// callbacks for steps already left behind are silently discarded.
func (s *Sequencer) handler(run *Run, fromIndex int, fn func()) (uint64, func()) {
	run.gen++
	gen := run.gen
	return gen, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.run != run || run.stepIndex != fromIndex || run.gen != gen {
			s.log.Debug("stale callback discarded", "run_id", run.RunID, "from_index", fromIndex)
			return
		}
		run.gen++
		fn()
	}
}

// executeStepLocked dispatches the run's current step.
func (s *Sequencer) executeStepLocked(run *Run) {
	step := run.Steps[run.stepIndex]
	s.telemetry.SetTag(step.Tag())
	s.listener.OnStepChanged(step.Index, step.Kind)
	s.log.Debug("executing step", "run_id", run.RunID, "index", step.Index, "kind", step.Kind)

	switch step.Kind {
	case procedure.StepAudioCue:
		run.guard = GuardPlayingCue
		if step.CueBeforeStart {
			_, onBeep := s.handler(run, step.Index, func() {
				s.scheduleLocked(run, step.Index, settleDelay, func() {
					s.playMediaLocked(run, step)
				})
			})
			s.player.Beep(onBeep)
		} else {
			s.playMediaLocked(run, step)
		}

	case procedure.StepTimedWait:
		run.guard = GuardCounting
		run.timeRemaining = step.TimeoutSeconds
		s.armCountdownLocked(run, step)

	case procedure.StepRecordingWindow:
		s.openWindowLocked(run, step)

	default:
		// Unknown kinds are rejected at build time; reaching here is a bug.
		s.failStepLocked(run, fmt.Sprintf("unknown step kind %q at index %d", step.Kind, step.Index))
	}
}

// playMediaLocked starts the step's media and registers its one-shot
// completion handler.
func (s *Sequencer) playMediaLocked(run *Run, step procedure.Step) {
	_, onDone := s.handler(run, step.Index, func() {
		s.finishCueLocked(run, step)
	})
	err := s.player.Play(step.MediaRef, func(playErr error) {
		if playErr != nil {
			s.mediaFailed(run, step, playErr)
			return
		}
		onDone()
	})
	if err != nil {
		s.failStepLocked(run, fmt.Sprintf("media %q failed to start: %v", step.MediaRef, err))
	}
}

// mediaFailed surfaces a playback failure; the sequence does not advance
// until the operator retries.
func (s *Sequencer) mediaFailed(run *Run, step procedure.Step, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run || run.stepIndex != step.Index {
		return
	}
	s.failStepLocked(run, fmt.Sprintf("media %q playback failed: %v", step.MediaRef, err))
}

func (s *Sequencer) failStepLocked(run *Run, msg string) {
	s.lastErr = msg
	run.guard = GuardIdle
	s.log.Error("step failed, awaiting operator retry", "run_id", run.RunID, "index", run.stepIndex, "error", msg)
}

// finishCueLocked runs the optional end cue, then advances.
func (s *Sequencer) finishCueLocked(run *Run, step procedure.Step) {
	if step.CueAfterEnd {
		_, onBeep := s.handler(run, step.Index, func() {
			s.advanceLocked(run, step.Index)
		})
		s.player.Beep(onBeep)
		return
	}
	s.advanceLocked(run, step.Index)
}

// armCountdownLocked schedules the next 1 Hz countdown tick.
func (s *Sequencer) armCountdownLocked(run *Run, step procedure.Step) {
	run.timer = s.clock.AfterFunc(time.Second, func() {
		s.tick(run, step)
	})
}

func (s *Sequencer) tick(run *Run, step procedure.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run || run.stepIndex != step.Index || run.guard != GuardCounting {
		return
	}
	run.timer = nil
	run.timeRemaining--
	s.listener.OnCountdown(run.timeRemaining)
	if run.timeRemaining > 0 {
		s.armCountdownLocked(run, step)
		return
	}
	s.finishCueLocked(run, step)
}

// scheduleLocked arms a guarded one-shot timer for the run's current step.
func (s *Sequencer) scheduleLocked(run *Run, fromIndex int, d time.Duration, fn func()) {
	_, guarded := s.handler(run, fromIndex, func() {
		run.timer = nil
		fn()
	})
	run.timer = s.clock.AfterFunc(d, guarded)
}

// advanceLocked moves the run past fromIndex. If the authoritative index has
// already moved on, the call is a stale transition and a no-op. The final
// step's advance signals run completion instead of executing a step.
func (s *Sequencer) advanceLocked(run *Run, fromIndex int) {
	if s.run != run || run.stepIndex != fromIndex {
		s.log.Debug("stale advance discarded", "run_id", run.RunID, "from_index", fromIndex)
		return
	}
	s.clearLiveLocked(run)
	run.timeRemaining = 0

	if fromIndex+1 == len(run.Steps) {
		s.completeLocked(run)
		return
	}

	run.stepIndex = fromIndex + 1
	run.guard = GuardIdle
	s.scheduleLocked(run, run.stepIndex, settleDelay, func() {
		s.executeStepLocked(run)
	})
}

// completeLocked enters the terminal state exactly once: clears the condition
// tag to idle, notifies the UI, then performs the completion write.
func (s *Sequencer) completeLocked(run *Run) {
	run.guard = GuardCompleted
	s.telemetry.SetTag(IdleTag)
	s.listener.OnRunCompleted()
	s.log.Info("sequence run completed", "instance_id", run.InstanceID, "run_id", run.RunID)
	if s.complete != nil {
		go s.reportCompletion(run.InstanceID, run.RunID)
	}
}

// reportCompletion performs the completion write with bounded retries. The
// completed set is the sole record of experiment progress, so a persistent
// failure is surfaced to the operator rather than discarded.
func (s *Sequencer) reportCompletion(instanceID, runID string) {
	var err error
	for attempt := 1; attempt <= s.completionRetries; attempt++ {
		if attempt > 1 && s.completionBackoff > 0 {
			wait := make(chan struct{})
			s.clock.AfterFunc(time.Duration(attempt-1)*s.completionBackoff, func() { close(wait) })
			<-wait
		}
		err = s.complete(context.Background(), instanceID)
		if err == nil {
			s.log.Info("completion recorded", "instance_id", instanceID, "run_id", runID)
			return
		}
		s.log.Warn("completion write failed", "instance_id", instanceID, "attempt", attempt, "error", err)
	}
	s.mu.Lock()
	s.lastErr = fmt.Sprintf("completion write for %s failed: %v", instanceID, err)
	s.mu.Unlock()
}

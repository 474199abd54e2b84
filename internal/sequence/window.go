package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/studyflowlab/studyflow/internal/procedure"
	"github.com/studyflowlab/studyflow/internal/timeutil"
)

// window is the live state of one recording-window step. It owns the warning
// and hard-stop timers and arbitrates the race between a caller-initiated
// submit and the hard stop: when the stop fires while a submit exchange is in
// flight, it flags PendingExpiration and aborts the exchange's context; the
// exchange's completion path then performs the expiration close exactly once.
type window struct {
	seq  *Sequencer
	run  *Run
	step procedure.Step

	label    string
	openedAt time.Time

	warnTimer timeutil.Timer
	stopTimer timeutil.Timer

	inflight          bool
	cancelInflight    context.CancelFunc
	pendingExpiration bool
	done              bool
}

// openWindowLocked starts capture for a recording-window step. A capture
// start failure is surfaced to the operator and does not advance the
// sequence.
func (s *Sequencer) openWindowLocked(run *Run, step procedure.Step) {
	label := fmt.Sprintf("%s/step-%d", run.InstanceID, step.Index)
	if err := s.capture.Start(label); err != nil {
		s.failStepLocked(run, fmt.Sprintf("capture start failed: %v", err))
		return
	}

	run.guard = GuardRecording
	w := &window{
		seq:      s,
		run:      run,
		step:     step,
		label:    label,
		openedAt: s.clock.Now(),
	}
	run.window = w
	s.telemetry.RecordingOpened(label)
	s.log.Info("recording window opened", "label", label, "duration_s", step.RecordingDurationSeconds)

	if step.CueBeforeStart {
		s.player.Beep(nil)
	}

	dur := time.Duration(step.RecordingDurationSeconds) * time.Second
	if step.WarningOffsetSeconds > 0 && step.WarningOffsetSeconds < step.RecordingDurationSeconds {
		at := dur - time.Duration(step.WarningOffsetSeconds)*time.Second
		w.warnTimer = s.clock.AfterFunc(at, w.warn)
	}
	w.stopTimer = s.clock.AfterFunc(dur, w.expire)
}

// warn emits the time-remaining cue.
func (w *window) warn() {
	s := w.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != w.run || w.run.window != w || w.done {
		return
	}
	w.warnTimer = nil
	s.player.Beep(nil)
	s.listener.OnWarning(w.step.WarningOffsetSeconds)
	s.log.Debug("recording warning cue", "label", w.label, "seconds_remaining", w.step.WarningOffsetSeconds)
}

// expire is the hard-stop path. If a submit exchange is in flight it must not
// race with it: the expiration is deferred to the exchange's completion path
// and the exchange's request is aborted.
func (w *window) expire() {
	s := w.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != w.run || w.run.window != w || w.done {
		return
	}
	w.stopTimer = nil
	if w.inflight {
		w.pendingExpiration = true
		w.run.guard = GuardPendingExpiration
		w.cancelInflight()
		s.log.Debug("expiration pending behind in-flight submit", "label", w.label)
		return
	}
	w.closeLocked(CloseTimeout)
}

// SubmitRecording is the caller-initiated early stop of the active recording
// window. When exchange is non-nil it is executed (blocking) before the
// window closes, with a context that is cancelled if the hard stop fires
// mid-flight; in that case the expiration path runs exactly once instead of
// the manual close. A failed exchange is logged but still advances the
// sequence rather than deadlocking the experiment.
func (s *Sequencer) SubmitRecording(exchange func(ctx context.Context) error) error {
	s.mu.Lock()
	run := s.run
	if run == nil || run.window == nil || run.window.done {
		s.mu.Unlock()
		return ErrNoActiveRecording
	}
	w := run.window

	if exchange == nil {
		if w.stopTimer != nil {
			w.stopTimer.Stop()
			w.stopTimer = nil
		}
		w.closeLocked(CloseManual)
		s.mu.Unlock()
		return nil
	}

	if w.inflight {
		s.mu.Unlock()
		return fmt.Errorf("submit already in flight for %s", w.label)
	}

	// Mark the exchange in flight before clearing the hard stop: if the stop
	// timer is firing concurrently it blocks on the mutex and then observes
	// inflight, taking the pending-expiration path.
	ctx, cancel := context.WithCancel(context.Background())
	w.inflight = true
	w.cancelInflight = cancel
	if w.stopTimer != nil {
		w.stopTimer.Stop()
		w.stopTimer = nil
	}
	s.mu.Unlock()

	exchErr := exchange(ctx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run || run.window != w || w.done {
		return nil
	}
	w.inflight = false
	w.cancelInflight = nil

	if w.pendingExpiration {
		w.pendingExpiration = false
		w.closeLocked(CloseTimeout)
		return nil
	}
	if exchErr != nil {
		s.log.Warn("submit exchange failed, closing window anyway", "label", w.label, "error", exchErr)
	}
	w.closeLocked(CloseManual)
	return nil
}

// closeLocked stops capture, clears this window's timers, reports the closure
// to telemetry, and advances the sequence. A capture-stop failure is logged
// but still advances; recording loss must not stall the experiment.
func (w *window) closeLocked(reason CloseReason) {
	s := w.seq
	if w.done {
		return
	}
	w.done = true
	w.clearTimersLocked()

	elapsed := s.clock.Now().Sub(w.openedAt)
	if err := s.capture.Stop(); err != nil {
		s.log.Error("capture stop failed", "label", w.label, "error", err)
	}
	s.telemetry.RecordingClosed(w.label, reason, elapsed)
	s.log.Info("recording window closed", "label", w.label, "reason", reason, "elapsed", elapsed)

	w.run.window = nil
	s.advanceLocked(w.run, w.step.Index)
}

// teardownLocked releases the window without reporting a closure, for
// instance-identity changes that destroy the whole run mid-step.
func (w *window) teardownLocked() {
	s := w.seq
	if w.done {
		return
	}
	w.done = true
	w.clearTimersLocked()
	if w.cancelInflight != nil {
		w.cancelInflight()
	}
	if err := s.capture.Stop(); err != nil {
		s.log.Error("capture stop failed during teardown", "label", w.label, "error", err)
	}
	s.telemetry.RecordingClosed(w.label, CloseManual, s.clock.Now().Sub(w.openedAt))
}

func (w *window) clearTimersLocked() {
	if w.warnTimer != nil {
		w.warnTimer.Stop()
		w.warnTimer = nil
	}
	if w.stopTimer != nil {
		w.stopTimer.Stop()
		w.stopTimer = nil
	}
}

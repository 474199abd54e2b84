// Package stressor implements the serial-subtraction arithmetic task: the
// participant counts down aloud from a start value in fixed decrements while
// an evaluator judges each answer. An incorrect answer sends the participant
// back to the start value with a restart cue; every judged answer resets the
// per-answer countdown.
package stressor

import (
	"fmt"
	"sync"
)

// Defaults for the classic task variant.
const (
	DefaultStartValue    = 1009
	DefaultSubtractBy    = 13
	DefaultAnswerSeconds = 10
)

// Result is the judgment of one answer.
type Result struct {
	Correct bool
	// StatusText is shown to the participant.
	StatusText string
	// PlayRestartCue requests the restart tone.
	PlayRestartCue bool
	// Expected is the value the next correct answer subtracts from.
	Expected int
}

// Task holds the arithmetic state for one stressor pass.
type Task struct {
	mu         sync.Mutex
	startValue int
	subtractBy int
	expected   int
	correct    int
	incorrect  int
}

// NewTask creates a task; zero arguments select the 1009-minus-13 defaults.
func NewTask(startValue, subtractBy int) *Task {
	if startValue <= 0 {
		startValue = DefaultStartValue
	}
	if subtractBy <= 0 {
		subtractBy = DefaultSubtractBy
	}
	return &Task{startValue: startValue, subtractBy: subtractBy, expected: startValue}
}

// Judge evaluates one answer. An incorrect answer resets the chain to the
// start value.
func (t *Task) Judge(answer int) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := t.expected - t.subtractBy
	if answer == want {
		t.expected = want
		t.correct++
		return Result{
			Correct:    true,
			StatusText: "Correct. Continue.",
			Expected:   want,
		}
	}

	t.incorrect++
	t.expected = t.startValue
	return Result{
		Correct:        false,
		StatusText:     fmt.Sprintf("Please start again from %d.", t.startValue),
		PlayRestartCue: true,
		Expected:       t.startValue,
	}
}

// Miss records an expired answer window; it counts as incorrect and resets
// the chain the same way a wrong answer does.
func (t *Task) Miss() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incorrect++
	t.expected = t.startValue
	return Result{
		Correct:        false,
		StatusText:     fmt.Sprintf("Time is up. Please start again from %d.", t.startValue),
		PlayRestartCue: true,
		Expected:       t.startValue,
	}
}

// Score returns the judged answer counts so far.
func (t *Task) Score() (correct, incorrect int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.correct, t.incorrect
}

// Expected returns the value the next correct answer subtracts from.
func (t *Task) Expected() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expected
}

package stressor

import (
	"testing"
	"time"

	"github.com/studyflowlab/studyflow/internal/timeutil"
)

func TestJudgeSubtractionChain(t *testing.T) {
	task := NewTask(0, 0)

	res := task.Judge(996)
	if !res.Correct || res.StatusText != "Correct. Continue." || res.PlayRestartCue {
		t.Fatalf("Judge(996) = %+v", res)
	}
	res = task.Judge(983)
	if !res.Correct {
		t.Fatalf("Judge(983) = %+v", res)
	}

	// A wrong answer resets the chain to the start value and cues a restart.
	res = task.Judge(999)
	if res.Correct {
		t.Fatal("wrong answer judged correct")
	}
	if res.StatusText != "Please start again from 1009." {
		t.Fatalf("StatusText = %q", res.StatusText)
	}
	if !res.PlayRestartCue {
		t.Fatal("wrong answer must request the restart cue")
	}
	if task.Expected() != 1009 {
		t.Fatalf("Expected() = %d, want 1009", task.Expected())
	}

	// The next correct answer subtracts from the start value again.
	if res := task.Judge(996); !res.Correct {
		t.Fatalf("Judge(996) after reset = %+v", res)
	}

	correct, incorrect := task.Score()
	if correct != 3 || incorrect != 1 {
		t.Fatalf("Score() = %d, %d, want 3, 1", correct, incorrect)
	}
}

func TestMissResetsChain(t *testing.T) {
	task := NewTask(100, 7)
	if res := task.Judge(93); !res.Correct {
		t.Fatalf("Judge(93) = %+v", res)
	}

	res := task.Miss()
	if res.Correct || !res.PlayRestartCue {
		t.Fatalf("Miss() = %+v", res)
	}
	if res.StatusText != "Time is up. Please start again from 100." {
		t.Fatalf("StatusText = %q", res.StatusText)
	}
	if task.Expected() != 100 {
		t.Fatalf("Expected() = %d, want 100", task.Expected())
	}
}

func TestCountdownExpires(t *testing.T) {
	clk := timeutil.NewFake()
	var ticks []int
	expired := 0
	cd := NewCountdown(clk, 3, func(remaining int) {
		ticks = append(ticks, remaining)
	}, func() {
		expired++
	})

	cd.Start()
	clk.Advance(3 * time.Second)
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if len(ticks) != 3 || ticks[0] != 2 || ticks[2] != 0 {
		t.Fatalf("ticks = %v, want [2 1 0]", ticks)
	}

	// Once expired the countdown stays quiet until restarted.
	clk.Advance(5 * time.Second)
	if expired != 1 {
		t.Fatalf("expired after quiet period = %d, want 1", expired)
	}
}

func TestCountdownResetRestartsWindow(t *testing.T) {
	clk := timeutil.NewFake()
	expired := 0
	cd := NewCountdown(clk, 5, nil, func() { expired++ })

	cd.Start()
	clk.Advance(4 * time.Second)
	if got := cd.Remaining(); got != 1 {
		t.Fatalf("Remaining = %d, want 1", got)
	}

	// An answer arrives just in time; the window restarts in full.
	cd.Reset()
	clk.Advance(4 * time.Second)
	if expired != 0 {
		t.Fatalf("expired = %d, want 0 after reset", expired)
	}
	if got := cd.Remaining(); got != 1 {
		t.Fatalf("Remaining = %d, want 1", got)
	}
	clk.Advance(1 * time.Second)
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
}

func TestCountdownStopSilencesLateTicks(t *testing.T) {
	clk := timeutil.NewFake()
	expired := 0
	cd := NewCountdown(clk, 2, nil, func() { expired++ })

	cd.Start()
	clk.Advance(1 * time.Second)
	cd.Stop()
	clk.Advance(10 * time.Second)
	if expired != 0 {
		t.Fatalf("expired = %d, want 0 after stop", expired)
	}

	// Reset on a stopped countdown is a no-op; only Start re-arms it.
	cd.Reset()
	clk.Advance(10 * time.Second)
	if expired != 0 {
		t.Fatalf("expired = %d, want 0 after reset-while-stopped", expired)
	}
	cd.Start()
	clk.Advance(2 * time.Second)
	if expired != 1 {
		t.Fatalf("expired = %d, want 1 after restart", expired)
	}
}

package timeutil

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	clk := NewFake()
	var order []string
	clk.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clk.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	clk.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	clk.Advance(10 * time.Second)
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
}

func TestFakeStopPreventsFiring(t *testing.T) {
	clk := NewFake()
	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should report true")
	}
	clk.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
}

func TestFakeAdvancePartial(t *testing.T) {
	clk := NewFake()
	fired := 0
	clk.AfterFunc(2*time.Second, func() { fired++ })

	clk.Advance(1 * time.Second)
	if fired != 0 {
		t.Fatalf("fired = %d before deadline", fired)
	}
	clk.Advance(1 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestFakeCallbackMayRearm(t *testing.T) {
	clk := NewFake()
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		if ticks < 3 {
			clk.AfterFunc(time.Second, tick)
		}
	}
	clk.AfterFunc(time.Second, tick)

	// Timers scheduled from within a callback still fire within the same
	// advanced span.
	clk.Advance(3 * time.Second)
	if ticks != 3 {
		t.Fatalf("ticks = %d, want 3", ticks)
	}
}

func TestFakeNowTracksAdvance(t *testing.T) {
	clk := NewFake()
	start := clk.Now()
	clk.Advance(90 * time.Minute)
	if got := clk.Now().Sub(start); got != 90*time.Minute {
		t.Fatalf("advanced %v, want 90m", got)
	}
}

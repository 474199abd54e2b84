package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedCoordinator serves canned snapshots and an optional push stream.
// When gate is non-nil, polls block until the pushes have been delivered, so
// tests can order push against reconcile deterministically.
type scriptedCoordinator struct {
	mu        sync.Mutex
	snapshots []Snapshot
	pushes    []PushEvent
	gate      chan struct{}
	gateOnce  sync.Once
}

func (c *scriptedCoordinator) SessionStatus(ctx context.Context, _ string) (Snapshot, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshots) == 0 {
		return Snapshot{}, errors.New("no snapshot scripted")
	}
	snap := c.snapshots[0]
	if len(c.snapshots) > 1 {
		c.snapshots = c.snapshots[1:]
	}
	return snap, nil
}

func (c *scriptedCoordinator) Subscribe(ctx context.Context, _ string, handle func(PushEvent)) error {
	c.mu.Lock()
	pushes := c.pushes
	c.pushes = nil
	c.mu.Unlock()
	for _, ev := range pushes {
		handle(ev)
	}
	if c.gate != nil {
		c.gateOnce.Do(func() { close(c.gate) })
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerStopsWhenTerminal(t *testing.T) {
	coord := &scriptedCoordinator{
		snapshots: []Snapshot{
			{Active: true, CurrentProcedure: 1},
			{Active: true, CurrentProcedure: 4},
		},
	}
	r, _ := newTrackedReplica("s1")
	runner := NewRunner(r, coord, RunnerOptions{PollInterval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner never stopped after terminal snapshot")
	}
	if !r.Terminal() {
		t.Fatal("replica not terminal")
	}
}

func TestRunnerAppliesPushBeforeNextPoll(t *testing.T) {
	coord := &scriptedCoordinator{
		snapshots: []Snapshot{{Active: true, CurrentProcedure: 2}},
		pushes: []PushEvent{
			{EventType: EventProcedureChanged, SessionID: "s1", CurrentProcedure: 2},
		},
		gate: make(chan struct{}),
	}
	r, track := newTrackedReplica("s1")
	runner := NewRunner(r, coord, RunnerOptions{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for r.State().CurrentProcedureIndex != 2 {
		if time.Now().After(deadline) {
			t.Fatal("push never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	// The push activated the procedure; the matching snapshot must not
	// re-activate it.
	if len(track.ids) != 1 {
		t.Fatalf("activations = %v, want exactly one", track.ids)
	}
}

func TestRunnerSurvivesPollFailures(t *testing.T) {
	coord := &scriptedCoordinator{}
	r, _ := newTrackedReplica("s1")
	runner := NewRunner(r, coord, RunnerOptions{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := runner.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want deadline exceeded", err)
	}
	if r.Terminal() {
		t.Fatal("poll failures must never terminate the session")
	}
}

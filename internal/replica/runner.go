package replica

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Coordinator is the replica's view of the session coordinator.
type Coordinator interface {
	// SessionStatus answers a reconciliation poll.
	SessionStatus(ctx context.Context, sessionID string) (Snapshot, error)
	// Subscribe delivers push events to handle until the stream drops or ctx
	// is cancelled; it returns the reason the stream ended.
	Subscribe(ctx context.Context, sessionID string, handle func(PushEvent)) error
}

// RunnerOptions tunes the push/poll loops; zero values select defaults.
type RunnerOptions struct {
	// PollInterval is the reconciliation interval. Default 30s.
	PollInterval time.Duration
	// BackoffMin/BackoffMax bound the push reconnect backoff.
	BackoffMin time.Duration
	BackoffMax time.Duration
	Logger     *slog.Logger
}

// Runner drives a Replica from a Coordinator: a push subscription retried
// with backoff as the low-latency primary, and a reconciliation poll (once
// immediately on connect, then on a fixed interval) as the authority. It
// returns once the replica is terminal, so a finished session puts no
// further load on the coordinator.
type Runner struct {
	replica *Replica
	coord   Coordinator
	opts    RunnerOptions
	log     *slog.Logger
}

// NewRunner wires a runner.
func NewRunner(replica *Replica, coord Coordinator, opts RunnerOptions) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{replica: replica, coord: coord, opts: opts, log: opts.Logger}
}

// Run blocks until the session is terminal for this client or ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.pushLoop(ctx)

	// Immediate reconcile on connect; pushes sent before we subscribed are
	// already reflected in the snapshot.
	r.reconcileOnce(ctx)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if r.replica.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce polls once. A failed poll is logged and retried on the next
// tick; it is never treated as session termination.
func (r *Runner) reconcileOnce(ctx context.Context) {
	snap, err := r.coord.SessionStatus(ctx, r.replica.sessionID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Warn("reconciliation poll failed, will retry", "error", err)
		}
		return
	}
	r.replica.Reconcile(snap)
}

// pushLoop keeps the push subscription alive with doubling, capped backoff.
func (r *Runner) pushLoop(ctx context.Context) {
	backoff := r.opts.BackoffMin
	for {
		if ctx.Err() != nil || r.replica.Terminal() {
			return
		}
		started := time.Now()
		err := r.coord.Subscribe(ctx, r.replica.sessionID, r.replica.ApplyPush)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.Warn("push stream dropped", "error", err, "retry_in", backoff)
		}
		// A stream that held for a while earns a fresh backoff.
		if time.Since(started) > r.opts.BackoffMax {
			backoff = r.opts.BackoffMin
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.opts.BackoffMax {
			backoff = r.opts.BackoffMax
		}
	}
}

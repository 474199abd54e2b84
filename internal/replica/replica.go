package replica

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/studyflowlab/studyflow/internal/procedure"
)

// Push event types delivered by the coordinator.
const (
	EventProcedureChanged    = "procedure_changed"
	EventExperimentCompleted = "experiment_completed"
)

// PushEvent is one notification from the coordinator's push channel. Push is
// a best-effort latency optimization; events may arrive out of order,
// duplicated, or not at all.
type PushEvent struct {
	EventType        string `json:"event_type"`
	SessionID        string `json:"session_id"`
	CurrentProcedure int    `json:"current_procedure"`
	CompletedIndices []int  `json:"completed_procedures,omitempty"`
	// Jump marks an explicit experimenter jump, the only way the current
	// procedure may move backward.
	Jump bool `json:"jump,omitempty"`
}

// Snapshot is the coordinator's authoritative answer to a status poll.
type Snapshot struct {
	Active                bool  `json:"active"`
	CurrentProcedure      int   `json:"current_procedure"`
	CompletedProcedures   []int `json:"completed_procedures"`
	ParticipantRegistered bool  `json:"participant_registered"`
}

// State is the replica's believed session state.
type State struct {
	SessionID                 string
	CurrentProcedureIndex     int
	CompletedProcedureIndices []int
	ParticipantRegistered     bool
	Active                    bool
}

// Replica holds one client's copy of the session state: the believed-current
// procedure index and the completed set. It is updated by push events and
// corrected by reconciliation polls; reconciliation is the correctness
// guarantee, push only lowers latency. The completed set never shrinks and
// the current index only moves backward on an explicit jump.
type Replica struct {
	mu        sync.Mutex
	sessionID string
	plan      *procedure.Plan
	log       *slog.Logger

	current     int
	completed   map[int]bool
	registered  bool
	active      bool
	terminal    bool
	onActivated func(inst procedure.Instance)
	onTerminal  func()
}

// New creates a replica for one session. onActivated fires whenever a new
// procedure instance becomes current (the sequencer reset trigger);
// onTerminal fires exactly once when the session completes or is terminated.
// Either callback may be nil.
func New(sessionID string, plan *procedure.Plan, onActivated func(procedure.Instance), onTerminal func(), log *slog.Logger) *Replica {
	if log == nil {
		log = slog.Default()
	}
	return &Replica{
		sessionID:   sessionID,
		plan:        plan,
		log:         log,
		current:     -1,
		completed:   make(map[int]bool),
		active:      true,
		onActivated: onActivated,
		onTerminal:  onTerminal,
	}
}

// State returns a copy of the replica's current state.
func (r *Replica) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	indices := make([]int, 0, len(r.completed))
	for i := range r.completed {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return State{
		SessionID:                 r.sessionID,
		CurrentProcedureIndex:     r.current,
		CompletedProcedureIndices: indices,
		ParticipantRegistered:     r.registered,
		Active:                    r.active,
	}
}

// Terminal reports whether this client is done with the session: the current
// procedure moved past the last runnable instance, the experiment-completed
// event arrived, or the session was terminated. Once terminal, polling may
// stop.
func (r *Replica) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// ApplyPush applies a push event. Events for other sessions, duplicates, and
// stale indices (index at or below the applied one without the jump flag)
// are no-ops.
func (r *Replica) ApplyPush(ev PushEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.SessionID != r.sessionID || r.terminal {
		return
	}

	switch ev.EventType {
	case EventExperimentCompleted:
		r.markTerminalLocked("experiment completed")
		return
	case EventProcedureChanged:
	default:
		r.log.Debug("unknown push event ignored", "event_type", ev.EventType)
		return
	}

	if ev.CurrentProcedure <= r.current && !ev.Jump {
		r.log.Debug("stale push ignored", "pushed", ev.CurrentProcedure, "applied", r.current)
		return
	}

	r.mergeCompletedLocked(ev.CompletedIndices)
	r.setCurrentLocked(ev.CurrentProcedure, "push")
}

// Reconcile force-applies an authoritative server snapshot. A diverged index
// jumps the sequencer directly to the target instance's fresh run; skipped
// instances are never fired.
func (r *Replica) Reconcile(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		return
	}

	r.registered = snap.ParticipantRegistered
	r.mergeCompletedLocked(snap.CompletedProcedures)

	if !snap.Active {
		r.active = false
		r.markTerminalLocked("session terminated")
		return
	}

	if snap.CurrentProcedure != r.current {
		r.log.Info("desync corrected by reconciliation", "believed", r.current, "authoritative", snap.CurrentProcedure)
		r.setCurrentLocked(snap.CurrentProcedure, "reconcile")
	}
}

// setCurrentLocked commits a new current index and emits the activation or
// terminal transition.
func (r *Replica) setCurrentLocked(index int, source string) {
	r.current = index
	last := r.plan.LastRunnableIndex()
	if index > last {
		r.markTerminalLocked("past last runnable procedure")
		return
	}

	inst, ok := r.plan.InstanceAt(index)
	if !ok {
		r.log.Warn("current index outside plan", "index", index, "source", source)
		return
	}
	r.log.Info("procedure activated", "index", index, "instance_id", inst.InstanceID, "kind", inst.Kind, "source", source)
	if r.onActivated != nil {
		r.onActivated(inst)
	}
}

func (r *Replica) markTerminalLocked(reason string) {
	if r.terminal {
		return
	}
	r.terminal = true
	r.log.Info("session complete for this client", "reason", reason)
	if r.onTerminal != nil {
		r.onTerminal()
	}
}

// mergeCompletedLocked grows the append-only completed set.
func (r *Replica) mergeCompletedLocked(indices []int) {
	for _, i := range indices {
		r.completed[i] = true
	}
}

// MarkCompleted records a locally observed completion (the experimenter
// client's own completion write).
func (r *Replica) MarkCompleted(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[index] = true
}

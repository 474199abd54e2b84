package coordinator

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/studyflowlab/studyflow/internal/replica"
)

func newTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := NewServer(store, "0", nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, NewClient(ts.URL)
}

func TestSessionLifecycle(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id, err := client.CreateSession(ctx, "pilot-study")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	snap, err := client.SessionStatus(ctx, id)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if !snap.Active || snap.CurrentProcedure != -1 || snap.ParticipantRegistered {
		t.Fatalf("fresh session snapshot = %+v", snap)
	}

	if err := client.RegisterParticipant(ctx, id); err != nil {
		t.Fatalf("RegisterParticipant: %v", err)
	}
	if err := client.SetCurrentProcedure(ctx, id, 0, false); err != nil {
		t.Fatalf("SetCurrentProcedure: %v", err)
	}
	if err := client.CompleteProcedure(ctx, id, 0, map[string]string{"instance_id": "baseline"}); err != nil {
		t.Fatalf("CompleteProcedure: %v", err)
	}
	// The completion write is retried by the sequencer; a duplicate must be
	// a harmless no-op.
	if err := client.CompleteProcedure(ctx, id, 0, nil); err != nil {
		t.Fatalf("duplicate CompleteProcedure: %v", err)
	}

	snap, err = client.SessionStatus(ctx, id)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if snap.CurrentProcedure != 0 || !snap.ParticipantRegistered {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !reflect.DeepEqual(snap.CompletedProcedures, []int{0}) {
		t.Fatalf("completed = %v, want [0]", snap.CompletedProcedures)
	}

	if err := client.Terminate(ctx, id); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	snap, err = client.SessionStatus(ctx, id)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if snap.Active {
		t.Fatal("session still active after terminate")
	}
	if err := client.SetCurrentProcedure(ctx, id, 1, false); err == nil {
		t.Fatal("expected error advancing a terminated session")
	}
}

func TestSetCurrentProcedureTransitionRules(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id, err := client.CreateSession(ctx, "rules")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i <= 2; i++ {
		if err := client.SetCurrentProcedure(ctx, id, i, false); err != nil {
			t.Fatalf("advance to %d: %v", i, err)
		}
	}
	if err := client.CompleteProcedure(ctx, id, 0, nil); err != nil {
		t.Fatalf("CompleteProcedure: %v", err)
	}

	tests := []struct {
		name    string
		index   int
		jump    bool
		wantErr string
	}{
		{"duplicate write rejected", 2, false, "does not advance"},
		{"backward without jump rejected", 1, false, "does not advance"},
		{"skip ahead without jump allowed", 5, false, ""},
		{"jump back to adjacent allowed", 4, true, ""},
		{"jump to completed allowed", 0, true, ""},
		{"jump to unvisited far index rejected", 7, true, "neither completed nor adjacent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.SetCurrentProcedure(ctx, id, tt.index, tt.jump)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("SetCurrentProcedure(%d, jump=%v): %v", tt.index, tt.jump, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("SetCurrentProcedure(%d, jump=%v) = %v, want %q", tt.index, tt.jump, err, tt.wantErr)
			}
		})
	}
}

func TestStatusUnknownSession(t *testing.T) {
	_, client := newTestServer(t)
	if _, err := client.SessionStatus(context.Background(), "no-such-session"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestSubscribeDeliversPushEvents(t *testing.T) {
	srv, client := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := client.CreateSession(ctx, "push")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	events := make(chan replica.PushEvent, 8)
	subDone := make(chan error, 1)
	go func() {
		subDone <- client.Subscribe(ctx, id, func(ev replica.PushEvent) {
			events <- ev
		})
	}()

	// Wait for the stream to be registered before writing.
	deadline := time.Now().Add(5 * time.Second)
	for {
		srv.subMu.Lock()
		n := len(srv.subs[id])
		srv.subMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := client.SetCurrentProcedure(ctx, id, 0, false); err != nil {
		t.Fatalf("SetCurrentProcedure: %v", err)
	}
	if err := client.Terminate(ctx, id); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	want := []struct {
		eventType string
		index     int
	}{
		{replica.EventProcedureChanged, 0},
		{replica.EventExperimentCompleted, 0},
	}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.EventType != w.eventType || ev.SessionID != id {
				t.Fatalf("event = %+v, want type %s for %s", ev, w.eventType, id)
			}
			if w.eventType == replica.EventProcedureChanged && ev.CurrentProcedure != w.index {
				t.Fatalf("event index = %d, want %d", ev.CurrentProcedure, w.index)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("never received %s", w.eventType)
		}
	}

	cancel()
	select {
	case <-subDone:
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe never returned after cancel")
	}
}

func TestStoreCompletedSetIsAppendOnly(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	rec, err := store.CreateSession("append-only")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, idx := range []int{2, 0, 2, 1} {
		if err := store.CompleteProcedure(rec.SessionID, idx, ""); err != nil {
			t.Fatalf("CompleteProcedure(%d): %v", idx, err)
		}
	}
	got, err := store.GetSession(rec.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !reflect.DeepEqual(got.CompletedProcedures, []int{0, 1, 2}) {
		t.Fatalf("completed = %v, want [0 1 2]", got.CompletedProcedures)
	}
}

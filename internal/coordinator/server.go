package coordinator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/studyflowlab/studyflow/internal/replica"
)

// Server is the reference session coordinator: the single source of truth
// for the current-procedure pointer and the completed set. It accepts the
// experimenter client's writes, answers reconciliation polls, and fans out
// push events over SSE.
type Server struct {
	store *Store
	port  string
	log   *slog.Logger
	mux   *http.ServeMux

	subMu sync.Mutex
	subs  map[string]map[chan replica.PushEvent]struct{}
}

// NewServer wires a coordinator server around a store.
func NewServer(store *Store, port string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store: store,
		port:  port,
		log:   log,
		mux:   http.NewServeMux(),
		subs:  make(map[string]map[chan replica.PushEvent]struct{}),
	}
	s.mux.HandleFunc("/api/sessions/create", s.handleCreateSession)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/current-procedure", s.handleSetCurrentProcedure)
	s.mux.HandleFunc("/api/complete-procedure", s.handleCompleteProcedure)
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/terminate", s.handleTerminate)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	return s
}

// Handler exposes the mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start blocks serving the coordinator API.
func (s *Server) Start() error {
	s.log.Info("coordinator listening", "port", s.port)
	return http.ListenAndServe(":"+s.port, s.mux)
}

type createSessionRequest struct {
	Experiment string `json:"experiment"`
}

type setCurrentRequest struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Jump      bool   `json:"jump"`
}

type completeRequest struct {
	SessionID string          `json:"session_id"`
	Completed int             `json:"completed"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := s.store.CreateSession(req.Experiment)
	if err != nil {
		s.log.Error("create session failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("session created", "session_id", rec.SessionID, "experiment", rec.Experiment)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": rec.SessionID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	rec, err := s.store.GetSession(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, replica.Snapshot{
		Active:                rec.Active,
		CurrentProcedure:      rec.CurrentProcedure,
		CompletedProcedures:   rec.CompletedProcedures,
		ParticipantRegistered: rec.ParticipantRegistered,
	})
}

// handleSetCurrentProcedure enforces the monotonicity rule server-side: the
// pointer only moves forward unless the write carries the explicit jump
// flag, and a jump may only target a completed or immediately-adjacent
// procedure.
func (s *Server) handleSetCurrentProcedure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setCurrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := s.store.GetSession(req.SessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if !rec.Active {
		http.Error(w, "session is terminated", http.StatusConflict)
		return
	}
	if req.Index <= rec.CurrentProcedure && !req.Jump {
		http.Error(w, fmt.Sprintf("index %d does not advance current %d", req.Index, rec.CurrentProcedure), http.StatusConflict)
		return
	}
	if req.Jump && !jumpAllowed(rec, req.Index) {
		http.Error(w, fmt.Sprintf("jump target %d is neither completed nor adjacent", req.Index), http.StatusConflict)
		return
	}
	if err := s.store.SetCurrentProcedure(req.SessionID, req.Index); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("current procedure set", "session_id", req.SessionID, "index", req.Index, "jump", req.Jump)
	s.publish(req.SessionID, replica.PushEvent{
		EventType:        replica.EventProcedureChanged,
		SessionID:        req.SessionID,
		CurrentProcedure: req.Index,
		CompletedIndices: rec.CompletedProcedures,
		Jump:             req.Jump,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jumpAllowed(rec SessionRecord, target int) bool {
	if target == rec.CurrentProcedure+1 || target == rec.CurrentProcedure-1 {
		return true
	}
	for _, idx := range rec.CompletedProcedures {
		if idx == target {
			return true
		}
	}
	return false
}

func (s *Server) handleCompleteProcedure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetSession(req.SessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err := s.store.CompleteProcedure(req.SessionID, req.Completed, string(req.Metadata)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("procedure completed", "session_id", req.SessionID, "index", req.Completed)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.store.SetParticipantRegistered(req.SessionID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.store.Terminate(req.SessionID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("session terminated", "session_id", req.SessionID)
	s.publish(req.SessionID, replica.PushEvent{
		EventType: replica.EventExperimentCompleted,
		SessionID: req.SessionID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents serves the push channel as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if _, err := s.store.GetSession(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.subscribe(sessionID)
	defer s.unsubscribe(sessionID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) subscribe(sessionID string) chan replica.PushEvent {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(chan replica.PushEvent, 16)
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[chan replica.PushEvent]struct{})
	}
	s.subs[sessionID][ch] = struct{}{}
	return ch
}

func (s *Server) unsubscribe(sessionID string, ch chan replica.PushEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs[sessionID], ch)
}

// publish fans an event out to all subscribers. Slow subscribers drop
// events; the reconciliation poll covers the loss.
func (s *Server) publish(sessionID string, ev replica.PushEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			s.log.Warn("dropping push event for slow subscriber", "session_id", sessionID)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package coordinator

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id             TEXT PRIMARY KEY,
	experiment             TEXT NOT NULL,
	current_procedure      INTEGER NOT NULL DEFAULT -1,
	participant_registered INTEGER NOT NULL DEFAULT 0,
	active                 INTEGER NOT NULL DEFAULT 1,
	created_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS completed_procedures (
	session_id      TEXT NOT NULL,
	procedure_index INTEGER NOT NULL,
	metadata_json   TEXT,
	completed_at    TEXT NOT NULL,
	PRIMARY KEY (session_id, procedure_index),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

// SessionRecord is one session's authoritative state.
type SessionRecord struct {
	SessionID             string
	Experiment            string
	CurrentProcedure      int
	CompletedProcedures   []int
	ParticipantRegistered bool
	Active                bool
	CreatedAt             time.Time
}

// Store persists session state in SQLite. It is the single source of truth
// for the current-procedure pointer and the completed set.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateSession inserts a new active session with no current procedure.
func (s *Store) CreateSession(experiment string) (SessionRecord, error) {
	rec := SessionRecord{
		SessionID:        uuid.New().String(),
		Experiment:       experiment,
		CurrentProcedure: -1,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, experiment, current_procedure, active, created_at)
		 VALUES (?, ?, ?, 1, ?)`,
		rec.SessionID, rec.Experiment, rec.CurrentProcedure, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("insert session: %w", err)
	}
	return rec, nil
}

// GetSession reads one session with its completed set.
func (s *Store) GetSession(sessionID string) (SessionRecord, error) {
	var rec SessionRecord
	var createdStr string
	var registered, active int
	err := s.db.QueryRow(
		`SELECT session_id, experiment, current_procedure, participant_registered, active, created_at
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&rec.SessionID, &rec.Experiment, &rec.CurrentProcedure, &registered, &active, &createdStr)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	rec.ParticipantRegistered = registered != 0
	rec.Active = active != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)

	rows, err := s.db.Query(
		`SELECT procedure_index FROM completed_procedures WHERE session_id = ? ORDER BY procedure_index`,
		sessionID,
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("list completed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return SessionRecord{}, fmt.Errorf("scan completed: %w", err)
		}
		rec.CompletedProcedures = append(rec.CompletedProcedures, idx)
	}
	return rec, rows.Err()
}

// SetCurrentProcedure moves the current-procedure pointer.
func (s *Store) SetCurrentProcedure(sessionID string, index int) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET current_procedure = ? WHERE session_id = ? AND active = 1`,
		index, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set current procedure: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s not found or inactive", sessionID)
	}
	return nil
}

// CompleteProcedure appends to the completed set. Recording the same index
// twice is a no-op, so duplicate completion writes stay idempotent.
func (s *Store) CompleteProcedure(sessionID string, index int, metadataJSON string) error {
	var meta interface{}
	if metadataJSON != "" {
		meta = metadataJSON
	}
	_, err := s.db.Exec(
		`INSERT INTO completed_procedures (session_id, procedure_index, metadata_json, completed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, procedure_index) DO NOTHING`,
		sessionID, index, meta, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("complete procedure: %w", err)
	}
	return nil
}

// SetParticipantRegistered flags the participant as registered.
func (s *Store) SetParticipantRegistered(sessionID string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET participant_registered = 1 WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set registered: %w", err)
	}
	return nil
}

// Terminate marks the session inactive.
func (s *Store) Terminate(sessionID string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET active = 0 WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

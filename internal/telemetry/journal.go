package telemetry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/studyflowlab/studyflow/internal/sequence"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	label      TEXT NOT NULL,
	reason     TEXT,
	elapsed_ms INTEGER,
	created_at TEXT NOT NULL
);
`

// Event types in the journal.
const (
	eventTag             = "tag"
	eventRecordingOpened = "recording_opened"
	eventRecordingClosed = "recording_closed"
)

// Event is one journal row.
type Event struct {
	ID        int64
	SessionID string
	EventType string
	Label     string
	Reason    string
	ElapsedMS int64
	CreatedAt time.Time
}

// Journal is a SQLite-backed append-only telemetry log.
type Journal struct {
	db        *sql.DB
	sessionID string
	log       *slog.Logger
}

// NewJournal opens (creating if needed) the journal database.
func NewJournal(dbPath, sessionID string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, sessionID: sessionID, log: log}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) SetTag(label string) {
	j.append(eventTag, label, "", 0)
}

func (j *Journal) RecordingOpened(label string) {
	j.append(eventRecordingOpened, label, "", 0)
}

func (j *Journal) RecordingClosed(label string, reason sequence.CloseReason, elapsed time.Duration) {
	j.append(eventRecordingClosed, label, string(reason), elapsed.Milliseconds())
}

func (j *Journal) append(eventType, label, reason string, elapsedMS int64) {
	var reasonPtr interface{}
	if reason != "" {
		reasonPtr = reason
	}
	_, err := j.db.Exec(
		`INSERT INTO telemetry_events (session_id, event_type, label, reason, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		j.sessionID, eventType, label, reasonPtr, elapsedMS, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		j.log.Warn("telemetry write failed", "event_type", eventType, "label", label, "error", err)
	}
}

// Events returns the journal rows for this session, oldest first.
func (j *Journal) Events() ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, session_id, event_type, label, reason, elapsed_ms, created_at
		 FROM telemetry_events WHERE session_id = ? ORDER BY id`, j.sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var reason sql.NullString
		var createdStr string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.Label, &reason, &ev.ElapsedMS, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if reason.Valid {
			ev.Reason = reason.String
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

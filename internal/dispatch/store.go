package dispatch

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// QueueStatusQueued marks entries awaiting a later delivery attempt.
const QueueStatusQueued = "queued"

// Store persists delivered idempotency keys and the durable event queue in one
// SQLite database, so a crash-and-restart cannot re-fire a milestone that
// already landed.
type Store struct {
	DBPath string
	db     *sql.DB
}

// QueueEntry is a durably persisted envelope whose delivery attempts were
// exhausted.
type QueueEntry struct {
	ID             int64
	IdempotencyKey string
	EventType      string
	Envelope       Envelope
	Status         string
	Attempts       int
	QueuedAt       time.Time
	LastError      string
}

// OpenStore opens or creates the dispatch state database.
func OpenStore(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve dispatch db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dispatch db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open dispatch db: %w", err)
	}

	store := &Store{DBPath: absPath, db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS delivered_keys (
	key TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	plan_id TEXT,
	delivered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key TEXT NOT NULL,
	event_type TEXT NOT NULL,
	envelope_json TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	queued_at TEXT NOT NULL,
	last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON event_queue(status, queued_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create dispatch schema: %w", err)
	}
	return nil
}

// WasDelivered reports whether the idempotency key already has a recorded
// successful delivery.
func (s *Store) WasDelivered(key string) (bool, error) {
	var found string
	err := s.db.QueryRow("SELECT key FROM delivered_keys WHERE key = ?", key).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check delivered key: %w", err)
	}
	return true, nil
}

// RecordDelivered marks the key as delivered. Idempotent.
func (s *Store) RecordDelivered(key, eventType, planID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO delivered_keys (key, event_type, plan_id, delivered_at)
		VALUES (?, ?, ?, ?)
	`, key, eventType, planID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record delivered key: %w", err)
	}
	return nil
}

// Enqueue durably persists an envelope whose delivery attempts were exhausted.
func (s *Store) Enqueue(env Envelope, lastError string) error {
	envelopeJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO event_queue (idempotency_key, event_type, envelope_json, status, attempts, queued_at, last_error)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, env.IdempotencyKey, string(env.EventType), string(envelopeJSON),
		QueueStatusQueued, time.Now().UTC().Format(time.RFC3339), lastError)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Queued returns every entry awaiting redelivery, oldest first.
func (s *Store) Queued() ([]QueueEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, idempotency_key, event_type, envelope_json, status, attempts, queued_at, last_error
		FROM event_queue
		WHERE status = ?
		ORDER BY queued_at ASC, id ASC
	`, QueueStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var envelopeJSON, queuedAt string
		var lastError sql.NullString
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.EventType, &envelopeJSON,
			&e.Status, &e.Attempts, &queuedAt, &lastError); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		if err := json.Unmarshal([]byte(envelopeJSON), &e.Envelope); err != nil {
			return nil, fmt.Errorf("parse queued envelope %d: %w", e.ID, err)
		}
		e.QueuedAt, _ = time.Parse(time.RFC3339, queuedAt)
		if lastError.Valid {
			e.LastError = lastError.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return entries, nil
}

// Resolve removes a queue entry and records its key as delivered in one
// transaction, so redelivery and the at-most-once record move together.
func (s *Store) Resolve(entryID int64, key, eventType, planID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM event_queue WHERE id = ?", entryID); err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO delivered_keys (key, event_type, plan_id, delivered_at)
		VALUES (?, ?, ?, ?)
	`, key, eventType, planID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record delivered key: %w", err)
	}
	return tx.Commit()
}

// BumpAttempt increments an entry's attempt counter after a failed redelivery.
func (s *Store) BumpAttempt(entryID int64, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE event_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, lastError, entryID)
	if err != nil {
		return fmt.Errorf("update queue entry: %w", err)
	}
	return nil
}

// DeliveredCount returns the number of recorded idempotency keys.
func (s *Store) DeliveredCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM delivered_keys").Scan(&n); err != nil {
		return 0, fmt.Errorf("count delivered keys: %w", err)
	}
	return n, nil
}

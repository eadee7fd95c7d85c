// Package journal provides an optional append-only record of issued power
// commands and their outcomes. It records what the tool did, never
// controller state.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome values recorded per target.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Entry is one journaled command outcome.
type Entry struct {
	ID         int64
	RunID      string
	Timestamp  time.Time
	Host       string
	TargetKind string // "outlet" or "group"
	Target     string
	Operation  string
	Outcome    string
	Detail     string
}

// Journal is an append-only sqlite log of command outcomes.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database and initializes the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS command_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			host TEXT NOT NULL,
			target_kind TEXT NOT NULL,
			target TEXT NOT NULL,
			operation TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_journal_run ON command_journal(run_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_journal_host ON command_journal(host, timestamp);
	`)
	return err
}

// Record appends one command outcome.
func (j *Journal) Record(e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := j.db.Exec(`
		INSERT INTO command_journal (run_id, timestamp, host, target_kind, target, operation, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, ts.Unix(), e.Host, e.TargetKind, e.Target, e.Operation, e.Outcome, e.Detail)
	if err != nil {
		return fmt.Errorf("journal record: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, run_id, timestamp, host, target_kind, target, operation, outcome, detail
		FROM command_journal
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &e.Host, &e.TargetKind, &e.Target, &e.Operation, &e.Outcome, &detail); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Detail = detail.String
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS action_events (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	trigger TEXT NOT NULL,
	action TEXT NOT NULL,
	forced INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_action_ts ON action_events(timestamp);

CREATE TABLE IF NOT EXISTS power_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	type TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_power_ts ON power_events(timestamp);
`

// ActionEvent is one power action the daemon requested.
type ActionEvent struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Trigger   string `json:"trigger"` // idle or manual
	Action    string `json:"action"`  // sleep or shutdown
	Forced    bool   `json:"forced"`
	Outcome   string `json:"outcome"` // requested or failed
	Detail    string `json:"detail,omitempty"`
}

// PowerEvent is a transition reported by logind.
type PowerEvent struct {
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"` // sleep, wake or shutdown
}

// DB is the action journal.
type DB struct {
	db *sql.DB
}

// Open opens or creates the journal at path, creating its directory.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertActionEvent records an action. Inserting the same id twice replaces
// the earlier row, so a result can overwrite its "requested" entry.
func (d *DB) InsertActionEvent(e ActionEvent) error {
	forced := 0
	if e.Forced {
		forced = 1
	}
	_, err := d.db.Exec(
		"INSERT OR REPLACE INTO action_events (id, timestamp, trigger, action, forced, outcome, detail) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Timestamp, e.Trigger, e.Action, forced, e.Outcome, e.Detail,
	)
	return err
}

// InsertPowerEvent records a logind transition.
func (d *DB) InsertPowerEvent(e PowerEvent) error {
	_, err := d.db.Exec(
		"INSERT INTO power_events (timestamp, type) VALUES (?, ?)",
		e.Timestamp, e.Type,
	)
	return err
}

// LatestActionEvent returns the most recent action, or nil when there is none.
func (d *DB) LatestActionEvent() (*ActionEvent, error) {
	row := d.db.QueryRow("SELECT id, timestamp, trigger, action, forced, outcome, detail FROM action_events ORDER BY timestamp DESC, rowid DESC LIMIT 1")
	e, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ActionEventsInRange returns actions within the given unix time range.
func (d *DB) ActionEventsInRange(from, to int64) ([]ActionEvent, error) {
	rows, err := d.db.Query(
		"SELECT id, timestamp, trigger, action, forced, outcome, detail FROM action_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, rowid",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []ActionEvent
	for rows.Next() {
		e, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// PowerEventsInRange returns logind transitions within the given unix time
// range.
func (d *DB) PowerEventsInRange(from, to int64) ([]PowerEvent, error) {
	rows, err := d.db.Query(
		"SELECT timestamp, type FROM power_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []PowerEvent
	for rows.Next() {
		var e PowerEvent
		if err := rows.Scan(&e.Timestamp, &e.Type); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(s scanner) (*ActionEvent, error) {
	var e ActionEvent
	var forced int
	if err := s.Scan(&e.ID, &e.Timestamp, &e.Trigger, &e.Action, &forced, &e.Outcome, &e.Detail); err != nil {
		return nil, err
	}
	e.Forced = forced != 0
	return &e, nil
}

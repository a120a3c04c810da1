package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	process_id TEXT    NOT NULL,
	clock_rate INTEGER NOT NULL,
	PRIMARY KEY (process_id, clock_rate)
)`,
	`CREATE TABLE IF NOT EXISTS events (
	process_id    TEXT    NOT NULL,
	clock_rate    INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	logical_clock INTEGER NOT NULL,
	wall_clock    INTEGER NOT NULL,
	event_type    TEXT    NOT NULL,
	queue_length  INTEGER NOT NULL,
	PRIMARY KEY (process_id, clock_rate, seq)
)`,
}

// SQLiteStore keeps the logs of many identities in one database file.
type SQLiteStore struct {
	*sql.DB
	path string
}

// OpenSQLite opens or creates the database at path. An empty path picks a
// unique file name in the working directory.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "lamport_run_" + xid.New().String() + ".sqlite3"
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// Sinks of one process share a single connection; sqlite serializes
	// writers anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
		}
	}

	return &SQLiteStore{DB: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Sink registers id, deletes any rows recorded for it and returns a sink
// appending to it.
func (s *SQLiteStore) Sink(id Identity) (*SQLiteSink, error) {
	if _, err := s.Exec(
		`INSERT OR IGNORE INTO runs (process_id, clock_rate) VALUES (?, ?)`,
		id.ProcessID, id.ClockRate,
	); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", id, err)
	}
	if _, err := s.Exec(
		`DELETE FROM events WHERE process_id = ? AND clock_rate = ?`,
		id.ProcessID, id.ClockRate,
	); err != nil {
		return nil, fmt.Errorf("failed to truncate %s: %w", id, err)
	}

	stmt, err := s.Prepare(`INSERT INTO events
		(process_id, clock_rate, seq, logical_clock, wall_clock, event_type, queue_length)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	return &SQLiteSink{id: id, stmt: stmt}, nil
}

// Entries returns the rows recorded for id in tick order.
func (s *SQLiteStore) Entries(id Identity) ([]Entry, error) {
	rows, err := s.Query(`SELECT logical_clock, wall_clock, event_type, queue_length
		FROM events WHERE process_id = ? AND clock_rate = ? ORDER BY seq`,
		id.ProcessID, id.ClockRate)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", id, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			wall  int64
			event string
		)
		if err := rows.Scan(&e.Clock, &wall, &event, &e.QueueLen); err != nil {
			return nil, err
		}
		if e.Event, err = ParseEventType(event); err != nil {
			return nil, err
		}
		e.WallClock = time.Unix(wall, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Identities lists every identity a sink was opened for, including those
// that never logged a row.
func (s *SQLiteStore) Identities() ([]Identity, error) {
	rows, err := s.Query(`SELECT process_id, clock_rate FROM runs ORDER BY process_id, clock_rate`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.ProcessID, &id.ClockRate); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SQLiteSink appends rows for one identity.
type SQLiteSink struct {
	id   Identity
	stmt *sql.Stmt
	seq  int64
}

// Append inserts one row.
func (s *SQLiteSink) Append(e Entry) error {
	s.seq++
	if _, err := s.stmt.Exec(
		s.id.ProcessID, s.id.ClockRate, s.seq,
		e.Clock, e.WallClock.Unix(), string(e.Event), e.QueueLen,
	); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.id, err)
	}
	return nil
}

// Close releases the prepared statement. The store stays open.
func (s *SQLiteSink) Close() error {
	return s.stmt.Close()
}

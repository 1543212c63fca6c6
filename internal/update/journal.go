// oreon/appshell · watchthelight <wtl>

package update

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records every orchestrator operation in a local SQLite database so
// the outcome of the last update attempt survives a restart.
type Journal struct {
	mu sync.RWMutex
	db *sql.DB
}

// ErrJournalClosed is returned by reads and writes after Close.
var ErrJournalClosed = errors.New("update journal closed")

// Entry is one journal row.
type Entry struct {
	ID        int64
	SessionID string
	Op        string
	Version   string
	Success   bool
	Error     string
	At        time.Time
}

func (e Entry) String() string {
	outcome := "ok"
	if !e.Success {
		outcome = "failed: " + e.Error
	}
	return fmt.Sprintf("%s %s %s %s", e.At.Format(time.RFC3339), e.Op, e.Version, outcome)
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS update_journal (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	op         TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	at         INTEGER NOT NULL
)`

// OpenJournal opens or creates the journal at path. ":memory:" is accepted.
func OpenJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer; also keeps a :memory: database alive across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends e. A zero At is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return ErrJournalClosed
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO update_journal (session_id, op, version, success, error, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Op, e.Version, e.Success, e.Error, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// Last returns the most recent entry, or sql.ErrNoRows when empty.
func (j *Journal) Last(ctx context.Context) (Entry, error) {
	entries, err := j.Recent(ctx, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, sql.ErrNoRows
	}
	return entries[0], nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrJournalClosed
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, op, version, success, error, at FROM update_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Op, &e.Version, &e.Success, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.At = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database. It waits for in-flight reads and writes; later
// calls fail with ErrJournalClosed.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// IsEmpty reports whether err means the journal has no entries yet.
func IsEmpty(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

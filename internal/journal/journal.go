// Package journal records dispatched messages in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one journal row.
type Entry struct {
	ID         int64
	Time       time.Time
	ConnID     string
	Action     string
	Status     string
	ErrorCode  string
	Duration   time.Duration
	Generation uint64
}

// Journal handles SQLite operations for the dispatch journal
type Journal struct {
	db     *sql.DB
	dbPath string
}

// Open opens (and creates if needed) the journal at dbPath.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, dbPath: dbPath}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL,
		conn_id TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT,
		duration_us INTEGER NOT NULL,
		generation INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_created_at ON dispatches(created_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record inserts e. A zero Time is replaced by the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	var code interface{}
	if e.ErrorCode != "" {
		code = e.ErrorCode
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO dispatches (created_at, conn_id, action, status, error_code, duration_us, generation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UnixMicro(), e.ConnID, e.Action, e.Status, code, e.Duration.Microseconds(), int64(e.Generation))
	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, created_at, conn_id, action, status, error_code, duration_us, generation
		 FROM dispatches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			createdAt  int64
			code       sql.NullString
			durationUS int64
			generation int64
		)
		if err := rows.Scan(&e.ID, &createdAt, &e.ConnID, &e.Action, &e.Status, &code, &durationUS, &generation); err != nil {
			return nil, err
		}
		e.Time = time.UnixMicro(createdAt)
		e.ErrorCode = code.String
		e.Duration = time.Duration(durationUS) * time.Microsecond
		e.Generation = uint64(generation)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"savesync/internal/database/migrations"
	"savesync/internal/saves"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements saves.Journal on SQLite.
type SQLiteJournal struct {
	db    *sql.DB
	path  string
	clock saves.Clock
}

// NewSQLiteJournal opens the journal at path and migrates it to the newest
// schema. path can be a file path or ":memory:". A nil clock uses the wall clock.
func NewSQLiteJournal(path string, clock saves.Clock) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return NewSQLiteJournalFromDB(db, path, clock), nil
}

// NewSQLiteJournalFromDB wraps a connection that already carries the schema.
func NewSQLiteJournalFromDB(db *sql.DB, path string, clock saves.Clock) *SQLiteJournal {
	if clock == nil {
		clock = saves.RealClock{}
	}
	return &SQLiteJournal{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if path == ":memory:" {
		// Each connection of the pool would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Background transfers update the journal concurrently with the CLI.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Pending transfers

func (s *SQLiteJournal) AddPendingTransfer(t *saves.PendingTransfer) (int64, error) {
	now := s.clock.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(context.Background(), `
		INSERT INTO pending_transfers (kind, config_id, remote_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, config_id, remote_key) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING id`,
		string(t.Kind), t.ConfigID, t.RemoteKey, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding pending transfer: %w", err)
	}
	return id, nil
}

// CompletePendingTransfer removes the transfer. Completing an unknown ID is
// not an error: a merged duplicate may already have completed it.
func (s *SQLiteJournal) CompletePendingTransfer(id int64) error {
	if _, err := s.db.Exec("DELETE FROM pending_transfers WHERE id = ?", id); err != nil {
		return fmt.Errorf("completing pending transfer: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) FailPendingTransfer(id int64, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE pending_transfers
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		errMsg, s.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording transfer failure: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) PendingTransfers() ([]*saves.PendingTransfer, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, config_id, remote_key, attempts, last_error, created_at, updated_at
		FROM pending_transfers
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing pending transfers: %w", err)
	}
	defer rows.Close()

	var out []*saves.PendingTransfer
	for rows.Next() {
		var (
			t    saves.PendingTransfer
			kind string
		)
		if err := rows.Scan(&t.ID, &kind, &t.ConfigID, &t.RemoteKey, &t.Attempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning pending transfer: %w", err)
		}
		t.Kind = saves.TransferKind(kind)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending transfers: %w", err)
	}
	return out, nil
}

// Operation history

func (s *SQLiteJournal) CreateOperation(operation, parameters string) (*saves.Operation, error) {
	op := &saves.Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  s.clock.Now().UTC(),
	}
	res, err := s.db.Exec(
		"INSERT INTO operations (operation, parameters, status, started_at) VALUES (?, ?, ?, ?)",
		op.Operation, op.Parameters, op.Status, op.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteJournal) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(
		"UPDATE operations SET status = ?, finished_at = ? WHERE id = ?",
		status, s.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) RecentOperations(limit int) ([]*saves.Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, parameters, status, started_at, finished_at
		FROM operations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*saves.Operation
	for rows.Next() {
		var (
			op       saves.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = finished.Time
		}
		out = append(out, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return out, nil
}

// Path returns the journal file path (or ":memory:").
func (s *SQLiteJournal) Path() string {
	return s.path
}

// CheckMigrations verifies the journal schema is up-to-date.
func (s *SQLiteJournal) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a complete copy of the journal to destPath using VACUUM INTO.
func (s *SQLiteJournal) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up journal: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// staleAfter is how old a finished operation must be before PruneOperations drops it.
const staleAfter = 90 * 24 * time.Hour

// PruneOperations deletes finished operations older than 90 days and returns
// how many were removed.
func (s *SQLiteJournal) PruneOperations() (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-staleAfter)
	res, err := s.db.Exec("DELETE FROM operations WHERE finished_at IS NOT NULL AND finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning operations: %w", err)
	}
	return res.RowsAffected()
}

var _ saves.Journal = (*SQLiteJournal)(nil)

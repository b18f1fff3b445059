// Package storage keeps acknowledged browser baselines in SQLite so a
// restarted server still sends deltas rather than full file sets.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// ErrStoreClosed is returned by a nil or closed Store.
var ErrStoreClosed = errors.New("storage: closed")

// Store is a SQLite-backed baseline store.
type Store struct {
	db *sql.DB
}

// migration is applied once, in order, inside its own transaction.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "baselines"},
	{Version: 2, Name: "baselines_updated_index",
		SQL: `CREATE INDEX IF NOT EXISTS idx_baselines_updated ON baselines(updated_at)`},
}

// New opens the database at dsn, creating the file (mode 0600) and its
// directory when needed, and brings the schema up to date. ":memory:" opens a
// private in-memory database.
func New(dsn string) (*Store, error) {
	path, onDisk := sqliteFilePathFromDSN(dsn)
	if onDisk {
		if err := createPrivateFile(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open baseline database: %w", err)
	}
	// An in-memory database exists per connection.
	maxConns := 1
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if onDisk {
		maxConns = 4
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	db.SetMaxOpenConns(maxConns)

	ctx := context.Background()
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database. It is safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	return schemaVersion(context.Background(), s.db)
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if m.SQL != "" {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// sqliteFilePathFromDSN returns the file a DSN refers to, or false for
// in-memory and non-file DSNs.
func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	path := dsn
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path = u.Path
		if path == "" {
			path = u.Opaque
		}
	} else if strings.Contains(dsn, "://") {
		return "", false
	}
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" {
		return "", false
	}
	return path, true
}

func createPrivateFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create baseline directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, os.ErrExist):
		return nil
	default:
		return fmt.Errorf("create baseline database: %w", err)
	}
}

// isBusyError reports SQLite lock contention.
func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

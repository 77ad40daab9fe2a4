// Package store is the SQLite database shared by printwatch plugins. Each
// plugin owns its tables and versions them through Migrate.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/HerbHall/printwatch/pkg/plugin"
)

var _ plugin.Store = (*SQLiteStore)(nil)

// pragmas are applied to every new connection pool. modernc.org/sqlite
// takes them as statements, not DSN parameters.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// SQLiteStore implements plugin.Store on modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	migrateMu sync.Mutex
	tableOnce sync.Once
	tableErr  error
}

// New opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: writes are serialized and an in-memory database
	// stays the same database.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path is the file the store was opened from.
func (s *SQLiteStore) Path() string { return s.path }

// Ping checks that the database still answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Checkpoint flushes the write-ahead log into the main database file so
// the file can be copied on its own.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// Migrate applies the migrations of owner that are not yet recorded in
// _migrations. Migrations must be in ascending Version order; each runs in
// its own transaction together with its bookkeeping row.
func (s *SQLiteStore) Migrate(ctx context.Context, owner string, migrations []plugin.Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	applied, err := s.appliedVersions(ctx, owner)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO _migrations (plugin_name, version, description) VALUES (?, ?, ?)`,
				owner, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", owner, m.Version, m.Description, err)
		}
	}
	return nil
}

// AppliedMigration is one row of the migration log.
type AppliedMigration struct {
	Owner       string
	Version     int
	Description string
}

// Applied lists the recorded migrations ordered by owner and version.
func (s *SQLiteStore) Applied(ctx context.Context) ([]AppliedMigration, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT plugin_name, version, description FROM _migrations ORDER BY plugin_name, version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Owner, &m.Version, &m.Description); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	s.tableOnce.Do(func() {
		_, s.tableErr = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				plugin_name TEXT     NOT NULL,
				version     INTEGER  NOT NULL,
				description TEXT     NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (plugin_name, version)
			)`)
		if s.tableErr != nil {
			s.tableErr = fmt.Errorf("create _migrations: %w", s.tableErr)
		}
	})
	return s.tableErr
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, owner string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM _migrations WHERE plugin_name = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", owner, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

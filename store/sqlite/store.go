// Package sqlite implements the checkpoint backends on SQLite via the
// pure-Go modernc driver. Useful for development, tests, and
// single-process deployments; timestamps are stored as integer
// nanoseconds so version ordering is exact.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/waypoint/checkpoint"
)

// Ensure Store implements the backend contracts at compile time.
var (
	_ checkpoint.Table = (*Store)(nil)
	_ checkpoint.Blob  = (*Store)(nil)
)

// Store is a SQLite implementation of the checkpoint backends.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ownsDB bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens a SQLite database at the given path (":memory:" works) and
// returns a store over it.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("waypoint/sqlite: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("waypoint/sqlite: connect: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		ownsDB: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromDB creates a store from an existing *sql.DB. The caller owns the
// db lifecycle — the Store will not close it on Close().
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS waypoint_checkpoints (
			thread_id      TEXT NOT NULL,
			checkpoint_id  TEXT NOT NULL,
			ts_nano        INTEGER NOT NULL,
			state          BLOB,
			metadata       BLOB NOT NULL,
			blob_ref       TEXT NOT NULL DEFAULT '',
			size_bytes     INTEGER NOT NULL DEFAULT 0,
			expires_nano   INTEGER NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id, ts_nano)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_waypoint_checkpoints_latest
			ON waypoint_checkpoints (thread_id, ts_nano DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_waypoint_checkpoints_expiry
			ON waypoint_checkpoints (expires_nano)`,
		`CREATE TABLE IF NOT EXISTS waypoint_blobs (
			key   TEXT PRIMARY KEY,
			data  BLOB NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("waypoint/sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection when the Store opened it itself.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// likePrefix escapes LIKE metacharacters in a literal prefix.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

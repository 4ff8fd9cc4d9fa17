// Package sqlite implements the store on a local SQLite database. Writers are
// serialized behind a single connection plus a mutex; concurrent readers from
// other processes (info/show commands) are handled by WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/playbook-run/playbook/pkg/errdefs"
)

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates or opens the state database at path and applies migrations.
func Open(ctx context.Context, logger *slog.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storeErr(fmt.Errorf("create state directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr(fmt.Errorf("open state database: %w", err))
	}

	// One connection keeps writes serialized inside the process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, storeErr(fmt.Errorf("ping state database: %w", err))
	}

	// WAL keeps concurrent readers (info/show) out of the writers' way.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, storeErr(fmt.Errorf("apply %q: %w", pragma, err))
		}
	}

	if err := newMigrationManager(logger, db).run(ctx); err != nil {
		return nil, storeErr(err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func storeErr(err error) error {
	return errdefs.Wrap(errdefs.CodeStore, err, "store operation failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}

	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}

	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	sql     string
}

// MigrationStatus describes one embedded migration and whether it has been
// applied.
type MigrationStatus struct {
	Version   int
	Name      string
	AppliedAt *time.Time
}

// Migrate applies every embedded migration that is not yet recorded in
// schema_migrations.  It returns the number applied.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	if err := ensureTracking(ctx, db); err != nil {
		return 0, err
	}

	ms, err := loadMigrations()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range ms {
		at, err := appliedAt(ctx, db, m.version)
		if err != nil {
			return applied, err
		}
		if at != nil {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Status reports every embedded migration in version order.
func Status(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	if err := ensureTracking(ctx, db); err != nil {
		return nil, err
	}
	ms, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(ms))
	for _, m := range ms {
		at, err := appliedAt(ctx, db, m.version)
		if err != nil {
			return nil, err
		}
		out = append(out, MigrationStatus{Version: m.version, Name: m.name, AppliedAt: at})
	}
	return out, nil
}

func ensureTracking(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ms INTEGER NOT NULL
);`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var ms []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, err := parseVersion(e.Name()) // 0001_validation_events.sql -> 1
		if err != nil {
			return nil, err
		}
		b, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		ms = append(ms, migration{version: v, name: e.Name(), sql: string(b)})
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].version < ms[j].version })
	return ms, nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations(version, applied_at_ms) VALUES(?, ?);",
		m.version, time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

func appliedAt(ctx context.Context, db *sql.DB, version int) (*time.Time, error) {
	var ms int64
	err := db.QueryRowContext(ctx,
		"SELECT applied_at_ms FROM schema_migrations WHERE version = ?;", version,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check migration %d: %w", version, err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func parseVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("bad migration filename: %s", filename)
	}
	s := strings.TrimLeft(prefix, "0")
	if s == "" {
		s = "0"
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad migration version %s: %w", filename, err)
	}
	return v, nil
}

package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"

	// versionLen is len("YYYYMMDD_HHMMSS").
	versionLen = 15
)

// Migration is one schema step read from a migration source.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string // description part of the filename
	Up      string
	Down    string // empty when the step cannot be rolled back
}

// LoadMigrations reads the migration pairs at the root of fsys, oldest
// first. Files not ending in .sql are ignored.
//
// Parameters:
//   - fsys: Source of YYYYMMDD_HHMMSS_description.{up,down}.sql files
//
// Returns:
//   - []Migration: Steps ordered by version
//   - error: ErrMigrationName for a misnamed file or a down without an up
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migration source: %w", err)
	}

	byVersion := make(map[string]*Migration)
	downs := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, desc, up, err := parseMigrationName(name)
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if !up {
			downs[version] = string(body)
			continue
		}
		if _, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("%w: version %s used twice", ErrMigrationName, version)
		}
		byVersion[version] = &Migration{Version: version, Name: desc, Up: string(body)}
	}

	for version, body := range downs {
		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("%w: %s has a down script but no up script", ErrMigrationName, version)
		}
		m.Down = body
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationName splits "20260301_120000_state_history.up.sql" into
// its version, description and direction.
func parseMigrationName(name string) (version, desc string, up bool, err error) {
	var stem string
	switch {
	case strings.HasSuffix(name, upSuffix):
		stem, up = strings.TrimSuffix(name, upSuffix), true
	case strings.HasSuffix(name, downSuffix):
		stem = strings.TrimSuffix(name, downSuffix)
	default:
		return "", "", false, fmt.Errorf("%w: %s lacks .up.sql or .down.sql", ErrMigrationName, name)
	}

	if len(stem) < versionLen+2 || stem[versionLen] != '_' {
		return "", "", false, fmt.Errorf("%w: %s", ErrMigrationName, name)
	}
	version = stem[:versionLen]
	if _, perr := time.Parse("20060102_150405", version); perr != nil {
		return "", "", false, fmt.Errorf("%w: %s: bad timestamp", ErrMigrationName, name)
	}
	return version, stem[versionLen+1:], up, nil
}

// Migrate applies every migration in fsys that the database has not seen.
//
// Each step runs in its own transaction together with its
// schema_migrations row, so a failure leaves earlier steps applied and
// a rerun resumes at the failed one.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Migration source, normally migrations.FS
//
// Returns:
//   - int: Number of steps applied by this call
//   - error: If loading or any step fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	steps, err := LoadMigrations(fsys)
	if err != nil {
		return 0, err
	}
	if err := db.ensureMigrationTable(ctx); err != nil {
		return 0, err
	}
	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	count := 0
	for _, m := range steps {
		if done[m.Version] {
			continue
		}
		if err := db.runStep(ctx, m.Up,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return count, fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// Rollback undoes the most recently applied migration.
//
// Returns:
//   - string: Version rolled back, "" when nothing was applied
//   - error: ErrUnknownMigration, ErrNoDownMigration, or the SQL failure
func (db *DB) Rollback(ctx context.Context, fsys fs.FS) (string, error) {
	steps, err := LoadMigrations(fsys)
	if err != nil {
		return "", err
	}
	if err := db.ensureMigrationTable(ctx); err != nil {
		return "", err
	}
	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}

	latest := applied[len(applied)-1]
	idx := sort.Search(len(steps), func(i int) bool { return steps[i].Version >= latest })
	if idx == len(steps) || steps[idx].Version != latest {
		return "", fmt.Errorf("%w: %s", ErrUnknownMigration, latest)
	}
	if steps[idx].Down == "" {
		return "", fmt.Errorf("%w: %s", ErrNoDownMigration, latest)
	}

	if err := db.runStep(ctx, steps[idx].Down,
		"DELETE FROM schema_migrations WHERE version = ?", latest,
	); err != nil {
		return "", fmt.Errorf("rolling back migration %s: %w", latest, err)
	}
	return latest, nil
}

// AppliedVersions lists applied migration versions, oldest first.
func (db *DB) AppliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema_migrations: %w", err)
	}
	return out, nil
}

func (db *DB) ensureMigrationTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

// runStep executes script and the bookkeeping statement in one transaction.
func (db *DB) runStep(ctx context.Context, script, record string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

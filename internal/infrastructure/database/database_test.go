package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

var testSource = fstest.MapFS{
	"20260301_120000_readings.up.sql":   {Data: []byte(`CREATE TABLE readings (address TEXT NOT NULL, value TEXT NOT NULL) STRICT;`)},
	"20260301_120000_readings.down.sql": {Data: []byte(`DROP TABLE readings;`)},
	"20260302_090000_index.up.sql":      {Data: []byte(`CREATE INDEX idx_readings_address ON readings(address);`)},
	"20260302_090000_index.down.sql":    {Data: []byte(`DROP INDEX idx_readings_address;`)},
	"README.md":                         {Data: []byte("not a migration")},
}

func tableExists(t *testing.T, db *DB, kind, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "homenet.db")

	db, err := Open(Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != filePermissions {
		t.Errorf("file mode = %o, want %o", perm, filePermissions)
	}
	mode, err := db.JournalMode(context.Background())
	if err != nil {
		t.Fatalf("JournalMode() error = %v", err)
	}
	if mode != "wal" {
		t.Errorf("JournalMode() = %q, want wal", mode)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path succeeded")
	}

	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Path: filepath.Join(blocker, "homenet.db")}); err == nil {
		t.Error("Open() under a file succeeded")
	}
}

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant []string
	}{
		{
			name: "wal",
			cfg:  Config{Path: "/data/h.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/data/h.db?", "_busy_timeout=5000", "_journal_mode=WAL", "_foreign_keys=on"},
		},
		{
			name:    "rollback journal",
			cfg:     Config{Path: "/data/h.db", BusyTimeout: 1},
			want:    []string{"_busy_timeout=1000"},
			notWant: []string{"_journal_mode"},
		},
		{
			name:    "memory ignores wal",
			cfg:     Config{Path: MemoryPath, WALMode: true},
			want:    []string{"file::memory:?"},
			notWant: []string{"_journal_mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.dsn()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("dsn() = %q, missing %q", got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("dsn() = %q, unexpected %q", got, w)
				}
			}
		})
	}
}

func TestHealthCheckAndClose(t *testing.T) {
	db, err := Open(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close succeeded")
	}

	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	steps, err := LoadMigrations(testSource)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("LoadMigrations() = %d steps, want 2", len(steps))
	}
	if steps[0].Version != "20260301_120000" || steps[0].Name != "readings" {
		t.Errorf("steps[0] = %s %s", steps[0].Version, steps[0].Name)
	}
	if steps[1].Version != "20260302_090000" || steps[1].Down == "" {
		t.Errorf("steps[1] = %+v", steps[1])
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"no direction", fstest.MapFS{"20260301_120000_x.sql": {}}},
		{"short name", fstest.MapFS{"2026_x.up.sql": {}}},
		{"bad timestamp", fstest.MapFS{"20261399_120000_x.up.sql": {}}},
		{"missing description", fstest.MapFS{"20260301_120000.up.sql": {}}},
		{"orphan down", fstest.MapFS{"20260301_120000_x.down.sql": {}}},
		{"duplicate version", fstest.MapFS{
			"20260301_120000_a.up.sql": {},
			"20260301_120000_b.up.sql": {},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadMigrations(tt.fsys); !errors.Is(err, ErrMigrationName) {
				t.Errorf("LoadMigrations() error = %v, want ErrMigrationName", err)
			}
		})
	}
}

func TestMigrateAndRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testSource)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	if !tableExists(t, db, "table", "readings") || !tableExists(t, db, "index", "idx_readings_address") {
		t.Fatal("schema not created")
	}

	if n, err := db.Migrate(ctx, testSource); err != nil || n != 0 {
		t.Errorf("second Migrate() = %d, %v, want 0, nil", n, err)
	}

	version, err := db.Rollback(ctx, testSource)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if version != "20260302_090000" {
		t.Errorf("Rollback() = %q, want newest version", version)
	}
	if tableExists(t, db, "index", "idx_readings_address") {
		t.Error("index survived rollback")
	}
	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(applied) != 1 || applied[0] != "20260301_120000" {
		t.Errorf("AppliedVersions() = %v", applied)
	}

	if _, err := db.Rollback(ctx, testSource); err != nil {
		t.Fatalf("second Rollback() error = %v", err)
	}
	if version, err := db.Rollback(ctx, testSource); err != nil || version != "" {
		t.Errorf("Rollback() on empty = %q, %v", version, err)
	}
}

func TestMigrate_FailedStepIsRolledBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source := fstest.MapFS{
		"20260301_120000_good.up.sql": {Data: []byte(`CREATE TABLE good (id INTEGER);`)},
		"20260302_120000_bad.up.sql":  {Data: []byte(`CREATE TABLE partial (id INTEGER); CREATE TABLE oops (;`)},
	}

	n, err := db.Migrate(ctx, source)
	if err == nil {
		t.Fatal("Migrate() with broken SQL succeeded")
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d before failing, want 1", n)
	}
	if !tableExists(t, db, "table", "good") {
		t.Error("earlier step was lost")
	}
	if tableExists(t, db, "table", "partial") {
		t.Error("failed step left a table behind")
	}
	if applied, _ := db.AppliedVersions(ctx); len(applied) != 1 {
		t.Errorf("AppliedVersions() = %v, want only the good step", applied)
	}
}

func TestRollback_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no down script", func(t *testing.T) {
		db := openTestDB(t)
		source := fstest.MapFS{"20260301_120000_one_way.up.sql": {Data: []byte(`CREATE TABLE t (id INTEGER);`)}}
		if _, err := db.Migrate(ctx, source); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := db.Rollback(ctx, source); !errors.Is(err, ErrNoDownMigration) {
			t.Errorf("Rollback() error = %v, want ErrNoDownMigration", err)
		}
	})

	t.Run("version missing from source", func(t *testing.T) {
		db := openTestDB(t)
		if _, err := db.Migrate(ctx, testSource); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := db.Rollback(ctx, fstest.MapFS{}); !errors.Is(err, ErrUnknownMigration) {
			t.Errorf("Rollback() error = %v, want ErrUnknownMigration", err)
		}
	})
}

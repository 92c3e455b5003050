package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_create_runs.up.sql":   {Data: []byte("CREATE TABLE runs (id TEXT PRIMARY KEY);")},
		"20260301_090000_create_runs.down.sql": {Data: []byte("DROP TABLE runs;")},
		"20260302_090000_add_events.up.sql":    {Data: []byte("CREATE TABLE events (id INTEGER PRIMARY KEY, run_id TEXT REFERENCES runs(id));")},
		"README.md":                            {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "runs") || !tableExists(t, db, "events") {
		t.Fatal("migrated tables missing")
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_090000" {
		t.Errorf("first version = %q", applied[0].Version)
	}

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureStops(t *testing.T) {
	db := openTestDB(t)
	src := fstest.MapFS{
		"20260301_090000_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260302_090000_broken.up.sql": {Data: []byte("CREATE TABLE ;")},
	}

	if err := db.Migrate(context.Background(), src); err == nil {
		t.Fatal("Migrate() expected error")
	}
	if !tableExists(t, db, "ok") {
		t.Error("earlier migration should stay committed")
	}

	applied, pending, err := db.MigrationStatus(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d, want 1 and 1", len(applied), len(pending))
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testMigrations()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The latest migration has no down file.
	if err := db.MigrateDown(ctx, src); !errors.Is(err, ErrNoDownMigration) {
		t.Fatalf("MigrateDown() error = %v, want ErrNoDownMigration", err)
	}

	only := fstest.MapFS{
		"20260301_090000_create_runs.up.sql":   src["20260301_090000_create_runs.up.sql"],
		"20260301_090000_create_runs.down.sql": src["20260301_090000_create_runs.down.sql"],
	}
	other := openTestDB(t)
	if err := other.Migrate(ctx, only); err != nil {
		t.Fatal(err)
	}
	if err := other.MigrateDown(ctx, only); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, other, "runs") {
		t.Error("table runs should have been dropped")
	}
	applied, _, err := other.MigrationStatus(ctx, only)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after rollback, want 0", len(applied))
	}
}

func TestMigrate_NilSource(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	src := fstest.MapFS{"20260301_090000_orphan.down.sql": {Data: []byte("DROP TABLE x;")}}
	if _, err := LoadMigrations(src); err == nil {
		t.Fatal("LoadMigrations() expected error for orphan down file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{filename: "20260118_120000_create_runs.up.sql", wantVersion: "20260118_120000", wantIsUp: true, wantOk: true},
		{filename: "20260118_120000_create_runs.down.sql", wantVersion: "20260118_120000", wantOk: true},
		{filename: "readme.txt"},
		{filename: "20260118_120000_create_runs.sql"},
		{filename: "invalid.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260118_120000_create_runs.up.sql", "create_runs"},
		{"20260118_120000_enrollment_journal.down.sql", "enrollment_journal"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testSource() MigrationSource {
	return MigrationSource{
		Dir: "sql",
		FS: fstest.MapFS{
			"sql/20260101_000000_create_devices.up.sql": {Data: []byte(
				"CREATE TABLE devices (id TEXT PRIMARY KEY, state TEXT NOT NULL);")},
			"sql/20260101_000000_create_devices.down.sql": {Data: []byte("DROP TABLE devices;")},
			"sql/20260102_000000_add_history.up.sql": {Data: []byte(
				"CREATE TABLE history (id INTEGER PRIMARY KEY, device_id TEXT NOT NULL);")},
			"sql/20260102_000000_add_history.down.sql": {Data: []byte("DROP TABLE history;")},
			"sql/README.md": {Data: []byte("not a migration")},
		},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "devices") || !tableExists(t, db, "history") {
		t.Fatal("migrations did not create tables")
	}

	// Second run is a no-op.
	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx, testSource())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Fatalf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}
}

func TestMigrateFailureStopsAtBadMigration(t *testing.T) {
	db := openTestDB(t)
	src := testSource()
	src.FS.(fstest.MapFS)["sql/20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE oops (")}

	if err := db.Migrate(context.Background(), src); err == nil {
		t.Fatal("Migrate() should fail on invalid SQL")
	}
	if !tableExists(t, db, "history") {
		t.Error("migrations before the failure should stay applied")
	}

	_, pending, err := db.GetMigrationStatus(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want the broken migration", pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, testSource()); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "history") {
		t.Error("history table should be dropped")
	}
	if !tableExists(t, db, "devices") {
		t.Error("devices table should remain")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, src := range []MigrationSource{{}, {FS: fstest.MapFS{}, Dir: "missing"}} {
		if err := db.Migrate(ctx, src); err != nil {
			t.Errorf("Migrate(%+v) error = %v", src, err)
		}
	}
	if err := db.MigrateDown(ctx, MigrationSource{}); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up", "20260301_090000_serial_state.up.sql", "20260301_090000", true, true},
		{"valid down", "20260301_090000_serial_state.down.sql", "20260301_090000", false, true},
		{"not sql", "readme.txt", "", false, false},
		{"missing direction", "20260301_090000_serial_state.sql", "", false, false},
		{"invalid format", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
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
		{"20260301_090000_serial_state.up.sql", "serial_state"},
		{"20260301_090000_serial_state_history.down.sql", "serial_state_history"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

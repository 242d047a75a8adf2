// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{})

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{})

	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	version, err := m.CurrentVersion()
	if err != nil || version != 0 {
		t.Errorf("CurrentVersion() = %d, %v; want 0", version, err)
	}
}

// TestUp_appliesInOrder verifies migrations are applied by version, not file order.
func TestUp_appliesInOrder(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V2__add_index.up.sql":  {Data: []byte(`CREATE INDEX idx_t_name ON t(name);`)},
		"V1__create_t.up.sql":   {Data: []byte(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT);`)},
		"V1__create_t.down.sql": {Data: []byte(`DROP TABLE t;`)},
		"README.md":             {Data: []byte(`ignored`)},
		"Vx__bad.up.sql":        {Data: []byte(`ignored`)},
	}
	m := NewMigrator(db, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	version, _ := m.CurrentVersion()
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "create_t" || len(applied[0].Checksum) != 64 {
		t.Errorf("applied = %+v", applied)
	}

	// Running Up again should skip applied migrations
	if err := m.Up(); err != nil {
		t.Errorf("Up() second time failed: %v", err)
	}
}

// TestDown verifies rollback of the latest version.
func TestDown(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V1__create_t.up.sql":   {Data: []byte(`CREATE TABLE t (id INTEGER PRIMARY KEY);`)},
		"V1__create_t.down.sql": {Data: []byte(`DROP TABLE t;`)},
	}
	m := NewMigrator(db, fsys)
	m.Initialize()
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	version, _ := m.CurrentVersion()
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='t'").Scan(&n)
	if n != 0 {
		t.Error("table t should be dropped")
	}

	if err := m.Down(); err == nil {
		t.Error("Down() with nothing applied should fail")
	}
}

// TestEmbeddedMigrations verifies the shipped schema parses.
func TestEmbeddedMigrations(t *testing.T) {
	m := NewMigrator(openMemory(t), Migrations)
	files, err := m.files(".up.sql")
	if err != nil {
		t.Fatalf("files() failed: %v", err)
	}
	if len(files) == 0 || files[0].version != 1 {
		t.Errorf("embedded migrations = %+v", files)
	}
}

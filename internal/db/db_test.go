// Package db tests for database connection management and key/value storage.
package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	apperrors "github.com/lightera/checkin-station/internal/errors"
)

// openTestStore opens a migrated database in a temp dir.
func openTestStore(t *testing.T) (*DB, *SQLiteStore) {
	t.Helper()
	database, err := OpenAndMigrate(t.TempDir())
	if err != nil {
		t.Fatalf("OpenAndMigrate() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewSQLiteStore(database.DB)
}

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err != nil || result != 1 {
		t.Errorf("Database query failed: %v (%d)", err, result)
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}
}

// TestOpen_nestedDir verifies the data directory is created.
func TestOpen_nestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	db.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

// =====================================================
// Migration Tests
// =====================================================

// TestMigrator_Up verifies the embedded migrations create kv_store.
func TestMigrator_Up(t *testing.T) {
	database, _ := openTestStore(t)

	var name string
	err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv_store'").Scan(&name)
	if err != nil {
		t.Fatalf("kv_store table not found: %v", err)
	}

	m := NewMigrator(database.DB, Migrations())
	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 1 || applied[0].Description != "kv_store" || len(applied[0].Checksum) != 64 {
		t.Errorf("applied = %+v", applied)
	}
}

// TestMigrator_Up_idempotent verifies running Up twice is a no-op.
func TestMigrator_Up_idempotent(t *testing.T) {
	database, _ := openTestStore(t)

	m := NewMigrator(database.DB, Migrations())
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}

	applied, _ := m.GetAppliedMigrations()
	if len(applied) != 1 {
		t.Errorf("got %d applied migrations, want 1", len(applied))
	}
}

// TestMigrator_orderAndSkip verifies sorting and that unrelated files are ignored.
func TestMigrator_orderAndSkip(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer database.Close()

	fsys := fstest.MapFS{
		"V2__second.up.sql":  {Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")},
		"V1__first.up.sql":   {Data: []byte("CREATE TABLE t (a TEXT);")},
		"V1__first.down.sql": {Data: []byte("DROP TABLE t;")},
		"README.md":          {Data: []byte("not a migration")},
		"Vx__bad.up.sql":     {Data: []byte("garbage")},
	}

	m := NewMigrator(database.DB, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if _, err := database.Exec("INSERT INTO t (a, b) VALUES ('x', 'y')"); err != nil {
		t.Errorf("migrations applied out of order: %v", err)
	}

	// V2 has no down file
	if err := m.Down(); err == nil || !strings.Contains(err.Error(), "no rollback migration") {
		t.Errorf("Down() error = %v, want missing rollback", err)
	}
}

// TestMigrator_Down verifies rolling back the kv_store migration.
func TestMigrator_Down(t *testing.T) {
	database, _ := openTestStore(t)

	m := NewMigrator(database.DB, Migrations())
	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, _ := m.CurrentVersion()
	if version != 0 {
		t.Errorf("CurrentVersion() = %d after Down, want 0", version)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() with nothing applied should fail")
	}
}

// TestRollbackLast verifies the maintenance rollback on a data directory.
func TestRollbackLast(t *testing.T) {
	dir := t.TempDir()
	database, err := OpenAndMigrate(dir)
	if err != nil {
		t.Fatalf("OpenAndMigrate() failed: %v", err)
	}
	database.Close()

	version, err := RollbackLast(dir)
	if err != nil {
		t.Fatalf("RollbackLast() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d after rollback, want 0", version)
	}
	if _, err := RollbackLast(dir); err == nil {
		t.Error("RollbackLast() with nothing applied should fail")
	}

	// The next start migrates back up.
	database, err = OpenAndMigrate(dir)
	if err != nil {
		t.Fatalf("OpenAndMigrate() after rollback failed: %v", err)
	}
	database.Close()
}

// =====================================================
// SQLiteStore Tests
// =====================================================

// TestSQLiteStore_SetGet verifies write then read, including overwrite.
func TestSQLiteStore_SetGet(t *testing.T) {
	_, store := openTestStore(t)

	if _, found, err := store.Get("missing"); err != nil || found {
		t.Errorf("Get(missing) = found %v, err %v", found, err)
	}

	if err := store.Set("offlineCheckinQueue", `[]`); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set("offlineCheckinQueue", `[{"id":"1"}]`); err != nil {
		t.Fatalf("Set() overwrite failed: %v", err)
	}

	value, found, err := store.Get("offlineCheckinQueue")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if value != `[{"id":"1"}]` {
		t.Errorf("Get() = %q", value)
	}
}

// TestSQLiteStore_checksumMismatch verifies tampered values are reported corrupt.
func TestSQLiteStore_checksumMismatch(t *testing.T) {
	database, store := openTestStore(t)

	if err := store.Set("k", "original"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if _, err := database.Exec("UPDATE kv_store SET value = 'tampered' WHERE key = 'k'"); err != nil {
		t.Fatalf("tamper failed: %v", err)
	}

	_, found, err := store.Get("k")
	if !found {
		t.Error("corrupt value should still be reported as found")
	}
	if !apperrors.Is(err, apperrors.ErrCorrupt) {
		t.Errorf("Get() error = %v, want STORAGE_CORRUPT", err)
	}
}

// TestSQLiteStore_Delete verifies deletion.
func TestSQLiteStore_Delete(t *testing.T) {
	_, store := openTestStore(t)

	store.Set("k", "v")
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, found, _ := store.Get("k"); found {
		t.Error("key still present after Delete")
	}
	if err := store.Delete("k"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

// TestSQLiteStore_closedDB verifies failures are wrapped as STORAGE_ERROR.
func TestSQLiteStore_closedDB(t *testing.T) {
	database, store := openTestStore(t)
	database.Close()

	if err := store.Set("k", "v"); !apperrors.Is(err, apperrors.ErrStorage) {
		t.Errorf("Set() error = %v, want STORAGE_ERROR", err)
	}
	if _, _, err := store.Get("k"); !apperrors.Is(err, apperrors.ErrStorage) {
		t.Errorf("Get() error = %v, want STORAGE_ERROR", err)
	}
}

// TestChecksum verifies the digest is stable and 16 hex chars.
func TestChecksum(t *testing.T) {
	a := Checksum("hello")
	if a != Checksum("hello") {
		t.Error("Checksum() not deterministic")
	}
	if len(a) != 16 {
		t.Errorf("len(Checksum()) = %d, want 16", len(a))
	}
	if a == Checksum("hello!") {
		t.Error("different values should have different checksums")
	}
}

// =====================================================
// MemoryStore Tests
// =====================================================

// TestMemoryStore_quota verifies the byte quota rejects large writes.
func TestMemoryStore_quota(t *testing.T) {
	store := NewMemoryStore(10)

	if err := store.Set("a", "12345"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set("b", "123456"); !apperrors.Is(err, apperrors.ErrStorage) {
		t.Errorf("Set() over quota error = %v, want STORAGE_ERROR", err)
	}
	// replacing a key only counts the new value
	if err := store.Set("a", "1234567890"); err != nil {
		t.Errorf("Set() replace within quota failed: %v", err)
	}
	if store.Writes() != 2 {
		t.Errorf("Writes() = %d, want 2", store.Writes())
	}
}

// TestMemoryStore_FailWrites verifies injected failures.
func TestMemoryStore_FailWrites(t *testing.T) {
	store := NewMemoryStore(0)
	cause := errors.New("disk full")

	store.FailWrites(cause)
	err := store.Set("k", "v")
	if !errors.Is(err, cause) {
		t.Errorf("Set() error = %v, want wrapped cause", err)
	}

	store.FailWrites(nil)
	if err := store.Set("k", "v"); err != nil {
		t.Errorf("Set() after restore failed: %v", err)
	}
	if v, found, _ := store.Get("k"); !found || v != "v" {
		t.Errorf("Get() = %q, %v", v, found)
	}
	store.Delete("k")
	if _, found, _ := store.Get("k"); found {
		t.Error("key present after Delete")
	}
}

package db

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/lightera/checkin-station/internal/errors"
)

// KeyValueStore is durable local key/value storage for station state.
// Get reports found=false for a missing key. A value whose stored checksum
// no longer matches returns an error with code STORAGE_CORRUPT.
type KeyValueStore interface {
	Get(key string) (value string, found bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Ensure implementations satisfy the interface at compile time.
var (
	_ KeyValueStore = (*SQLiteStore)(nil)
	_ KeyValueStore = (*MemoryStore)(nil)
)

// Checksum returns the hex xxhash64 digest stored next to each value.
func Checksum(value string) string {
	digest := xxhash.New()
	digest.WriteString(value)
	return hex.EncodeToString(digest.Sum(nil))
}

// SQLiteStore keeps key/value pairs in the kv_store table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value, checksum string
	err := s.db.QueryRow("SELECT value, checksum FROM kv_store WHERE key = ?", key).Scan(&value, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to read %q", key), err)
	}

	if Checksum(value) != checksum {
		return "", true, apperrors.New(apperrors.ErrCorrupt, fmt.Sprintf("checksum mismatch for %q", key))
	}

	return value, true, nil
}

// Set inserts or replaces the value under key.
func (s *SQLiteStore) Set(key, value string) error {
	query := `INSERT INTO kv_store (key, value, checksum, updated_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				checksum = excluded.checksum,
				updated_at = excluded.updated_at`
	if _, err := s.db.Exec(query, key, value, Checksum(value), time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to write %q", key), err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to delete %q", key), err)
	}
	return nil
}

// MemoryStore is an in-process KeyValueStore used by tests. It can simulate
// a full or failing disk.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	maxBytes int
	failErr  error
	writes   int
}

// NewMemoryStore creates an empty store. maxBytes limits the total size of
// stored values like a browser storage quota; 0 means unlimited.
func NewMemoryStore(maxBytes int) *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		maxBytes: maxBytes,
	}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	return value, ok, nil
}

// Set stores value under key, failing when the quota would be exceeded or
// a failure has been injected with FailWrites.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to write %q", key), m.failErr)
	}

	if m.maxBytes > 0 {
		total := len(value)
		for k, v := range m.values {
			if k != key {
				total += len(v)
			}
		}
		if total > m.maxBytes {
			return apperrors.New(apperrors.ErrStorage,
				fmt.Sprintf("quota exceeded writing %q (%d > %d bytes)", key, total, m.maxBytes))
		}
	}

	m.values[key] = value
	m.writes++
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// FailWrites makes every subsequent Set return err; nil restores writes.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Writes returns the number of successful Set calls.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

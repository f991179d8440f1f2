// Package perfdb implements the performance database: a persistent cache
// from problem fingerprint and solver id to a serialized performance config.
//
// Two variants exist. RamDB is the writable per-install cache, an in-memory
// table synced to a text file. ReadonlyRamDB ships factory-tuned defaults
// and rejects all writes.
package perfdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/pkg/dbtext"
)

// ErrReadOnly is returned by Store on a read-only database.
var ErrReadOnly = errors.New("perfdb: database is read-only")

// Database is the lookup/update contract shared by both variants. Absence
// of an entry is not an error: Load reports it through its bool result.
type Database interface {
	Load(key, solverID string) (string, bool)
	Store(key, solverID, config string) error
}

// RamDB is the mutable performance database. The in-memory table is the
// source of truth; Flush syncs it to the backing file with a full atomic
// rewrite. Store touches only the table under a short critical section, so
// concurrent writers to unrelated keys do not serialize on file I/O.
type RamDB struct {
	path string
	log  logger.Logger

	mu      sync.RWMutex
	entries map[string]dbtext.Record

	flushMu sync.Mutex
}

// NewRamDB creates an empty writable database backed by path. The file is
// not created until the first Flush.
func NewRamDB(path string, log logger.Logger) *RamDB {
	return &RamDB{
		path:    path,
		log:     logger.OrDiscard(log),
		entries: make(map[string]dbtext.Record),
	}
}

// LoadRamDB reads an existing database file into a writable database. A
// missing file yields an empty database; malformed lines are skipped with
// a diagnostic.
func LoadRamDB(path string, log logger.Logger) (*RamDB, error) {
	db := NewRamDB(path, log)
	if err := loadFile(path, db.entries, db.log); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *RamDB) Path() string { return db.path }

func (db *RamDB) Load(key, solverID string) (string, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec, ok := db.entries[key]
	if !ok {
		return "", false
	}
	cfg, ok := rec[solverID]
	return cfg, ok
}

// Store upserts the config for (key, solverID). Last writer wins.
func (db *RamDB) Store(key, solverID, config string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	rec, ok := db.entries[key]
	if !ok {
		rec = make(dbtext.Record)
		db.entries[key] = rec
	}
	rec[solverID] = config
	return nil
}

// Remove deletes the config for (key, solverID), if present.
func (db *RamDB) Remove(key, solverID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if rec, ok := db.entries[key]; ok {
		delete(rec, solverID)
		if len(rec) == 0 {
			delete(db.entries, key)
		}
	}
}

func (db *RamDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}

// Snapshot returns a deep copy of the table.
func (db *RamDB) Snapshot() map[string]dbtext.Record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return copyTable(db.entries)
}

// Merge overlays every entry of other onto db. Used to fold the user tier
// over the system tier; other's configs win on conflict.
func (db *RamDB) Merge(other map[string]dbtext.Record) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key, rec := range other {
		dst, ok := db.entries[key]
		if !ok {
			dst = make(dbtext.Record, len(rec))
			db.entries[key] = dst
		}
		for id, cfg := range rec {
			dst[id] = cfg
		}
	}
}

// Flush writes the whole table to the backing file. The write goes to a
// uniquely named temp file in the same directory and is renamed over the
// target, so a concurrent reader never observes a half-written file.
func (db *RamDB) Flush() error {
	db.flushMu.Lock()
	defer db.flushMu.Unlock()

	snapshot := db.Snapshot()

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("perfdb: create db directory: %w", err)
	}
	tmp := db.path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("perfdb: create temp db file: %w", err)
	}
	if err := dbtext.Write(f, snapshot); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("perfdb: write db file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("perfdb: close temp db file: %w", err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("perfdb: rename db file: %w", err)
	}
	db.log.Debug("perfdb flushed", "path", db.path, "keys", len(snapshot))
	return nil
}

// ReadonlyRamDB ships precomputed tuning results. It is fully loaded at
// construction and immutable afterwards, so lookups take no lock.
type ReadonlyRamDB struct {
	path    string
	entries map[string]dbtext.Record
}

// LoadReadonlyRamDB reads a shipped database file. A missing file yields an
// empty database; malformed lines are skipped with a diagnostic.
func LoadReadonlyRamDB(path string, log logger.Logger) (*ReadonlyRamDB, error) {
	entries := make(map[string]dbtext.Record)
	if err := loadFile(path, entries, logger.OrDiscard(log)); err != nil {
		return nil, err
	}
	return &ReadonlyRamDB{path: path, entries: entries}, nil
}

func (db *ReadonlyRamDB) Path() string { return db.path }

func (db *ReadonlyRamDB) Load(key, solverID string) (string, bool) {
	rec, ok := db.entries[key]
	if !ok {
		return "", false
	}
	cfg, ok := rec[solverID]
	return cfg, ok
}

// Store always fails: the read-only tier exists to ship factory defaults
// without allowing drift.
func (db *ReadonlyRamDB) Store(key, solverID, config string) error {
	return ErrReadOnly
}

func (db *ReadonlyRamDB) Len() int { return len(db.entries) }

// Snapshot returns a deep copy of the table.
func (db *ReadonlyRamDB) Snapshot() map[string]dbtext.Record {
	return copyTable(db.entries)
}

// Tiered chains a writable user database over an optional read-only system
// database. Loads consult the user tier first; stores go to the user tier.
type Tiered struct {
	User   *RamDB
	System *ReadonlyRamDB
}

func (t Tiered) Load(key, solverID string) (string, bool) {
	if t.User != nil {
		if cfg, ok := t.User.Load(key, solverID); ok {
			return cfg, true
		}
	}
	if t.System != nil {
		if cfg, ok := t.System.Load(key, solverID); ok {
			return cfg, true
		}
	}
	return "", false
}

func (t Tiered) Store(key, solverID, config string) error {
	if t.User == nil {
		return ErrReadOnly
	}
	return t.User.Store(key, solverID, config)
}

// Flush syncs the user tier to disk. The system tier never changes.
func (t Tiered) Flush() error {
	if t.User == nil {
		return nil
	}
	return t.User.Flush()
}

func loadFile(path string, entries map[string]dbtext.Record, log logger.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("perfdb: open db file: %w", err)
	}
	defer func() { _ = f.Close() }()

	err = dbtext.Scan(f,
		func(key string, rec dbtext.Record) {
			entries[key] = rec
		},
		func(lineNo int, line string, err error) {
			log.Warn("perfdb: skipping malformed entry", "path", path, "line", lineNo, "err", err)
		})
	if err != nil {
		return fmt.Errorf("perfdb: read db file: %w", err)
	}
	return nil
}

func copyTable(src map[string]dbtext.Record) map[string]dbtext.Record {
	out := make(map[string]dbtext.Record, len(src))
	for key, rec := range src {
		cp := make(dbtext.Record, len(rec))
		for id, cfg := range rec {
			cp[id] = cfg
		}
		out[key] = cp
	}
	return out
}

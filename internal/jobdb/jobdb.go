// Package jobdb persists fingerprint-keyed JobRecords in a BadgerDB
// store accessed through badgerhold, grounded on
// ternarybob-quaero's internal/storage/badger (connection.go,
// job_storage.go). Opened at schedule start, closed at schedule end
// (spec.md §4.6); a single table keyed by fingerprint stands in for the
// spec's "single persistent relational store".
package jobdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Record is one completed node's JobDB entry (spec.md §3 JobRecord).
type Record struct {
	Fingerprint string
	TaskName    string
	WorkdirPath string
	CreatedAt   time.Time
	Status      string
	// RunID identifies the Sched.Run invocation that produced this
	// record, so entries from the same schedule run can be correlated
	// after the fact.
	RunID string
}

const (
	StatusCompleted = "completed"
)

// DB wraps the badgerhold store. Concurrent writers are not supported
// (spec.md §4.6); callers are expected to serialize access the same way
// TaskSched's sequential executor does.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (creating if absent) the Badger-backed JobDB at path.
func Open(path string, logger arbor.ILogger) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create jobdb directory: %w", err)
		}
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open jobdb at %s: %w", path, err)
	}

	if logger != nil {
		logger.Debug().Str("path", path).Msg("jobdb opened")
	}
	return &DB{store: store, logger: logger}, nil
}

// Close closes the underlying store.
func (d *DB) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

// Lookup returns the record for fingerprint, or (nil, nil) on a miss.
func (d *DB) Lookup(fingerprint string) (*Record, error) {
	var rec Record
	err := d.store.Get(fingerprint, &rec)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobdb lookup %s: %w", fingerprint, err)
	}
	return &rec, nil
}

// Insert records a successfully completed node. Invoked after a task's
// Run returns success (spec.md §4.7 step 5).
func (d *DB) Insert(rec *Record) error {
	if rec.Fingerprint == "" {
		return fmt.Errorf("jobdb insert: record has no fingerprint")
	}
	rec.Status = StatusCompleted
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := d.store.Upsert(rec.Fingerprint, rec); err != nil {
		return fmt.Errorf("jobdb insert %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// Invalidate removes a record (spec.md §4.6, invoked on clean).
func (d *DB) Invalidate(fingerprint string) error {
	if err := d.store.Delete(fingerprint, &Record{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("jobdb invalidate %s: %w", fingerprint, err)
	}
	return nil
}

// InvalidateAll removes every record (spec.md §4.6, invoked on
// clean-all).
func (d *DB) InvalidateAll() error {
	if err := d.store.DeleteMatching(&Record{}, nil); err != nil {
		return fmt.Errorf("jobdb invalidate-all: %w", err)
	}
	return nil
}

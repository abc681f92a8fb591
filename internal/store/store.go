// Package store implements LocalStore, the per-node durable record store.
//
// LocalStore keeps every key's most recent Record — value or tombstone —
// under a single pebble keyspace using the fused (timestamp, optional value)
// encoding from package record. Pebble's own key ordering gives the
// ascending-order range iteration the spec requires without a secondary
// timestamp index.
package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"

	"kvshard/internal/record"
)

// ErrNotFound is returned by Get when the key has no record at all — not to
// be confused with a present tombstone, which Get returns successfully.
var ErrNotFound = errors.New("store: key not found")

// LocalStore is a durable, ordered, byte-keyed map of Records. It is safe
// for concurrent use; pebble serializes its own writes internally, and a
// single physical store must never be opened twice within a process.
type LocalStore struct {
	db        *pebble.DB
	log       *logrus.Entry
	dir       string
	temporary bool
}

// Options configures Open.
type Options struct {
	// Dir is the on-disk directory for the pebble database. If empty, Open
	// allocates a fresh temporary directory and Close removes it.
	Dir string
	Log *logrus.Entry
}

// Open creates or opens a LocalStore at opts.Dir.
func Open(opts Options) (*LocalStore, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dir := opts.Dir
	temporary := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "kvshard-store-")
		if err != nil {
			return nil, fmt.Errorf("store: create temp dir: %w", err)
		}
		dir = tmp
		temporary = true
	}

	db, err := pebble.Open(dir, &pebble.Options{
		Logger: &pebbleLogger{log: log},
	})
	if err != nil {
		if temporary {
			_ = os.RemoveAll(dir)
		}
		return nil, fmt.Errorf("store: open pebble at %q: %w", dir, err)
	}

	return &LocalStore{db: db, log: log, dir: dir, temporary: temporary}, nil
}

// Get returns the current record for key, or ErrNotFound if the key has
// never been written (a present tombstone is returned successfully, not as
// an error).
func (s *LocalStore) Get(key []byte) (record.Record, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return record.Record{}, ErrNotFound
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("store: get %q: %w", key, err)
	}
	defer closer.Close()

	r, err := record.Decode(val)
	if err != nil {
		return record.Record{}, fmt.Errorf("store: decode %q: %w", key, err)
	}
	return r, nil
}

// Upsert unconditionally writes r for key, including tombstones, replacing
// whatever is already there. LocalStore.Upsert never compares timestamps
// itself, matching the spec's "unconditionally writes" contract, and the
// Coordinator's write path does not compare them before calling it either.
func (s *LocalStore) Upsert(key []byte, r record.Record) error {
	if err := s.db.Set(key, record.Encode(r), pebble.Sync); err != nil {
		return fmt.Errorf("store: upsert %q: %w", key, err)
	}
	return nil
}

// Entry is one (key, Record) pair yielded by Range.
type Entry struct {
	Key    []byte
	Record record.Record
}

// Range returns entries in ascending key order starting at fromKey
// (inclusive). If toKey is non-nil, iteration stops before it (exclusive);
// otherwise it runs to the end of the map. The returned slice is a snapshot
// at call time — re-invoke Range to continue from where a prior call left
// off.
func (s *LocalStore) Range(fromKey, toKey []byte) ([]Entry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: fromKey,
		UpperBound: toKey,
	})
	if err != nil {
		return nil, fmt.Errorf("store: range iterator: %w", err)
	}
	defer iter.Close()

	var entries []Entry
	for valid := iter.First(); valid; valid = iter.Next() {
		r, err := record.Decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("store: decode %q during range: %w", iter.Key(), err)
		}
		key := append([]byte(nil), iter.Key()...)
		entries = append(entries, Entry{Key: key, Record: r})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: range iteration: %w", err)
	}
	return entries, nil
}

// Compact reorganizes on-disk storage and may permanently drop tombstones
// older than horizon. A zero horizon disables tombstone pruning and only
// runs pebble's own compaction.
func (s *LocalStore) Compact(horizon time.Duration) error {
	if horizon > 0 {
		if err := s.pruneTombstones(horizon); err != nil {
			return err
		}
	}
	if err := s.db.Compact(nil, nil, true); err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	return nil
}

func (s *LocalStore) pruneTombstones(horizon time.Duration) error {
	cutoff := time.Now().Add(-horizon)

	entries, err := s.Range(nil, nil)
	if err != nil {
		return fmt.Errorf("store: prune scan: %w", err)
	}

	for _, e := range entries {
		if !e.Record.Tombstone || e.Record.Timestamp.After(cutoff) {
			continue
		}
		if err := s.db.Delete(e.Key, pebble.Sync); err != nil {
			return fmt.Errorf("store: prune delete %q: %w", e.Key, err)
		}
	}
	return nil
}

// Close releases the underlying pebble handle. If Open allocated a temporary
// directory, Close also removes it.
func (s *LocalStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	if s.temporary {
		if err := os.RemoveAll(s.dir); err != nil {
			return fmt.Errorf("store: remove temp dir %q: %w", s.dir, err)
		}
	}
	return nil
}

// pebbleLogger adapts logrus to pebble's minimal Logger interface.
type pebbleLogger struct {
	log *logrus.Entry
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf(format, args...)
}

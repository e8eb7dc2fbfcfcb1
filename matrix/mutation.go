// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/chronosdb/tdm/internal/mathutil"
	"github.com/chronosdb/tdm/kv"
)

// tsIndexMarker is the value stored for every (ts, user_key) secondary
// index entry; the key alone carries the information the index exists for.
var tsIndexMarker = []byte{0x01}

// Mutation is one (user_key -> value|tombstone) write within a Put batch.
// Tombstone distinguishes a deletion from a live, possibly empty, payload
// so that an empty byte string is never confused with absence.
type Mutation struct {
	Key       []byte
	Payload   []byte
	Tombstone bool
}

// Put atomically commits a batch of mutations at timestamp t. An empty
// batch is a no-op: no version bump, no write. Require t >= creation
// timestamp and t > the matrix's last global timestamp (monotonic across
// every write this matrix has accepted).
func (m *Matrix) Put(ctx context.Context, t int64, mutations []Mutation) error {
	if t < 0 {
		return newErr(InvalidArgument, "Put", "timestamp must be non-negative")
	}
	if len(mutations) == 0 {
		return nil
	}
	for _, mu := range mutations {
		if len(mu.Key) == 0 {
			return newErr(InvalidArgument, "Put", "mutation key must be non-empty")
		}
	}
	if err := m.checkOpenForWrite("Put"); err != nil {
		return err
	}
	if t < m.creationTS {
		return newErr(InvalidArgument, "Put", "timestamp precedes creation timestamp")
	}
	if t <= m.lastGlobalTS.Load() {
		return newErr(MonotonicityViolation, "Put", "timestamp does not exceed last global timestamp")
	}

	table := primaryTable(m.keyspace)
	tsTable := tsIndexTable(m.keyspace)
	err := m.db.Update(ctx, func(tx kv.RwTx) error {
		for _, mu := range mutations {
			entry := Entry{Key: mu.Key, Timestamp: t, Payload: mu.Payload}
			if mu.Tombstone {
				entry.Kind = Tombstone
			}
			if err := tx.Put(table, encodeKey(mu.Key, t), encodeValue(entry)); err != nil {
				return err
			}
			if err := tx.Put(tsTable, encodeTSIndexKey(t, mu.Key), tsIndexMarker); err != nil {
				return err
			}
		}
		return tx.Put(table, metaKey, encodeMeta(m.creationTS, t))
	})
	if err != nil {
		return asMatrixError(err, "Put")
	}

	m.lastGlobalTS.Store(t)
	m.tsIdx.recordLocal(t)
	writtenBytes := 0
	for _, mu := range mutations {
		m.lastCommit.Store(string(mu.Key), t)
		writtenBytes += len(mu.Key) + len(mu.Payload)
	}
	m.stats.recordWrite(len(mutations), writtenBytes)
	m.metrics.putBatch.WithLabelValues(m.keyspace).Observe(float64(len(mutations)))
	return nil
}

// InsertEntries bulk-loads entries that may span multiple timestamps, the
// path used by replication and import. Preserves I1 per key; the whole
// batch is rejected if any entry's timestamp precedes the creation
// timestamp, or an entry already exists at the same (key, timestamp) with
// a different payload. Re-inserting an identical entry is a no-op for
// that entry, not a conflict.
func (m *Matrix) InsertEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Key) == 0 {
			return newErr(InvalidArgument, "InsertEntries", "entry key must be non-empty")
		}
		if e.Timestamp < 0 {
			return newErr(InvalidArgument, "InsertEntries", "entry timestamp must be non-negative")
		}
	}
	if err := m.checkOpenForWrite("InsertEntries"); err != nil {
		return err
	}

	table := primaryTable(m.keyspace)
	tsTable := tsIndexTable(m.keyspace)
	maxTS := m.lastGlobalTS.Load()
	err := m.db.Update(ctx, func(tx kv.RwTx) error {
		for _, e := range entries {
			if e.Timestamp < m.creationTS {
				return newErr(Conflict, "InsertEntries", "entry timestamp precedes creation timestamp")
			}
			newValue := encodeValue(e)
			existing, gerr := tx.Get(table, encodeKey(e.Key, e.Timestamp))
			if gerr != nil && !isNotFound(gerr) {
				return wrapErr(StorageFailure, "InsertEntries", "reading existing entry", gerr)
			}
			if gerr == nil && !bytes.Equal(existing, newValue) {
				return newErr(Conflict, "InsertEntries", "entry already exists with a different payload")
			}
			if gerr == nil {
				continue // identical entry already present; idempotent no-op
			}
			if err := tx.Put(table, encodeKey(e.Key, e.Timestamp), newValue); err != nil {
				return err
			}
			if err := tx.Put(tsTable, encodeTSIndexKey(e.Timestamp, e.Key), tsIndexMarker); err != nil {
				return err
			}
			maxTS = mathutil.Max64(maxTS, e.Timestamp)
		}
		return tx.Put(table, metaKey, encodeMeta(m.creationTS, maxTS))
	})
	if err != nil {
		return asMatrixError(err, "InsertEntries")
	}

	m.lastGlobalTS.Store(maxTS)
	writtenBytes := 0
	for _, e := range entries {
		m.lastCommit.Delete(string(e.Key))
		m.tsIdx.recordLocal(e.Timestamp)
		writtenBytes += len(e.Key) + len(e.Payload)
	}
	m.stats.recordWrite(len(entries), writtenBytes)
	return nil
}

func isNotFound(err error) bool {
	return err == kv.ErrKeyNotFound
}

// Rollback removes every entry with timestamp > T, clamping T up to the
// creation timestamp if it is smaller, invalidates the last-commit cache
// and timestamp-distinctness cache, and sets the last global timestamp to
// max(T, creation_timestamp). Permitted only while the matrix is Open.
func (m *Matrix) Rollback(ctx context.Context, T int64) error {
	if T < 0 {
		return newErr(InvalidArgument, "Rollback", "timestamp must be non-negative")
	}
	if err := m.checkOpenForWrite("Rollback"); err != nil {
		return err
	}
	effective := mathutil.ClampFloor(T, m.creationTS)

	if effective >= mathutil.MaxInt64 {
		// Nothing has a timestamp beyond MaxInt64; rolling back to it can
		// only ever be a no-op, and must not be mistaken for "from the
		// start of the table" below.
		m.lastGlobalTS.Store(effective)
		return nil
	}

	table := primaryTable(m.keyspace)
	tsTable := tsIndexTable(m.keyspace)
	err := m.db.Update(ctx, func(tx kv.RwTx) error {
		upper := encodeTimestamp(effective + 1)
		doomedFrom := upper[:]
		rng, rerr := tx.Range(tsTable, doomedFrom, nil)
		if rerr != nil {
			return rerr
		}
		type pair struct {
			ts  int64
			key []byte
		}
		var doomed []pair
		for k := range rng {
			ts, userKey, derr := decodeTSIndexKey(k)
			if derr != nil {
				return derr
			}
			doomed = append(doomed, pair{ts, userKey})
		}
		for _, p := range doomed {
			if err := tx.Delete(table, encodeKey(p.key, p.ts)); err != nil {
				return err
			}
		}
		if err := tx.DeleteRange(tsTable, doomedFrom, nil); err != nil {
			return err
		}
		return tx.Put(table, metaKey, encodeMeta(m.creationTS, effective))
	})
	if err != nil {
		return asMatrixError(err, "Rollback")
	}

	m.lastGlobalTS.Store(effective)
	m.lastCommit.Range(func(k, _ any) bool {
		m.lastCommit.Delete(k)
		return true
	})
	m.tsIdx.invalidate()
	m.stats.recordRollback()
	m.metrics.rollbacks.Inc()
	m.log.Info("rollback complete", zap.Int64("effective_timestamp", effective))
	m.logStats()
	return nil
}

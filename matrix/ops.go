// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"bytes"
	"context"
	"iter"

	"github.com/chronosdb/tdm/internal/mathutil"
	"github.com/chronosdb/tdm/kv"
)

// RangedResult is the result of GetRanged: the effective value of a key at
// a timestamp, plus the half-open validity period [Lo, Hi) during which
// that same answer holds.
type RangedResult struct {
	Value   []byte
	Present bool
	Lo      int64
	Hi      int64 // mathutil.MaxInt64 represents +infinity
}

func isMetaKey(k []byte) bool { return bytes.Equal(k, metaKey) }

// floorEntry returns the greatest entry for userKey with timestamp <= t.
func (m *Matrix) floorEntry(tx kv.Tx, userKey []byte, t int64) (Entry, bool, *Error) {
	cur, err := tx.Cursor(primaryTable(m.keyspace))
	if err != nil {
		return Entry{}, false, wrapErr(StorageFailure, "floorEntry", "opening cursor", err)
	}
	defer cur.Close()

	seekKey := encodeKey(userKey, t)
	k, v, err := cur.Seek(seekKey)
	if err != nil {
		return Entry{}, false, wrapErr(StorageFailure, "floorEntry", "seeking", err)
	}
	if k != nil && bytes.Equal(k, seekKey) {
		return entryFrom(userKey, t, v)
	}

	var pk, pv []byte
	if k == nil {
		pk, pv, err = cur.Last()
	} else {
		pk, pv, err = cur.Prev()
	}
	if err != nil {
		return Entry{}, false, wrapErr(StorageFailure, "floorEntry", "stepping back", err)
	}
	if pk == nil || isMetaKey(pk) {
		return Entry{}, false, nil
	}
	uk, ts, derr := decodeKey(pk)
	if derr != nil {
		return Entry{}, false, wrapErr(StorageFailure, "floorEntry", "decoding key", derr)
	}
	if !bytes.Equal(uk, userKey) {
		return Entry{}, false, nil
	}
	return entryFrom(userKey, ts, pv)
}

// ceilingEntry returns the least entry for userKey with timestamp >= t.
func (m *Matrix) ceilingEntry(tx kv.Tx, userKey []byte, t int64) (Entry, bool, *Error) {
	cur, err := tx.Cursor(primaryTable(m.keyspace))
	if err != nil {
		return Entry{}, false, wrapErr(StorageFailure, "ceilingEntry", "opening cursor", err)
	}
	defer cur.Close()

	k, v, err := cur.Seek(encodeKey(userKey, t))
	if err != nil {
		return Entry{}, false, wrapErr(StorageFailure, "ceilingEntry", "seeking", err)
	}
	if k == nil {
		return Entry{}, false, nil
	}
	uk, ts, derr := decodeKey(k)
	if derr != nil {
		return Entry{}, false, wrapErr(StorageFailure, "ceilingEntry", "decoding key", derr)
	}
	if !bytes.Equal(uk, userKey) {
		return Entry{}, false, nil
	}
	return entryFrom(userKey, ts, v)
}

func entryFrom(userKey []byte, ts int64, raw []byte) (Entry, bool, *Error) {
	kind, payload, derr := decodeValue(raw)
	if derr != nil {
		return Entry{}, false, derr
	}
	return Entry{Key: userKey, Timestamp: ts, Kind: kind, Payload: payload}, true, nil
}

func validateReadArgs(op string, t int64, userKey []byte, requireKey bool) *Error {
	if t < 0 {
		return newErr(InvalidArgument, op, "timestamp must be non-negative")
	}
	if requireKey && len(userKey) == 0 {
		return newErr(InvalidArgument, op, "user key must be non-empty")
	}
	return nil
}

// Get returns the effective value of userKey at timestamp t, or (nil,
// false) if the key is absent (never written, or its floor entry at t is
// a tombstone).
func (m *Matrix) Get(ctx context.Context, t int64, userKey []byte) ([]byte, bool, error) {
	if err := validateReadArgs("Get", t, userKey, true); err != nil {
		return nil, false, err
	}
	if err := m.checkOpenForRead("Get"); err != nil {
		return nil, false, err
	}
	m.observeRead("get")

	var value []byte
	var present bool
	err := m.db.View(ctx, func(tx kv.Tx) error {
		entry, ok, ferr := m.floorEntry(tx, userKey, t)
		if ferr != nil {
			return ferr
		}
		if ok && !entry.isTombstone() {
			value, present = entry.Payload, true
		}
		return nil
	})
	if err != nil {
		return nil, false, asMatrixError(err, "Get")
	}
	return value, present, nil
}

// GetRanged is Get plus the validity period over which the answer holds.
func (m *Matrix) GetRanged(ctx context.Context, t int64, userKey []byte) (RangedResult, error) {
	if err := validateReadArgs("GetRanged", t, userKey, true); err != nil {
		return RangedResult{}, err
	}
	if err := m.checkOpenForRead("GetRanged"); err != nil {
		return RangedResult{}, err
	}
	m.observeRead("get_ranged")

	var result RangedResult
	err := m.db.View(ctx, func(tx kv.Tx) error {
		floor, ok, ferr := m.floorEntry(tx, userKey, t)
		if ferr != nil {
			return ferr
		}
		if ok {
			result.Lo = floor.Timestamp
			if !floor.isTombstone() {
				result.Present, result.Value = true, floor.Payload
			}
		} else {
			result.Lo = m.creationTS
		}

		result.Hi = mathutil.MaxInt64
		if t < mathutil.MaxInt64 {
			ceil, cok, cerr := m.ceilingEntry(tx, userKey, t+1)
			if cerr != nil {
				return cerr
			}
			if cok {
				result.Hi = ceil.Timestamp
			}
		}
		return nil
	})
	if err != nil {
		return RangedResult{}, asMatrixError(err, "GetRanged")
	}
	return result, nil
}

// LastCommitTimestamp returns the greatest timestamp ever written for
// userKey (values and tombstones alike), or mathutil.NoCommit if userKey
// has no entry. Backed by an in-memory cache invalidated by Rollback.
func (m *Matrix) LastCommitTimestamp(ctx context.Context, userKey []byte) (int64, error) {
	if len(userKey) == 0 {
		return 0, newErr(InvalidArgument, "LastCommitTimestamp", "user key must be non-empty")
	}
	if err := m.checkOpenForRead("LastCommitTimestamp"); err != nil {
		return 0, err
	}
	if v, ok := m.lastCommit.Load(string(userKey)); ok {
		return v.(int64), nil
	}

	var ts int64 = mathutil.NoCommit
	err := m.db.View(ctx, func(tx kv.Tx) error {
		entry, ok, ferr := m.floorEntry(tx, userKey, mathutil.MaxInt64)
		if ferr != nil {
			return ferr
		}
		if ok {
			ts = entry.Timestamp
		}
		return nil
	})
	if err != nil {
		return 0, asMatrixError(err, "LastCommitTimestamp")
	}
	m.lastCommit.Store(string(userKey), ts)
	return ts, nil
}

// walkDistinctUserKeys lazily yields every distinct user key in the
// primary table in lexicographic order, skipping the reserved metadata
// record. A decode failure (storage corruption) logs and ends iteration
// early rather than propagating, matching the error-silent iter.Seq idiom.
func (m *Matrix) walkDistinctUserKeys(cur kv.Cursor) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		k, _, err := cur.First()
		for {
			if err != nil {
				m.log.Warn("walkDistinctUserKeys: cursor error", zapErr(err))
				return
			}
			if k == nil {
				return
			}
			if isMetaKey(k) {
				k, _, err = cur.Next()
				continue
			}
			userKey, _, derr := decodeKey(k)
			if derr != nil {
				m.log.Warn("walkDistinctUserKeys: corrupt key", zapErr(derr))
				return
			}
			if !yield(userKey) {
				return
			}
			k, _, err = cur.Seek(userKeyUpperBound(userKey))
		}
	}
}

// Keys lazily yields every user key whose floor entry at t is a live
// value, in lexicographic order.
func (m *Matrix) Keys(ctx context.Context, t int64) (iter.Seq[[]byte], error) {
	if err := validateReadArgs("Keys", t, nil, false); err != nil {
		return nil, err
	}
	if err := m.checkOpenForRead("Keys"); err != nil {
		return nil, err
	}
	m.observeRead("keys")

	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return nil, wrapErr(StorageFailure, "Keys", "opening read transaction", err)
	}
	return func(yield func([]byte) bool) {
		defer tx.Rollback()
		cur, err := tx.Cursor(primaryTable(m.keyspace))
		if err != nil {
			return
		}
		defer cur.Close()
		for uk := range m.walkDistinctUserKeys(cur) {
			entry, ok, ferr := m.floorEntry(tx, uk, t)
			if ferr != nil {
				return
			}
			if ok && !entry.isTombstone() {
				if !yield(uk) {
					return
				}
			}
		}
	}, nil
}

// AllKeys lazily yields every user key that ever appeared in the keyspace
// (including keys whose only surviving entries are tombstones), excluding
// keys a Rollback has fully erased, in lexicographic order.
func (m *Matrix) AllKeys(ctx context.Context) (iter.Seq[[]byte], error) {
	if err := m.checkOpenForRead("AllKeys"); err != nil {
		return nil, err
	}
	m.observeRead("all_keys")

	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return nil, wrapErr(StorageFailure, "AllKeys", "opening read transaction", err)
	}
	return func(yield func([]byte) bool) {
		defer tx.Rollback()
		cur, err := tx.Cursor(primaryTable(m.keyspace))
		if err != nil {
			return
		}
		defer cur.Close()
		for uk := range m.walkDistinctUserKeys(cur) {
			if !yield(uk) {
				return
			}
		}
	}, nil
}

// History lazily yields, in descending order, every timestamp at or below
// t_max at which userKey was written (values and tombstones alike).
func (m *Matrix) History(ctx context.Context, tMax int64, userKey []byte) (iter.Seq[int64], error) {
	if err := validateReadArgs("History", tMax, userKey, true); err != nil {
		return nil, err
	}
	if err := m.checkOpenForRead("History"); err != nil {
		return nil, err
	}
	m.observeRead("history")

	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return nil, wrapErr(StorageFailure, "History", "opening read transaction", err)
	}
	return func(yield func(int64) bool) {
		defer tx.Rollback()
		entry, ok, ferr := m.floorEntry(tx, userKey, tMax)
		if ferr != nil || !ok {
			return
		}
		if !yield(entry.Timestamp) {
			return
		}
		cur, cerr := tx.Cursor(primaryTable(m.keyspace))
		if cerr != nil {
			return
		}
		defer cur.Close()
		if _, _, serr := cur.Seek(encodeKey(userKey, entry.Timestamp)); serr != nil {
			return
		}
		for {
			pk, _, perr := cur.Prev()
			if perr != nil || pk == nil || isMetaKey(pk) {
				return
			}
			uk, ts, derr := decodeKey(pk)
			if derr != nil || !bytes.Equal(uk, userKey) {
				return
			}
			if !yield(ts) {
				return
			}
		}
	}, nil
}

// GetModificationsBetween lazily yields every (user_key, ts) pair with a
// stored entry at a timestamp in [tLo, tHi], ascending by (ts, user_key).
func (m *Matrix) GetModificationsBetween(ctx context.Context, tLo, tHi int64) (iter.Seq2[[]byte, int64], error) {
	if tLo < 0 || tHi < tLo {
		return nil, newErr(InvalidArgument, "GetModificationsBetween", "require 0 <= t_lo <= t_hi")
	}
	if err := m.checkOpenForRead("GetModificationsBetween"); err != nil {
		return nil, err
	}
	m.observeRead("get_modifications_between")

	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return nil, wrapErr(StorageFailure, "GetModificationsBetween", "opening read transaction", err)
	}
	from := encodeTimestamp(tLo)
	var to []byte
	if tHi < mathutil.MaxInt64 {
		upper := encodeTimestamp(tHi + 1)
		to = upper[:]
	}
	return func(yield func([]byte, int64) bool) {
		defer tx.Rollback()
		rng, rerr := tx.Range(tsIndexTable(m.keyspace), from[:], to)
		if rerr != nil {
			return
		}
		for k := range rng {
			ts, uk, derr := decodeTSIndexKey(k)
			if derr != nil {
				m.log.Warn("GetModificationsBetween: corrupt ts-index key", zapErr(derr))
				return
			}
			if !yield(uk, ts) {
				return
			}
		}
	}, nil
}

// GetCommitTimestampsBetween lazily yields, ascending, the distinct
// timestamps at which any entry was written in [tLo, tHi].
func (m *Matrix) GetCommitTimestampsBetween(ctx context.Context, tLo, tHi int64) (iter.Seq[int64], error) {
	if tLo < 0 || tHi < tLo {
		return nil, newErr(InvalidArgument, "GetCommitTimestampsBetween", "require 0 <= t_lo <= t_hi")
	}
	if err := m.checkOpenForRead("GetCommitTimestampsBetween"); err != nil {
		return nil, err
	}
	m.observeRead("get_commit_timestamps_between")

	distinct, derr := m.tsIdx.distinctBetween(ctx, m.db, m.keyspace, tLo, tHi)
	if derr != nil {
		return nil, derr
	}
	return func(yield func(int64) bool) {
		for _, ts := range distinct {
			if !yield(ts) {
				return
			}
		}
	}, nil
}

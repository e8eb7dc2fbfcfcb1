// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/chronosdb/tdm/internal/mathutil"
	"github.com/chronosdb/tdm/kv"
)

// tsIndex maintains the secondary (ts, user_key) -> {} index that backs
// get_modifications_between / get_commit_timestamps_between without a full
// primary-table scan, plus an in-memory roaring64 bitmap of every distinct
// commit timestamp the keyspace has ever recorded. The bitmap turns
// get_commit_timestamps_between's "distinct timestamps in [lo, hi]" query
// into a bounded iteration over set bits instead of a scan-and-dedup pass
// over the secondary index on every call.
type tsIndex struct {
	mu       sync.Mutex
	bitmap   *roaring64.Bitmap
	hydrated bool
}

func newTSIndex() *tsIndex {
	return &tsIndex{bitmap: roaring64.New()}
}

// recordLocal marks ts as present without touching storage; callers add it
// after a successful Put/InsertEntries commit.
func (idx *tsIndex) recordLocal(ts int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.hydrated {
		idx.bitmap.Add(uint64(ts))
	}
}

// invalidate is called after Rollback, whose effect on the distinct-
// timestamp set is cheaper to recompute lazily than to patch incrementally.
func (idx *tsIndex) invalidate() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.hydrated = false
	idx.bitmap.Clear()
}

func (idx *tsIndex) ensureHydrated(ctx context.Context, db kv.RwDB, keyspace string) *Error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.hydrated {
		return nil
	}
	bmp := roaring64.New()
	err := db.View(ctx, func(tx kv.Tx) error {
		rng, rerr := tx.Range(tsIndexTable(keyspace), nil, nil)
		if rerr != nil {
			return rerr
		}
		for k := range rng {
			ts, _, derr := decodeTSIndexKey(k)
			if derr != nil {
				return derr
			}
			bmp.Add(uint64(ts))
		}
		return nil
	})
	if err != nil {
		return wrapErr(StorageFailure, "hydrateTSIndex", "scanning secondary timestamp index", err)
	}
	idx.bitmap = bmp
	idx.hydrated = true
	return nil
}

// distinctBetween returns the distinct timestamps in [tLo, tHi], ascending.
func (idx *tsIndex) distinctBetween(ctx context.Context, db kv.RwDB, keyspace string, tLo, tHi int64) ([]int64, *Error) {
	if err := idx.ensureHydrated(ctx, db, keyspace); err != nil {
		return nil, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rangeBmp := roaring64.New()
	if tHi >= mathutil.MaxInt64 {
		rangeBmp.AddRange(uint64(tLo), uint64(mathutil.MaxInt64)+1)
	} else {
		rangeBmp.AddRange(uint64(tLo), uint64(tHi)+1) // AddRange's hi bound is exclusive
	}
	rangeBmp.And(idx.bitmap)
	out := make([]int64, 0, rangeBmp.GetCardinality())
	it := rangeBmp.Iterator() // roaring64 iterates set bits in ascending order
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out, nil
}

// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chronosdb/tdm/internal/mathutil"
	"github.com/chronosdb/tdm/internal/tdmtest"
	"github.com/chronosdb/tdm/kv/memkv"
	"github.com/chronosdb/tdm/matrix"
)

// writeOp is one Put this test issues against a fresh matrix, built with a
// strictly increasing timestamp so every generated sequence is legal.
type writeOp struct {
	ts        int64
	mutations []matrix.Mutation
}

func genWriteOps(t *rapid.T) []writeOp {
	n := rapid.IntRange(1, 12).Draw(t, "numOps")
	ops := make([]writeOp, n)
	ts := int64(0)
	for i := 0; i < n; i++ {
		ts += rapid.Int64Range(1, 5).Draw(t, "tsDelta")
		numMuts := rapid.IntRange(1, 4).Draw(t, "numMuts")
		muts := make([]matrix.Mutation, numMuts)
		for j := 0; j < numMuts; j++ {
			muts[j] = matrix.Mutation{
				Key:       tdmtest.UserKey(t),
				Payload:   tdmtest.Payload(t),
				Tombstone: tdmtest.Bool(t),
			}
		}
		ops[i] = writeOp{ts: ts, mutations: muts}
	}
	return ops
}

// TestInvariant_HistoryStrictlyMonotonic checks property 1: for every user
// key, History in ascending order is strictly increasing (no duplicate or
// out-of-order timestamps ever surface).
func TestInvariant_HistoryStrictlyMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		ops := genWriteOps(rt)
		m, err := matrix.Open(ctx, memkv.New(), "default", 0, matrix.Options{})
		require.NoError(rt, err)
		defer m.Close()

		touched := map[string]bool{}
		for _, op := range ops {
			require.NoError(rt, m.Put(ctx, op.ts, op.mutations))
			for _, mu := range op.mutations {
				touched[string(mu.Key)] = true
			}
		}

		for k := range touched {
			seq, err := m.History(ctx, mathutil.MaxInt64, []byte(k))
			require.NoError(rt, err)
			var prev int64 = mathutil.MaxInt64
			first := true
			seq(func(ts int64) bool {
				if !first {
					require.Less(rt, ts, prev, "history must descend strictly")
				}
				first, prev = false, ts
				return true
			})
		}
	})
}

// TestInvariant_GetRangedContainsGet checks property 2: for every (t, k),
// Get(t, k) equals GetRanged(t, k).Value, and t always falls in the
// returned [Lo, Hi) period.
func TestInvariant_GetRangedContainsGet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		ops := genWriteOps(rt)
		m, err := matrix.Open(ctx, memkv.New(), "default", 0, matrix.Options{})
		require.NoError(rt, err)
		defer m.Close()

		var keys []string
		for _, op := range ops {
			require.NoError(rt, m.Put(ctx, op.ts, op.mutations))
			for _, mu := range op.mutations {
				keys = append(keys, string(mu.Key))
			}
		}
		if len(keys) == 0 {
			return
		}
		key := keys[rapid.IntRange(0, len(keys)-1).Draw(rt, "keyIdx")]
		queryT := rapid.Int64Range(0, 64).Draw(rt, "queryT")

		value, present, err := m.Get(ctx, queryT, []byte(key))
		require.NoError(rt, err)
		ranged, err := m.GetRanged(ctx, queryT, []byte(key))
		require.NoError(rt, err)

		require.Equal(rt, present, ranged.Present)
		require.Equal(rt, value, ranged.Value)
		require.GreaterOrEqual(rt, queryT, ranged.Lo)
		require.Less(rt, queryT, ranged.Hi)
	})
}

// TestInvariant_RollbackObservesPreRollbackState checks property 3: after
// Rollback(T), every read at a timestamp beyond T agrees with the read at
// T, and LastCommitTimestamp never exceeds T.
func TestInvariant_RollbackObservesPreRollbackState(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		ops := genWriteOps(rt)
		m, err := matrix.Open(ctx, memkv.New(), "default", 0, matrix.Options{})
		require.NoError(rt, err)
		defer m.Close()

		var keys []string
		maxTS := int64(0)
		for _, op := range ops {
			require.NoError(rt, m.Put(ctx, op.ts, op.mutations))
			maxTS = op.ts
			for _, mu := range op.mutations {
				keys = append(keys, string(mu.Key))
			}
		}
		if len(keys) == 0 {
			return
		}
		rollbackT := rapid.Int64Range(0, maxTS).Draw(rt, "rollbackT")
		require.NoError(rt, m.Rollback(ctx, rollbackT))

		for _, k := range uniqueStrings(keys) {
			atT, _, err := m.Get(ctx, rollbackT, []byte(k))
			require.NoError(rt, err)
			afterT, _, err := m.Get(ctx, rollbackT+1000, []byte(k))
			require.NoError(rt, err)
			require.Equal(rt, atT, afterT)

			last, err := m.LastCommitTimestamp(ctx, []byte(k))
			require.NoError(rt, err)
			require.LessOrEqual(rt, last, rollbackT)
		}
	})
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

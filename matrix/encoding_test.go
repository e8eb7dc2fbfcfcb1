// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/chronosdb/tdm/internal/tdmtest"
)

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		userKey := tdmtest.UserKey(rt)
		ts := tdmtest.Timestamp(rt)

		enc := encodeKey(userKey, ts)
		gotKey, gotTS, err := decodeKey(enc)
		require.NoError(rt, err)
		require.Equal(rt, userKey, gotKey)
		require.Equal(rt, ts, gotTS)
	})
}

func TestEncodedOrderMatchesUserKeyOrder(t *testing.T) {
	// "B" must sort before "Az" despite differing lengths — the failure
	// mode a naive length-prefixed encoding would hit.
	pairs := [][2]string{
		{"B", "Az"},
		{"a", "ab"},
		{"\x00", "\x00a"},
		{"abc", "abd"},
	}
	for _, p := range pairs {
		lo := encodeKey([]byte(p[0]), 0)
		hi := encodeKey([]byte(p[1]), 0)
		require.Truef(t, bytes.Compare(lo, hi) < 0, "expected encode(%q) < encode(%q)", p[0], p[1])
	}
}

func TestSameUserKeyOrderedByTimestamp(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		userKey := tdmtest.UserKey(rt)
		a := rapid.Int64Range(0, 1000).Draw(rt, "a")
		b := rapid.Int64Range(0, 1000).Draw(rt, "b")
		rapid.Assume(a != b)
		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		require.True(rt, bytes.Compare(encodeKey(userKey, lo), encodeKey(userKey, hi)) < 0)
	})
}

func TestUserKeyUpperBoundExceedsEveryTimestamp(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		userKey := tdmtest.UserKey(rt)
		ts := tdmtest.Timestamp(rt)
		require.True(rt, bytes.Compare(encodeKey(userKey, ts), userKeyUpperBound(userKey)) < 0)
	})
}

func TestMetaKeyNeverEqualsAnEncodedKey(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		userKey := tdmtest.UserKey(rt)
		ts := tdmtest.Timestamp(rt)
		require.False(rt, bytes.Equal(metaKey, encodeKey(userKey, ts)))
	})
}

func TestTSIndexKeyGroupsByTimestampFirst(t *testing.T) {
	keys := [][]byte{
		encodeTSIndexKey(1, []byte("z")),
		encodeTSIndexKey(2, []byte("a")),
	}
	require.True(t, bytes.Compare(keys[0], keys[1]) < 0, "ts=1 must sort before ts=2 regardless of user key")
}

func TestDecodeTSIndexKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		userKey := tdmtest.UserKey(rt)
		ts := tdmtest.Timestamp(rt)
		gotTS, gotKey, err := decodeTSIndexKey(encodeTSIndexKey(ts, userKey))
		require.NoError(rt, err)
		require.Equal(rt, ts, gotTS)
		require.Equal(rt, userKey, gotKey)
	})
}

func TestValueEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := tdmtest.Payload(rt)
		tombstone := tdmtest.Bool(rt)
		e := Entry{Payload: payload}
		if tombstone {
			e.Kind = Tombstone
		}
		kind, got, err := decodeValue(encodeValue(e))
		require.NoError(rt, err)
		if tombstone {
			require.Equal(rt, Tombstone, kind)
		} else {
			require.Equal(rt, Value, kind)
			require.Equal(rt, payload, got)
		}
	})
}

func TestDistinctUserKeysSortStably(t *testing.T) {
	keys := []string{"zeta", "alpha", "mid\x00dle", "beta"}
	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		encoded[i] = encodeUserKey([]byte(k))
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	idx := make([]int, len(encoded))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return bytes.Compare(encoded[idx[i]], encoded[idx[j]]) < 0 })
	var gotOrder []string
	for _, i := range idx {
		gotOrder = append(gotOrder, keys[i])
	}
	require.Equal(t, sorted, gotOrder)
}

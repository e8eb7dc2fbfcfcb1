// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.
//
// chronos/tdm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Tag bytes for stored values. The spec reserves this byte space to exactly
// two values; any future extension must allocate a new tag rather than
// repurpose these.
const (
	tagTombstone byte = 0x00
	tagValue     byte = 0x01
)

// metaKey is the reserved metadata record within a keyspace's primary table.
// It can never collide with an encoded (user_key, ts) composite key: every
// such composite starts with an escaped user key terminated by the two-byte
// sequence 0x00 0x00, and a literal 0x00 elsewhere in the encoding is always
// immediately followed by 0x00 or 0xFF (see encodeUserKey). metaKey's second
// byte, 'M' (0x4D), is neither, so it can never be produced by encodeKey.
var metaKey = []byte("\x00META")

// tsIndexTable is the secondary (ts, user_key) -> {} index backing
// scan_range / get_modifications_between without a full primary scan.
func tsIndexTable(keyspace string) string { return keyspace + "~ts" }

func primaryTable(keyspace string) string { return keyspace }

// encodeUserKey escapes user_key so that concatenating it with anything and
// comparing lexicographically still agrees with comparing the user keys
// themselves lexicographically, whatever their lengths. A literal 0x00 byte in
// user_key is escaped to 0x00 0xFF; the whole encoding is terminated with
// 0x00 0x00, which can only ever be smaller than any escaped continuation
// byte of a longer key sharing the same prefix.
func encodeUserKey(userKey []byte) []byte {
	out := make([]byte, 0, len(userKey)+2)
	for _, b := range userKey {
		if b == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, b)
		}
	}
	return append(out, 0x00, 0x00)
}

// decodeUserKey reverses encodeUserKey, returning the original user key and
// the number of bytes of enc it consumed (including the terminator).
func decodeUserKey(enc []byte) (userKey []byte, n int, err error) {
	out := make([]byte, 0, len(enc))
	for i := 0; i < len(enc); i++ {
		if enc[i] != 0x00 {
			out = append(out, enc[i])
			continue
		}
		if i+1 >= len(enc) {
			return nil, 0, errors.New("matrix: truncated encoded key")
		}
		switch enc[i+1] {
		case 0x00:
			return out, i + 2, nil
		case 0xFF:
			out = append(out, 0x00)
			i++
		default:
			return nil, 0, errors.Errorf("matrix: invalid escape 0x00 0x%02x in encoded key", enc[i+1])
		}
	}
	return nil, 0, errors.New("matrix: unterminated encoded key")
}

// encodeTimestamp renders t (always >= 0, enforced by callers) as an 8-byte
// big-endian value, so that lexicographic order on the bytes equals numeric
// order on t.
func encodeTimestamp(t int64) [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t))
	return buf
}

func decodeTimestamp(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// encodeKey builds the composite primary-table key for (userKey, t).
func encodeKey(userKey []byte, t int64) []byte {
	uk := encodeUserKey(userKey)
	ts := encodeTimestamp(t)
	return append(uk, ts[:]...)
}

// decodeKey splits a composite primary-table key back into its user key and
// timestamp.
func decodeKey(enc []byte) (userKey []byte, t int64, err error) {
	uk, n, err := decodeUserKey(enc)
	if err != nil {
		return nil, 0, err
	}
	if len(enc)-n != 8 {
		return nil, 0, errors.Errorf("matrix: expected 8-byte timestamp suffix, got %d bytes", len(enc)-n)
	}
	return uk, decodeTimestamp(enc[n:]), nil
}

// userKeyUpperBound returns a composite key strictly greater than every
// (userKey, t) pair with t >= 0 and smaller than any key of the next
// distinct user key, i.e. an exclusive upper bound of
// userKey's timestamp range within the primary table. Used to jump straight
// to the next distinct user key during a scan.
func userKeyUpperBound(userKey []byte) []byte {
	uk := encodeUserKey(userKey)
	max := encodeTimestamp(-1) // all bits set: uint64(-1) == math.MaxUint64
	return append(uk, max[:]...)
}

// encodeTSIndexKey builds the secondary-table key for the (ts, user_key)
// index: encode_timestamp(t) ‖ encodeUserKey(user_key). Grouping by
// timestamp first is what lets scan_range/get_modifications_between bound a
// [t_lo, t_hi] window without touching entries outside it.
func encodeTSIndexKey(t int64, userKey []byte) []byte {
	ts := encodeTimestamp(t)
	return append(ts[:], encodeUserKey(userKey)...)
}

func decodeTSIndexKey(enc []byte) (t int64, userKey []byte, err error) {
	if len(enc) < 8 {
		return 0, nil, errors.New("matrix: truncated ts-index key")
	}
	t = decodeTimestamp(enc[:8])
	userKey, _, err = decodeUserKey(enc[8:])
	return t, userKey, err
}

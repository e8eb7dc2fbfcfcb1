// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

// Package tdmtest holds rapid generators shared by the matrix package's
// property tests, so every property test draws user keys and
// timestamps from the same distribution instead of each file rolling its
// own ad hoc generator.
package tdmtest

import (
	"pgregory.net/rapid"
)

// UserKey generates a non-empty byte string, occasionally containing a
// literal 0x00 byte to exercise the matrix package's key-escaping path.
func UserKey(t *rapid.T) []byte {
	return []byte(rapid.StringMatching(`[a-zA-Z0-9_/\x00]{1,24}`).Draw(t, "userKey"))
}

// Timestamp generates a small non-negative timestamp; kept small so
// property tests can build dense, colliding histories instead of a sparse
// one that rarely exercises floor/ceiling edge cases.
func Timestamp(t *rapid.T) int64 {
	return rapid.Int64Range(0, 64).Draw(t, "timestamp")
}

// Payload generates a possibly-empty value payload, distinct from a
// tombstone by construction (callers choose Tombstone separately).
func Payload(t *rapid.T) []byte {
	return []byte(rapid.StringN(0, 16, -1).Draw(t, "payload"))
}

// Bool draws a fair coin flip, used for choosing tombstone vs. value and
// similar binary test decisions.
func Bool(t *rapid.T) bool {
	return rapid.Bool().Draw(t, "bool")
}

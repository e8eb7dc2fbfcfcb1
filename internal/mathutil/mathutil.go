// Copyright 2025 The Chronos Authors
// Portions adapted from the integer-limit helpers of The Erigon Authors
// (github.com/erigontech/erigon-lib, common/math), itself tracing to
// go-ethereum. Trimmed to the handful of helpers the TDM actually needs.
//
// This file is part of chronos/tdm.

// Package mathutil holds small integer helpers shared by the matrix and kv
// packages: sentinel bounds and clamping, not a general-purpose math
// library.
package mathutil

// MaxInt64 and MinInt64 are the bounds of a signed 64-bit timestamp.
const (
	MaxInt64 = 1<<63 - 1
	MinInt64 = -1 << 63
)

// NoCommit is the sentinel LastCommitTimestamp returns for a user key that
// has never been written.
const NoCommit int64 = MinInt64

// ClampFloor returns the greater of t and floor — used by Rollback to clamp
// a requested rollback timestamp up to the matrix's creation timestamp.
func ClampFloor(t, floor int64) int64 {
	if t < floor {
		return floor
	}
	return t
}

// Max64 returns the greater of a and b.
func Max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

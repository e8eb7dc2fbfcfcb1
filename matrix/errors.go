// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import "fmt"

// Kind classifies why a matrix operation failed, mirroring the taxonomy
// erigon-lib's kv package uses to let callers branch on failure category
// without string-matching error text.
type Kind uint8

const (
	// Unknown is the zero value; a well-formed *Error never carries it.
	Unknown Kind = iota
	// InvalidArgument marks a caller error: malformed key, negative or
	// out-of-order timestamp bound, nil required argument.
	InvalidArgument
	// MonotonicityViolation marks an attempt to write at a timestamp not
	// strictly greater than the matrix's last global timestamp.
	MonotonicityViolation
	// Conflict marks an InsertEntries batch rejected because an entry
	// already exists at the same (key, timestamp) with a different payload,
	// or because an entry's timestamp precedes the creation timestamp.
	Conflict
	// StorageFailure marks an error surfaced by the underlying kv.RwDB:
	// I/O failure, corruption, or an invariant violated by stored bytes
	// that should never happen absent a bug or on-disk corruption.
	StorageFailure
	// MatrixClosed marks an operation attempted after Close has been
	// called or started.
	MatrixClosed
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case MonotonicityViolation:
		return "monotonicity_violation"
	case Conflict:
		return "conflict"
	case StorageFailure:
		return "storage_failure"
	case MatrixClosed:
		return "matrix_closed"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every exported matrix.Matrix method
// returns on failure. Callers branch on category with errors.Is against
// the Kind sentinels below, or by reading its Kind field directly.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("matrix: %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("matrix: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, matrix.ErrConflict) and siblings work against a
// *Error without the caller needing to know the concrete type.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.Kind != Unknown && sentinel.Kind == e.Kind
}

// Sentinel errors for errors.Is comparisons, one per Kind.
var (
	ErrInvalidArgument       = &Error{Kind: InvalidArgument}
	ErrMonotonicityViolation = &Error{Kind: MonotonicityViolation}
	ErrConflict              = &Error{Kind: Conflict}
	ErrStorageFailure        = &Error{Kind: StorageFailure}
	ErrMatrixClosed          = &Error{Kind: MatrixClosed}
)

func newErr(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func wrapErr(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

func errStorageCorrupt(msg string) *Error {
	return &Error{Kind: StorageFailure, Op: "decode", Message: msg}
}

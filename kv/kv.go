// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.
//
// chronos/tdm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package kv defines the minimal sorted byte-map abstraction that the
// Temporal Data Matrix (package matrix) is built on top of: an ordered,
// table-scoped key/value store with cursor-based seeks and transactional
// batch commits.
//
// Variable naming follows the convention used throughout this codebase:
//
//	tx  - database transaction
//	k,v - key, value
//	RoTx/RwTx - read-only / read-write transaction
package kv

import (
	"context"
	"errors"
	"iter"
)

// ErrKeyNotFound is returned by Getter.Get when the requested key is absent.
var ErrKeyNotFound = errors.New("kv: key not found")

// ErrTableNotFound names a reference to a table that was never created via
// RwTx.CreateTable. The memkv and boltkv backends do not return it: a Get
// on a missing table reports ErrKeyNotFound, and cursors and ranges over a
// missing table are empty.
var ErrTableNotFound = errors.New("kv: table not found")

// ErrTxClosed names an operation performed on a transaction that has
// already been committed or rolled back. The memkv and boltkv backends do
// not return it.
var ErrTxClosed = errors.New("kv: transaction closed")

// Getter is the read side of a table-scoped byte-map.
type Getter interface {
	// Get returns the value stored for key in table, or ErrKeyNotFound.
	Get(table string, key []byte) ([]byte, error)
	// Has reports whether key exists in table.
	Has(table string, key []byte) (bool, error)
}

// Putter is the write side of a table-scoped byte-map.
type Putter interface {
	// Put inserts or overwrites key with value in table.
	Put(table string, key, value []byte) error
	// Delete removes key from table. Deleting an absent key is a no-op.
	Delete(table string, key []byte) error
	// DeleteRange removes every key in [from, to) from table.
	DeleteRange(table string, from, to []byte) error
}

// Cursor walks a table in key order.
type Cursor interface {
	// Seek positions the cursor at the first key >= seek and returns it.
	// A nil/empty result with a nil error means the table has no such key.
	Seek(seek []byte) (k, v []byte, err error)
	// SeekExact positions the cursor at key only if it exists exactly.
	SeekExact(key []byte) (v []byte, found bool, err error)
	// Next advances the cursor and returns the next key/value pair.
	Next() (k, v []byte, err error)
	// Prev moves the cursor backward and returns the previous key/value pair.
	Prev() (k, v []byte, err error)
	// First positions the cursor at the table's first key.
	First() (k, v []byte, err error)
	// Last positions the cursor at the table's last key.
	Last() (k, v []byte, err error)
	// Close releases resources held by the cursor.
	Close()
}

// Tx is a read-only (or read side of a read-write) transaction pinned to a
// consistent snapshot of the database, taken at the moment the transaction
// began.
type Tx interface {
	Getter

	// Cursor opens a cursor over table, scoped to this transaction's
	// snapshot.
	Cursor(table string) (Cursor, error)

	// Range returns a lazy ascending iterator over [from, to) in table.
	// A nil `to` means "through the end of the table".
	Range(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error)

	// RangeDescend is like Range but walks (to, from] in descending order
	// (from > to, mirroring the teacher's RangeDescend convention).
	RangeDescend(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error)

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback()
}

// RwTx additionally allows mutation; only one RwTx may be open at a time per
// RwDB (§5 of the TDM spec: a single logical writer per commit).
type RwTx interface {
	Tx
	Putter

	// RwCursor opens a mutating cursor over table.
	RwCursor(table string) (RwCursor, error)

	// CreateTable ensures table exists; idempotent.
	CreateTable(table string) error

	// Commit atomically applies every write made through this transaction.
	// After Commit, the transaction must not be used again except for a
	// no-op Rollback.
	Commit() error
}

// RwCursor is a Cursor that can also mutate the table it walks.
type RwCursor interface {
	Cursor

	// Put writes a key/value pair at the cursor's table.
	Put(k, v []byte) error
	// Delete removes the key/value pair the cursor currently sits on.
	Delete() error
}

// RoDB opens read-only transactions.
type RoDB interface {
	// View runs f inside a new read-only transaction, always rolling it
	// back afterwards (read transactions never commit).
	View(ctx context.Context, f func(tx Tx) error) error
	// BeginRo begins a read-only transaction the caller must Rollback.
	BeginRo(ctx context.Context) (Tx, error)
	// Close releases the database handle.
	Close() error
}

// RwDB additionally allows read-write transactions. Implementations must
// serialize RwTx instances: BeginRw blocks until any prior RwTx has been
// committed or rolled back.
type RwDB interface {
	RoDB

	// Update runs f inside a new read-write transaction, committing on a
	// nil return and rolling back otherwise.
	Update(ctx context.Context, f func(tx RwTx) error) error
	// BeginRw begins a read-write transaction the caller must Commit or
	// Rollback.
	BeginRw(ctx context.Context) (RwTx, error)
}

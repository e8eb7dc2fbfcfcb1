// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"context"
	"sync"

	"github.com/chronosdb/tdm/kv"
)

// EntryIterator streams every entry that is the floor-entry at a fixed
// timestamp for its user key — the full snapshot at that timestamp,
// tombstones included. Unlike the package's other iterators (plain
// iter.Seq values whose backing transaction closes via defer when ranging
// stops), an EntryIterator holds its read lease explicitly until Close is
// called, and counts against the Matrix's drain-on-Close WaitGroup: callers
// that stash one across goroutines or API boundaries must release it
// themselves.
type EntryIterator struct {
	m   *Matrix
	t   int64
	tx  kv.Tx
	cur kv.Cursor

	mu            sync.Mutex
	closed        bool
	started       bool
	pendingResume []byte
}

// AllEntriesIterator opens a closeable snapshot iterator over every user
// key's floor entry at t. The snapshot is pinned at construction; later
// writes are not visible through it.
func (m *Matrix) AllEntriesIterator(ctx context.Context, t int64) (*EntryIterator, error) {
	if err := validateReadArgs("AllEntriesIterator", t, nil, false); err != nil {
		return nil, err
	}
	if lifecycleState(m.state.Load()) != stateOpen {
		return nil, newErr(MatrixClosed, "AllEntriesIterator", "matrix is closing or closed")
	}
	m.iterLeases.Add(1)

	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		m.iterLeases.Done()
		return nil, wrapErr(StorageFailure, "AllEntriesIterator", "opening read transaction", err)
	}
	cur, cerr := tx.Cursor(primaryTable(m.keyspace))
	if cerr != nil {
		tx.Rollback()
		m.iterLeases.Done()
		return nil, wrapErr(StorageFailure, "AllEntriesIterator", "opening cursor", cerr)
	}
	m.observeRead("all_entries_iterator")
	return &EntryIterator{m: m, t: t, tx: tx, cur: cur}, nil
}

// advance returns the next raw primary-table key the distinct-user-key
// walk should inspect: the first key in the table on the very first call,
// or the first key at or after the previous key's exclusive upper bound
// thereafter.
func (it *EntryIterator) advance() ([]byte, []byte, error) {
	if !it.started {
		it.started = true
		return it.cur.First()
	}
	return it.cur.Seek(it.pendingResume)
}

// Next advances the iterator, returning its next entry, or ok=false once
// every user key's floor entry at the pinned timestamp has been yielded.
func (it *EntryIterator) Next() (entry Entry, ok bool, err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return Entry{}, false, newErr(MatrixClosed, "EntryIterator.Next", "iterator already closed")
	}
	k, _, aerr := it.advance()
	for {
		if aerr != nil {
			return Entry{}, false, wrapErr(StorageFailure, "EntryIterator.Next", "advancing cursor", aerr)
		}
		if k == nil {
			return Entry{}, false, nil
		}
		if isMetaKey(k) {
			// Step past the reserved record with Next, not a Seek on the
			// still-zero pendingResume — that would land back on metaKey
			// (the lexicographically smallest key in the table) forever.
			k, _, aerr = it.cur.Next()
			continue
		}
		userKey, _, kerr := decodeKey(k)
		if kerr != nil {
			return Entry{}, false, wrapErr(StorageFailure, "EntryIterator.Next", "decoding key", kerr)
		}
		it.pendingResume = userKeyUpperBound(userKey)
		floor, fok, ferr := it.m.floorEntry(it.tx, userKey, it.t)
		if ferr != nil {
			return Entry{}, false, ferr
		}
		if fok {
			return floor, true, nil
		}
		// Every entry for userKey postdates t; keep scanning from the next
		// distinct user key.
		k, _, aerr = it.cur.Seek(it.pendingResume)
	}
}

// Close releases the iterator's read lease. Idempotent; safe to call more
// than once. Calling Next after Close returns MatrixClosed.
func (it *EntryIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	it.cur.Close()
	it.tx.Rollback()
	it.m.iterLeases.Done()
	return nil
}

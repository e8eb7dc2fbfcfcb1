// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.
//
// chronos/tdm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package memkv is an in-memory implementation of kv.RwDB backed by
// per-table google/btree.BTreeG snapshots. A write transaction clones
// (BTreeG.Clone, a genuine copy-on-write operation) each table the first
// time it is mutated and swaps a whole new table map in atomically on
// commit, in the spirit of the commitment btree in the teacher's
// domain_committed.go; readers that already hold a snapshot never observe a
// partially-applied write, matching the MVCC discipline §5 of the TDM spec
// requires.
package memkv

import (
	"bytes"
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/chronosdb/tdm/kv"
)

const btreeDegree = 32

type record struct {
	key   []byte
	value []byte
}

func lessRecord(a, b record) bool { return bytes.Compare(a.key, b.key) < 0 }

type tableSet map[string]*btree.BTreeG[record]

func (s tableSet) clone() tableSet {
	out := make(tableSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// DB is an in-memory, table-scoped sorted byte-map.
type DB struct {
	writeMu sync.Mutex // serializes RwTx instances (single writer, §5)
	tables  atomic.Pointer[tableSet]
}

// New returns an empty in-memory database.
func New() *DB {
	db := &DB{}
	empty := tableSet{}
	db.tables.Store(&empty)
	return db
}

func (db *DB) Close() error { return nil }

func (db *DB) snapshot() tableSet { return *db.tables.Load() }

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	tx, err := db.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (db *DB) BeginRo(_ context.Context) (kv.Tx, error) {
	return &roTx{tables: db.snapshot()}, nil
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	tx, err := db.BeginRw(ctx)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) BeginRw(_ context.Context) (kv.RwTx, error) {
	db.writeMu.Lock()
	base := db.snapshot()
	return &rwTx{db: db, working: base.clone(), cloned: map[string]bool{}}, nil
}

// roTx is a snapshot-pinned read-only transaction: it never observes tables
// mutated after it was created, because tableSet values are only ever
// replaced wholesale (see rwTx.Commit), never mutated in place once visible
// to a snapshot.
type roTx struct {
	tables tableSet
}

func (tx *roTx) Get(table string, key []byte) ([]byte, error) {
	return getFrom(tx.tables, table, key)
}

func (tx *roTx) Has(table string, key []byte) (bool, error) {
	return hasIn(tx.tables, table, key)
}

func (tx *roTx) Cursor(table string) (kv.Cursor, error) {
	return &cursor{tree: treeOrEmpty(tx.tables, table)}, nil
}

func (tx *roTx) Range(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error) {
	return rangeSeq(tx.tables[table], from, to), nil
}

func (tx *roTx) RangeDescend(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error) {
	return rangeDescendSeq(tx.tables[table], from, to), nil
}

func (tx *roTx) Rollback() {}

func getFrom(tables tableSet, table string, key []byte) ([]byte, error) {
	t, ok := tables[table]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	item, ok := t.Get(record{key: key})
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return item.value, nil
}

func hasIn(tables tableSet, table string, key []byte) (bool, error) {
	t, ok := tables[table]
	if !ok {
		return false, nil
	}
	_, found := t.Get(record{key: key})
	return found, nil
}

func treeOrEmpty(tables tableSet, table string) *btree.BTreeG[record] {
	if t, ok := tables[table]; ok {
		return t
	}
	return btree.NewG(btreeDegree, lessRecord)
}

func rangeSeq(t *btree.BTreeG[record], from, to []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		if t == nil {
			return
		}
		visit := func(item record) bool {
			if to != nil && bytes.Compare(item.key, to) >= 0 {
				return false
			}
			return yield(item.key, item.value)
		}
		if from == nil {
			t.Ascend(visit)
		} else {
			t.AscendGreaterOrEqual(record{key: from}, visit)
		}
	}
}

func rangeDescendSeq(t *btree.BTreeG[record], from, to []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		if t == nil {
			return
		}
		visit := func(item record) bool {
			if to != nil && bytes.Compare(item.key, to) <= 0 {
				return false
			}
			return yield(item.key, item.value)
		}
		if from == nil {
			t.Descend(visit)
		} else {
			t.DescendLessOrEqual(record{key: from}, visit)
		}
	}
}

// rwTx is the single live read-write transaction for a DB at any time.
// working starts as a shallow clone of the table map (table names share
// BTreeG pointers with the last-committed snapshot until `cloned` records
// that a table has been copy-on-write cloned for this transaction).
type rwTx struct {
	db      *DB
	working tableSet
	cloned  map[string]bool
	touched bool
	done    bool
}

// mutable returns the tree for table, cloning it (or creating it) the first
// time this transaction touches it, so concurrent readers holding the
// pre-commit snapshot never see a half-written tree.
func (tx *rwTx) mutable(table string) *btree.BTreeG[record] {
	t, ok := tx.working[table]
	if !ok {
		t = btree.NewG(btreeDegree, lessRecord)
		tx.working[table] = t
		tx.cloned[table] = true
		return t
	}
	if !tx.cloned[table] {
		t = t.Clone()
		tx.working[table] = t
		tx.cloned[table] = true
	}
	return t
}

func (tx *rwTx) Get(table string, key []byte) ([]byte, error) {
	return getFrom(tx.working, table, key)
}

func (tx *rwTx) Has(table string, key []byte) (bool, error) {
	return hasIn(tx.working, table, key)
}

func (tx *rwTx) Cursor(table string) (kv.Cursor, error) {
	return &cursor{tree: treeOrEmpty(tx.working, table)}, nil
}

func (tx *rwTx) RwCursor(table string) (kv.RwCursor, error) {
	if err := tx.CreateTable(table); err != nil {
		return nil, err
	}
	return &rwCursor{cursor: cursor{tree: tx.working[table]}, tx: tx, table: table}, nil
}

func (tx *rwTx) Range(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error) {
	return rangeSeq(tx.working[table], from, to), nil
}

func (tx *rwTx) RangeDescend(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error) {
	return rangeDescendSeq(tx.working[table], from, to), nil
}

func (tx *rwTx) CreateTable(table string) error {
	if _, ok := tx.working[table]; ok {
		return nil
	}
	tx.working[table] = btree.NewG(btreeDegree, lessRecord)
	tx.cloned[table] = true
	return nil
}

func (tx *rwTx) Put(table string, key, value []byte) error {
	t := tx.mutable(table)
	kk := append([]byte(nil), key...)
	vv := append([]byte(nil), value...)
	t.ReplaceOrInsert(record{key: kk, value: vv})
	tx.touched = true
	return nil
}

func (tx *rwTx) Delete(table string, key []byte) error {
	if _, ok := tx.working[table]; !ok {
		return nil
	}
	t := tx.mutable(table)
	t.Delete(record{key: key})
	tx.touched = true
	return nil
}

func (tx *rwTx) DeleteRange(table string, from, to []byte) error {
	if _, ok := tx.working[table]; !ok {
		return nil
	}
	t := tx.mutable(table)
	var doomed [][]byte
	visit := func(item record) bool {
		if to != nil && bytes.Compare(item.key, to) >= 0 {
			return false
		}
		doomed = append(doomed, item.key)
		return true
	}
	if from == nil {
		t.Ascend(visit)
	} else {
		t.AscendGreaterOrEqual(record{key: from}, visit)
	}
	for _, k := range doomed {
		t.Delete(record{key: k})
	}
	if len(doomed) > 0 {
		tx.touched = true
	}
	return nil
}

func (tx *rwTx) Commit() error {
	defer tx.finish()
	if tx.touched {
		working := tx.working
		tx.db.tables.Store(&working)
	}
	return nil
}

func (tx *rwTx) Rollback() { tx.finish() }

func (tx *rwTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	tx.db.writeMu.Unlock()
}

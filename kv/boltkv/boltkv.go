// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.
//
// chronos/tdm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package boltkv implements kv.RwDB on top of go.etcd.io/bbolt, giving the
// Temporal Data Matrix a durable, embedded-B+tree-backed sorted byte-map.
// bbolt's own single-writer/many-readers MVCC transactions already satisfy
// §5 of the TDM spec; this package only needs to adapt bbolt's bucket/
// cursor API to kv.Tx/kv.Cursor and take a cross-process advisory lock on
// the data directory before opening, the same guard an embedded engine like
// mdbx keeps over its own environment directory.
package boltkv

import (
	"bytes"
	"context"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/chronosdb/tdm/kv"
)

const lockFileName = ".chronos.lock"

// DB is a durable, directory-scoped sorted byte-map.
type DB struct {
	bdb  *bolt.DB
	lock *flock.Flock
}

// Open opens (creating if absent) a bbolt-backed database rooted at dir,
// after acquiring an exclusive advisory lock on dir so that at most one
// process holds it open for writing at a time.
func Open(dir string) (*DB, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	lk := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "boltkv: acquiring directory lock")
	}
	if !locked {
		return nil, errors.Errorf("boltkv: %s is already open by another process", dir)
	}
	bdb, err := bolt.Open(filepath.Join(dir, "chronos.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = lk.Unlock()
		return nil, errors.Wrap(err, "boltkv: opening database file")
	}
	return &DB{bdb: bdb, lock: lk}, nil
}

func (db *DB) Close() error {
	err := db.bdb.Close()
	if unlockErr := db.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return f(&boltTx{btx: btx})
	})
}

func (db *DB) BeginRo(_ context.Context) (kv.Tx, error) {
	btx, err := db.bdb.Begin(false)
	if err != nil {
		return nil, errors.Wrap(err, "boltkv: begin read-only transaction")
	}
	return &boltTx{btx: btx}, nil
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return f(&boltRwTx{boltTx: boltTx{btx: btx}})
	})
}

func (db *DB) BeginRw(_ context.Context) (kv.RwTx, error) {
	btx, err := db.bdb.Begin(true)
	if err != nil {
		return nil, errors.Wrap(err, "boltkv: begin read-write transaction")
	}
	return &boltRwTx{boltTx: boltTx{btx: btx}}, nil
}

type boltTx struct {
	btx *bolt.Tx
}

func (tx *boltTx) bucket(table string) *bolt.Bucket {
	return tx.btx.Bucket([]byte(table))
}

func (tx *boltTx) Get(table string, key []byte) ([]byte, error) {
	b := tx.bucket(table)
	if b == nil {
		return nil, kv.ErrKeyNotFound
	}
	v := b.Get(key)
	if v == nil {
		return nil, kv.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (tx *boltTx) Has(table string, key []byte) (bool, error) {
	b := tx.bucket(table)
	if b == nil {
		return false, nil
	}
	return b.Get(key) != nil, nil
}

func (tx *boltTx) Cursor(table string) (kv.Cursor, error) {
	b := tx.bucket(table)
	if b == nil {
		return &emptyCursor{}, nil
	}
	return &cursor{c: b.Cursor()}, nil
}

func (tx *boltTx) Range(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error) {
	b := tx.bucket(table)
	return func(yield func([]byte, []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		var k, v []byte
		if from == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(from)
		}
		for ; k != nil; k, v = c.Next() {
			if to != nil && bytes.Compare(k, to) >= 0 {
				return
			}
			if !yield(append([]byte(nil), k...), append([]byte(nil), v...)) {
				return
			}
		}
	}, nil
}

func (tx *boltTx) RangeDescend(table string, from, to []byte) (iter.Seq2[[]byte, []byte], error) {
	b := tx.bucket(table)
	return func(yield func([]byte, []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		var k, v []byte
		if from == nil {
			k, v = c.Last()
		} else {
			k, v = c.Seek(from)
			if k == nil {
				k, v = c.Last()
			} else if bytes.Compare(k, from) > 0 {
				k, v = c.Prev()
			}
		}
		for ; k != nil; k, v = c.Prev() {
			if to != nil && bytes.Compare(k, to) <= 0 {
				return
			}
			if !yield(append([]byte(nil), k...), append([]byte(nil), v...)) {
				return
			}
		}
	}, nil
}

func (tx *boltTx) Rollback() { _ = tx.btx.Rollback() }

type boltRwTx struct {
	boltTx
}

func (tx *boltRwTx) CreateTable(table string) error {
	_, err := tx.btx.CreateBucketIfNotExists([]byte(table))
	return errors.Wrap(err, "boltkv: create table")
}

func (tx *boltRwTx) Put(table string, key, value []byte) error {
	if err := tx.CreateTable(table); err != nil {
		return err
	}
	return errors.Wrap(tx.bucket(table).Put(key, value), "boltkv: put")
}

func (tx *boltRwTx) Delete(table string, key []byte) error {
	b := tx.bucket(table)
	if b == nil {
		return nil
	}
	return errors.Wrap(b.Delete(key), "boltkv: delete")
}

func (tx *boltRwTx) DeleteRange(table string, from, to []byte) error {
	b := tx.bucket(table)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	var k []byte
	if from == nil {
		k, _ = c.First()
	} else {
		k, _ = c.Seek(from)
	}
	var doomed [][]byte
	for ; k != nil; k, _ = c.Next() {
		if to != nil && bytes.Compare(k, to) >= 0 {
			break
		}
		doomed = append(doomed, append([]byte(nil), k...))
	}
	for _, key := range doomed {
		if err := b.Delete(key); err != nil {
			return errors.Wrap(err, "boltkv: delete range")
		}
	}
	return nil
}

func (tx *boltRwTx) RwCursor(table string) (kv.RwCursor, error) {
	if err := tx.CreateTable(table); err != nil {
		return nil, err
	}
	return &rwCursor{cursor: cursor{c: tx.bucket(table).Cursor()}, bucket: tx.bucket(table)}, nil
}

func (tx *boltRwTx) Commit() error {
	return errors.Wrap(tx.btx.Commit(), "boltkv: commit")
}

func ensureDir(dir string) error {
	if dir == "" {
		return errors.New("boltkv: empty directory path")
	}
	return errors.Wrap(os.MkdirAll(dir, 0700), "boltkv: create directory")
}

// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package boltkv

import (
	bolt "go.etcd.io/bbolt"
)

type cursor struct {
	c *bolt.Cursor
}

func (cur *cursor) First() ([]byte, []byte, error) {
	k, v := cur.c.First()
	return k, v, nil
}

func (cur *cursor) Last() ([]byte, []byte, error) {
	k, v := cur.c.Last()
	return k, v, nil
}

func (cur *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	k, v := cur.c.Seek(seek)
	return k, v, nil
}

func (cur *cursor) SeekExact(key []byte) ([]byte, bool, error) {
	k, v := cur.c.Seek(key)
	if k == nil || !bytesEqual(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

func (cur *cursor) Next() ([]byte, []byte, error) {
	k, v := cur.c.Next()
	return k, v, nil
}

func (cur *cursor) Prev() ([]byte, []byte, error) {
	k, v := cur.c.Prev()
	return k, v, nil
}

func (cur *cursor) Close() {}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// emptyCursor is returned for a table that has never been created.
type emptyCursor struct{}

func (emptyCursor) First() ([]byte, []byte, error)         { return nil, nil, nil }
func (emptyCursor) Last() ([]byte, []byte, error)          { return nil, nil, nil }
func (emptyCursor) Seek([]byte) ([]byte, []byte, error)    { return nil, nil, nil }
func (emptyCursor) SeekExact([]byte) ([]byte, bool, error) { return nil, false, nil }
func (emptyCursor) Next() ([]byte, []byte, error)          { return nil, nil, nil }
func (emptyCursor) Prev() ([]byte, []byte, error)          { return nil, nil, nil }
func (emptyCursor) Close()                                 {}

type rwCursor struct {
	cursor
	bucket *bolt.Bucket
}

func (c *rwCursor) Put(k, v []byte) error {
	if err := c.bucket.Put(k, v); err != nil {
		return err
	}
	_, _, err := c.Seek(k)
	return err
}

func (c *rwCursor) Delete() error {
	return c.c.Delete()
}

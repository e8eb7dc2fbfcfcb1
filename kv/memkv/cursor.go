// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package memkv

import (
	"github.com/google/btree"

	"github.com/chronosdb/tdm/kv"
)

// cursor is a read-only cursor over a fixed BTreeG snapshot. It has no true
// O(1) "current position" in the tree (BTreeG exposes no such primitive),
// so Next/Prev re-seek from the last-returned key; at the table sizes a TDM
// keyspace deals with this is indistinguishable in practice from a real
// cursor, and it keeps the implementation a small, obviously-correct
// adapter over google/btree rather than a second balanced-tree engine.
type cursor struct {
	tree *btree.BTreeG[record]
	cur  record
	has  bool
}

func (c *cursor) First() ([]byte, []byte, error) {
	item, ok := c.tree.Min()
	return c.land(item, ok)
}

func (c *cursor) Last() ([]byte, []byte, error) {
	item, ok := c.tree.Max()
	return c.land(item, ok)
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	var found record
	var ok bool
	c.tree.AscendGreaterOrEqual(record{key: seek}, func(item record) bool {
		found, ok = item, true
		return false
	})
	return c.land(found, ok)
}

func (c *cursor) SeekExact(key []byte) ([]byte, bool, error) {
	item, ok := c.tree.Get(record{key: key})
	if !ok {
		c.has = false
		return nil, false, nil
	}
	c.cur, c.has = item, true
	return item.value, true, nil
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if !c.has {
		return nil, nil, nil
	}
	var found record
	var ok bool
	skippedSelf := false
	c.tree.AscendGreaterOrEqual(c.cur, func(item record) bool {
		if !skippedSelf && bytesEqual(item.key, c.cur.key) {
			skippedSelf = true
			return true
		}
		found, ok = item, true
		return false
	})
	return c.land(found, ok)
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if !c.has {
		return nil, nil, nil
	}
	var found record
	var ok bool
	skippedSelf := false
	c.tree.DescendLessOrEqual(c.cur, func(item record) bool {
		if !skippedSelf && bytesEqual(item.key, c.cur.key) {
			skippedSelf = true
			return true
		}
		found, ok = item, true
		return false
	})
	return c.land(found, ok)
}

func (c *cursor) Close() {}

func (c *cursor) land(item record, ok bool) ([]byte, []byte, error) {
	if !ok {
		c.has = false
		return nil, nil, nil
	}
	c.cur, c.has = item, true
	return item.key, item.value, nil
}

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

// rwCursor re-resolves its table's tree from the owning transaction on every
// mutation, since Put/Delete may trigger a copy-on-write clone that replaces
// tx.working[table] with a new *btree.BTreeG.
type rwCursor struct {
	cursor
	tx    *rwTx
	table string
}

func (c *rwCursor) Put(k, v []byte) error {
	if err := c.tx.Put(c.table, k, v); err != nil {
		return err
	}
	c.tree = c.tx.working[c.table]
	_, _, err := c.SeekExact(k)
	return err
}

func (c *rwCursor) Delete() error {
	if !c.has {
		return nil
	}
	key := append([]byte(nil), c.cur.key...)
	if err := c.tx.Delete(c.table, key); err != nil {
		return err
	}
	c.tree = c.tx.working[c.table]
	c.has = false
	return nil
}

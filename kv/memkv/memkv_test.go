// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package memkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronosdb/tdm/kv"
	"github.com/chronosdb/tdm/kv/memkv"
)

func TestPutGetDelete(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		require.NoError(t, tx.CreateTable("t"))
		return tx.Put("t", []byte("a"), []byte("1"))
	}))

	err := db.View(ctx, func(tx kv.Tx) error {
		v, gerr := tx.Get("t", []byte("a"))
		require.NoError(t, gerr)
		require.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Delete("t", []byte("a"))
	}))
	err = db.View(ctx, func(tx kv.Tx) error {
		_, gerr := tx.Get("t", []byte("a"))
		require.ErrorIs(t, gerr, kv.ErrKeyNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestSnapshotIsolation(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		require.NoError(t, tx.CreateTable("t"))
		return tx.Put("t", []byte("a"), []byte("1"))
	}))

	roTx, err := db.BeginRo(ctx)
	require.NoError(t, err)
	defer roTx.Rollback()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Put("t", []byte("a"), []byte("2"))
	}))

	v, err := roTx.Get("t", []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v, "a snapshot taken before a write must not observe it")
}

func TestRangeAscendingAndDescending(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		require.NoError(t, tx.CreateTable("t"))
		for _, k := range []string{"a", "b", "c", "d"} {
			if err := tx.Put("t", []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	var asc []string
	err := db.View(ctx, func(tx kv.Tx) error {
		rng, rerr := tx.Range("t", []byte("b"), []byte("d"))
		if rerr != nil {
			return rerr
		}
		for k := range rng {
			asc = append(asc, string(k))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, asc)

	var desc []string
	err = db.View(ctx, func(tx kv.Tx) error {
		rng, rerr := tx.RangeDescend("t", []byte("d"), []byte("a"))
		if rerr != nil {
			return rerr
		}
		for k := range rng {
			desc = append(desc, string(k))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "c", "b"}, desc)
}

func TestRwCursorSeekExactAndDelete(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		cur, err := tx.RwCursor("t")
		require.NoError(t, err)
		defer cur.Close()
		require.NoError(t, cur.Put([]byte("k1"), []byte("v1")))
		require.NoError(t, cur.Put([]byte("k2"), []byte("v2")))

		v, found, err := cur.SeekExact([]byte("k1"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("v1"), v)
		require.NoError(t, cur.Delete())
		return nil
	}))

	err := db.View(ctx, func(tx kv.Tx) error {
		_, gerr := tx.Get("t", []byte("k1"))
		require.ErrorIs(t, gerr, kv.ErrKeyNotFound)
		v, gerr := tx.Get("t", []byte("k2"))
		require.NoError(t, gerr)
		require.Equal(t, []byte("v2"), v)
		return nil
	})
	require.NoError(t, err)
}

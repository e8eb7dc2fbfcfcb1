// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package boltkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronosdb/tdm/kv"
	"github.com/chronosdb/tdm/kv/boltkv"
)

func TestOpenPutGetPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := boltkv.Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Put("t", []byte("a"), []byte("1"))
	}))
	require.NoError(t, db.Close())

	db2, err := boltkv.Open(dir)
	require.NoError(t, err)
	defer db2.Close()
	err = db2.View(ctx, func(tx kv.Tx) error {
		v, gerr := tx.Get("t", []byte("a"))
		require.NoError(t, gerr)
		require.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenTwiceFails(t *testing.T) {
	dir := t.TempDir()
	db, err := boltkv.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = boltkv.Open(dir)
	require.Error(t, err, "a second Open on the same directory must fail the directory lock")
}

func TestDeleteRange(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db, err := boltkv.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for _, k := range []string{"a", "b", "c", "d"} {
			if err := tx.Put("t", []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.DeleteRange("t", []byte("b"), []byte("d"))
	}))

	err = db.View(ctx, func(tx kv.Tx) error {
		_, gerr := tx.Get("t", []byte("b"))
		require.ErrorIs(t, gerr, kv.ErrKeyNotFound)
		_, gerr = tx.Get("t", []byte("c"))
		require.ErrorIs(t, gerr, kv.ErrKeyNotFound)
		v, gerr := tx.Get("t", []byte("a"))
		require.NoError(t, gerr)
		require.Equal(t, []byte("a"), v)
		v, gerr = tx.Get("t", []byte("d"))
		require.NoError(t, gerr)
		require.Equal(t, []byte("d"), v)
		return nil
	})
	require.NoError(t, err)
}

// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.
//
// chronos/tdm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package matrix implements the Temporal Data Matrix: the versioned,
// per-keyspace storage core of an embeddable key-value store. A Matrix owns
// one keyspace's full history over a kv.RwDB sorted byte-map and answers
// point-in-time reads, history recovery, and modification-range queries by
// bounded seeks on a single temporal index, never a full scan.
package matrix

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chronosdb/tdm/internal/mathutil"
	"github.com/chronosdb/tdm/kv"
)

type lifecycleState int32

const (
	stateOpen lifecycleState = iota
	stateClosing
	stateClosed
)

// Options configures a Matrix beyond the mandatory db/keyspace/creation
// timestamp triple.
type Options struct {
	// Logger receives structured diagnostics. A nop logger is used if nil.
	Logger *zap.Logger
	// Metrics, if non-nil, is shared across matrices in the same process.
	// A process-local default registers into prometheus' default registry
	// the first time a Matrix is opened without one.
	Metrics *Metrics
}

// Matrix is a single keyspace's Temporal Data Matrix. The zero value is not
// usable; construct with Open.
type Matrix struct {
	db       kv.RwDB
	keyspace string
	log      *zap.Logger
	metrics  *Metrics

	state        atomic.Int32
	lastGlobalTS atomic.Int64
	creationTS   int64

	lastCommit sync.Map // string(user_key) -> int64
	tsIdx      *tsIndex
	stats      statCounters

	iterLeases sync.WaitGroup
	closeOnce  sync.Once
}

// Open opens (creating if absent) the Temporal Data Matrix for keyspace
// within db. creationTimestamp seeds invariant I4 the first time this
// keyspace is ever opened; on subsequent opens the value persisted in the
// keyspace's \0META record is authoritative and creationTimestamp is
// ignored, matching the spec's "created once at matrix birth; immutable".
func Open(ctx context.Context, db kv.RwDB, keyspace string, creationTimestamp int64, opts Options) (*Matrix, error) {
	if keyspace == "" {
		return nil, newErr(InvalidArgument, "Open", "keyspace must be non-empty")
	}
	if creationTimestamp < 0 {
		return nil, newErr(InvalidArgument, "Open", "creation timestamp must be non-negative")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = defaultMetrics()
	}

	m := &Matrix{
		db:       db,
		keyspace: keyspace,
		log:      log.With(zap.String("keyspace", keyspace)),
		metrics:  metrics,
		tsIdx:    newTSIndex(),
	}

	err := db.Update(ctx, func(tx kv.RwTx) error {
		if err := tx.CreateTable(primaryTable(keyspace)); err != nil {
			return err
		}
		if err := tx.CreateTable(tsIndexTable(keyspace)); err != nil {
			return err
		}
		raw, err := tx.Get(primaryTable(keyspace), metaKey)
		if errors.Is(err, kv.ErrKeyNotFound) {
			m.creationTS = creationTimestamp
			m.lastGlobalTS.Store(mathutil.ClampFloor(creationTimestamp-1, mathutil.MinInt64))
			return tx.Put(primaryTable(keyspace), metaKey, encodeMeta(m.creationTS, m.lastGlobalTS.Load()))
		}
		if err != nil {
			return wrapErr(StorageFailure, "Open", "reading metadata record", err)
		}
		creationTS, lastGlobalTS, decErr := decodeMeta(raw)
		if decErr != nil {
			return decErr
		}
		m.creationTS = creationTS
		m.lastGlobalTS.Store(lastGlobalTS)
		return nil
	})
	if err != nil {
		return nil, asMatrixError(err, "Open")
	}

	m.log.Info("matrix opened", zap.Int64("creation_timestamp", m.creationTS))
	m.metrics.matricesOpen.Inc()
	return m, nil
}

func encodeMeta(creationTS, lastGlobalTS int64) []byte {
	a := encodeTimestamp(creationTS)
	b := encodeTimestamp(lastGlobalTS)
	out := make([]byte, 0, 16)
	out = append(out, a[:]...)
	return append(out, b[:]...)
}

func decodeMeta(raw []byte) (creationTS, lastGlobalTS int64, err *Error) {
	if len(raw) != 16 {
		return 0, 0, errStorageCorrupt("malformed metadata record")
	}
	return decodeTimestamp(raw[:8]), decodeTimestamp(raw[8:]), nil
}

// Keyspace returns the keyspace name this Matrix was opened for.
func (m *Matrix) Keyspace() string { return m.keyspace }

// CreationTimestamp returns the immutable floor established at first Open.
func (m *Matrix) CreationTimestamp() int64 { return m.creationTS }

func (m *Matrix) checkOpenForWrite(op string) *Error {
	switch lifecycleState(m.state.Load()) {
	case stateClosing, stateClosed:
		return newErr(MatrixClosed, op, "matrix is closing or closed")
	default:
		return nil
	}
}

func (m *Matrix) checkOpenForRead(op string) *Error {
	if lifecycleState(m.state.Load()) == stateClosed {
		return newErr(MatrixClosed, op, "matrix is closed")
	}
	return nil
}

// Close transitions the matrix Open -> Closing -> Closed, rejecting new
// writes immediately and blocking until every outstanding iterator lease
// (acquired via AllEntriesIterator) has been released before returning.
// Close is idempotent; only the first call does any work.
func (m *Matrix) Close() error {
	m.closeOnce.Do(func() {
		m.state.Store(int32(stateClosing))
		m.log.Info("matrix closing, draining iterator leases")
		m.iterLeases.Wait()
		m.state.Store(int32(stateClosed))
		m.metrics.matricesOpen.Dec()
		m.log.Info("matrix closed")
	})
	return nil
}

func zapErr(err error) zap.Field { return zap.Error(err) }

func asMatrixError(err error, op string) error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*Error); ok {
		return me
	}
	return wrapErr(StorageFailure, op, "underlying store operation failed", err)
}

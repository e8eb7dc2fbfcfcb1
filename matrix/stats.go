// Copyright 2025 The Chronos Authors
// This file is part of chronos/tdm.

package matrix

import (
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

// Stats is a cheap, always-available snapshot of counters a Matrix keeps
// in memory alongside its storage, the way a simple KV store's Stats()
// exposes operation counts without requiring a full index scan.
type Stats struct {
	EntriesWritten uint64
	BytesWritten   uint64
	Rollbacks      uint64
}

type statCounters struct {
	entriesWritten atomic.Uint64
	bytesWritten   atomic.Uint64
	rollbacks      atomic.Uint64
}

func (c *statCounters) recordWrite(n int, bytes int) {
	c.entriesWritten.Add(uint64(n))
	c.bytesWritten.Add(uint64(bytes))
}

func (c *statCounters) recordRollback() {
	c.rollbacks.Add(1)
}

// Stats returns a snapshot of this Matrix's in-memory counters.
func (m *Matrix) Stats() Stats {
	return Stats{
		EntriesWritten: m.stats.entriesWritten.Load(),
		BytesWritten:   m.stats.bytesWritten.Load(),
		Rollbacks:      m.stats.rollbacks.Load(),
	}
}

// logStats emits a human-readable summary at Info, formatting the byte
// counter with datasize the way the teacher formats on-disk sizes
// elsewhere in its logging.
func (m *Matrix) logStats() {
	s := m.Stats()
	m.log.Info("matrix stats",
		zap.Uint64("entries_written", s.EntriesWritten),
		zap.Stringer("bytes_written", datasize.ByteSize(s.BytesWritten)),
		zap.Uint64("rollbacks", s.Rollbacks),
	)
}

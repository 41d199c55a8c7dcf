// Package tsindex maintains an ordered mapping from entry timestamps to
// commitlog offsets. Keys are (timestamp, offset) pairs, so entries sharing a
// timestamp are ordered by insertion.
//
// Implementations are not safe for concurrent mutation: callers serialize
// Insert and Reset, and may run lookups concurrently between writes.
package tsindex

import (
	"encoding/binary"
	"errors"

	"go.uber.org/zap"
)

var (
	ErrUnknownBackend = errors.New("unknown index backend")
)

var encoding = binary.BigEndian

// Index resolves timestamps to log offsets.
type Index interface {
	// Insert records that the entry at offset carries timestamp ts.
	Insert(ts, offset uint64) error
	// Lookup returns the lowest offset stored under ts.
	Lookup(ts uint64) (uint64, bool, error)
	// Range calls f in (timestamp, offset) order for every key with
	// from <= timestamp <= to, until f returns false.
	Range(from, to uint64, f func(ts, offset uint64) bool) error
	// Bounds returns the lowest and highest indexed timestamps.
	Bounds() (min uint64, max uint64, ok bool, err error)
	Len() uint64
	// NextOffset is one past the highest indexed offset.
	NextOffset() uint64
	// Reset drops every key.
	Reset() error
	Close() error
}

type key struct {
	ts     uint64
	offset uint64
}

func (k key) less(o key) bool {
	if k.ts == o.ts {
		return k.offset < o.offset
	}
	return k.ts < o.ts
}

// Open returns the index backend named by backend. datadir is only used by
// persistent backends.
func Open(backend, datadir string, logger *zap.Logger) (Index, error) {
	switch backend {
	case "memory", "":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(datadir, logger)
	default:
		return nil, ErrUnknownBackend
	}
}

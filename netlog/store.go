package netlog

import (
	"context"
	"io"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vx-labs/netlog/commitlog"
	"github.com/vx-labs/netlog/netlog/stats"
	"github.com/vx-labs/netlog/tsindex"
	"go.uber.org/zap"
)

type StoreConfig struct {
	Datadir               string
	SegmentMaxRecordCount uint64
	IndexBackend          string
}

// Store is the network log entry store. The commitlog is the source of truth;
// the timestamp index is derived from it and caught up on Open.
// Appends are serialized by the store lock, queries share it.
type Store struct {
	mtx   sync.RWMutex
	log   commitlog.CommitLog
	index tsindex.Index
}

func Open(ctx context.Context, config StoreConfig) (*Store, error) {
	if config.SegmentMaxRecordCount == 0 {
		config.SegmentMaxRecordCount = 10000
	}
	logger := L(ctx).With(zap.String("store_datadir", config.Datadir))
	start := time.Now()
	log, err := commitlog.Open(path.Join(config.Datadir, "log"), config.SegmentMaxRecordCount)
	if err != nil {
		return nil, storageError("open log", err)
	}
	logger.Debug("commit log opened", zap.Duration("elapsed_time", time.Since(start)), zap.Uint64("current_log_offset", log.Offset()))
	index, err := tsindex.Open(config.IndexBackend, path.Join(config.Datadir, "index"), logger)
	if err != nil {
		log.Close()
		return nil, storageError("open index", err)
	}
	s := &Store{log: log, index: index}
	err = s.catchUp(logger)
	if err != nil {
		s.Close()
		return nil, storageError("rebuild index", err)
	}
	logger.Info("store loaded", zap.Uint64("entry_count", log.Offset()),
		zap.String("index_backend", config.IndexBackend), zap.Duration("elapsed_time", time.Since(start)))
	return s, nil
}

// catchUp indexes every log entry the index has not seen yet.
func (s *Store) catchUp(logger *zap.Logger) error {
	from := s.index.NextOffset()
	if from > s.log.Offset() {
		logger.Warn("index is ahead of the log, rebuilding it",
			zap.Uint64("index_offset", from), zap.Uint64("log_offset", s.log.Offset()))
		err := s.index.Reset()
		if err != nil {
			return err
		}
		from = 0
	}
	cursor := s.log.Reader(from)
	var count int
	for {
		entry, err := cursor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		err = s.index.Insert(entry.Timestamp(), entry.Offset())
		if err != nil {
			return err
		}
		count++
	}
	if count > 0 {
		logger.Info("index caught up", zap.Int("indexed_entries", count), zap.Uint64("from_offset", from))
	}
	return nil
}

func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	indexErr := s.index.Close()
	err := s.log.Close()
	if err == nil {
		err = indexErr
	}
	return err
}

// Append durably stores an entry. The entry is synced to disk and indexed
// before Append returns.
func (s *Store) Append(ctx context.Context, ts uint64, payload []byte) (LogEntry, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	offset, err := s.log.WriteEntry(ts, payload)
	if err != nil {
		return LogEntry{}, storageError("append", err)
	}
	err = s.index.Insert(ts, offset)
	if err != nil {
		L(ctx).Error("failed to index entry, it will be indexed on next start",
			zap.Uint64("entry_offset", offset), zap.Error(err))
		return LogEntry{}, storageError("index", err)
	}
	stats.Counter("appendedEntries").Inc()
	return LogEntry{Timestamp: ts, Offset: offset, Payload: payload}, nil
}

// Get returns the entry stored under ts. When several entries share ts, the
// first one appended wins.
func (s *Store) Get(ts uint64) (LogEntry, error) {
	s.mtx.RLock()
	offset, found, err := s.index.Lookup(ts)
	s.mtx.RUnlock()
	if err != nil {
		return LogEntry{}, storageError("lookup", err)
	}
	if !found {
		return LogEntry{}, ErrNotFound
	}
	return s.read(offset)
}

func (s *Store) read(offset uint64) (LogEntry, error) {
	entry, err := s.log.ReadEntry(offset)
	if err != nil {
		return LogEntry{}, storageError("read", errors.Wrapf(err, "offset %d", offset))
	}
	return LogEntry{
		Timestamp: entry.Timestamp(),
		Offset:    entry.Offset(),
		Payload:   entry.Payload(),
	}, nil
}

// Scan returns the entries with from <= timestamp <= to, in timestamp order
// then insertion order. A reversed range yields an empty scanner.
// Matching offsets are resolved when Scan is called; entries are read lazily.
func (s *Store) Scan(from, to uint64) (*Scanner, error) {
	offsets := []uint64{}
	s.mtx.RLock()
	err := s.index.Range(from, to, func(_, offset uint64) bool {
		offsets = append(offsets, offset)
		return true
	})
	s.mtx.RUnlock()
	if err != nil {
		return nil, storageError("scan", err)
	}
	return &Scanner{store: s, offsets: offsets}, nil
}

// Export writes the raw log frames of every entry, in offset order, to w.
// The output can be read back with commitlog.NewDecoder.
func (s *Store) Export(w io.Writer) (int64, error) {
	n, err := s.log.Reader(0).WriteTo(w)
	if err != nil {
		return n, storageError("export", err)
	}
	return n, nil
}

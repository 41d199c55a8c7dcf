package netlog

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/netlog/tsindex"
	"go.uber.org/zap"
)

var indexBackends = []string{"memory", "badger"}

func testContext() context.Context {
	return StoreLogger(context.Background(), zap.NewNop())
}

func openStore(t *testing.T, datadir, backend string) *Store {
	s, err := Open(testContext(), StoreConfig{
		Datadir:               datadir,
		SegmentMaxRecordCount: 4,
		IndexBackend:          backend,
	})
	require.NoError(t, err)
	return s
}

func appendAll(t *testing.T, s *Store, timestamps ...uint64) {
	for _, ts := range timestamps {
		_, err := s.Append(testContext(), ts, []byte(fmt.Sprintf(`{"ts":%d}`, ts)))
		require.NoError(t, err)
	}
}

func timestampsOf(entries []LogEntry) []uint64 {
	out := make([]uint64, len(entries))
	for idx := range entries {
		out[idx] = entries[idx].Timestamp
	}
	return out
}

func TestStore(t *testing.T) {
	for _, backend := range indexBackends {
		t.Run(backend, func(t *testing.T) {
			datadir := t.TempDir()
			s := openStore(t, datadir, backend)
			defer func() { s.Close() }()

			t.Run("should report not found on an empty store", func(t *testing.T) {
				_, err := s.Get(5)
				require.Equal(t, ErrNotFound, err)
			})
			t.Run("should return an appended entry", func(t *testing.T) {
				entry, err := s.Append(testContext(), 20, []byte("first"))
				require.NoError(t, err)
				require.Equal(t, uint64(0), entry.Offset)
				got, err := s.Get(20)
				require.NoError(t, err)
				require.Equal(t, entry, got)
			})
			appendAll(t, s, 30, 10, 20, 50, 40)

			t.Run("should resolve duplicate timestamps to the first appended entry", func(t *testing.T) {
				got, err := s.Get(20)
				require.NoError(t, err)
				require.Equal(t, []byte("first"), got.Payload)
				require.Equal(t, uint64(0), got.Offset)
			})
			t.Run("should scan in timestamp order", func(t *testing.T) {
				scanner, err := s.Scan(10, 40)
				require.NoError(t, err)
				entries, err := scanner.All()
				require.NoError(t, err)
				require.Equal(t, []uint64{10, 20, 20, 30, 40}, timestampsOf(entries))
				require.Equal(t, []byte("first"), entries[1].Payload)
				require.Equal(t, []byte(`{"ts":20}`), entries[2].Payload)
			})
			t.Run("should return the same sequence twice", func(t *testing.T) {
				scanner, err := s.Scan(0, 100)
				require.NoError(t, err)
				first, err := scanner.All()
				require.NoError(t, err)
				scanner.Reset()
				again, err := scanner.All()
				require.NoError(t, err)
				require.Equal(t, first, again)
				other, err := s.Scan(0, 100)
				require.NoError(t, err)
				third, err := other.All()
				require.NoError(t, err)
				require.Equal(t, first, third)
			})
			t.Run("should return an empty sequence for a reversed range", func(t *testing.T) {
				scanner, err := s.Scan(40, 10)
				require.NoError(t, err)
				require.Equal(t, 0, scanner.Len())
				_, err = scanner.Next()
				require.Equal(t, io.EOF, err)
			})
			t.Run("should report metadata", func(t *testing.T) {
				md, err := s.Info()
				require.NoError(t, err)
				require.Equal(t, uint64(6), md.Count)
				require.Equal(t, uint64(10), *md.MinTimestamp)
				require.Equal(t, uint64(50), *md.MaxTimestamp)
				require.Equal(t, uint64(2), md.SegmentCount)
			})
			t.Run("should reload the same content after a restart", func(t *testing.T) {
				require.NoError(t, s.Close())
				s = openStore(t, datadir, backend)
				scanner, err := s.Scan(0, 100)
				require.NoError(t, err)
				entries, err := scanner.All()
				require.NoError(t, err)
				require.Equal(t, []uint64{10, 20, 20, 30, 40, 50}, timestampsOf(entries))
				got, err := s.Get(20)
				require.NoError(t, err)
				require.Equal(t, []byte("first"), got.Payload)
			})
		})
	}
}

func TestStore_Info_Empty(t *testing.T) {
	s := openStore(t, t.TempDir(), "memory")
	defer s.Close()
	md, err := s.Info()
	require.NoError(t, err)
	require.Equal(t, uint64(0), md.Count)
	require.Nil(t, md.MinTimestamp)
	require.Nil(t, md.MaxTimestamp)
}

func TestStore_BadgerCatchUp(t *testing.T) {
	datadir := t.TempDir()
	s := openStore(t, datadir, "memory")
	appendAll(t, s, 3, 1, 2)
	require.NoError(t, s.Close())

	s = openStore(t, datadir, "badger")
	defer s.Close()
	require.Equal(t, uint64(3), s.index.Len())
	scanner, err := s.Scan(0, 10)
	require.NoError(t, err)
	entries, err := scanner.All()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, timestampsOf(entries))
}

func TestStore_StorageError(t *testing.T) {
	s := openStore(t, t.TempDir(), "memory")
	appendAll(t, s, 1)
	scanner, err := s.Scan(0, 10)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Append(testContext(), 2, []byte("late"))
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	_, err = scanner.Next()
	require.True(t, errors.As(err, &storageErr))
	_, err = s.Get(1)
	require.True(t, errors.As(err, &storageErr))
}

type failingIndex struct {
	tsindex.Index
}

func (failingIndex) Insert(ts, offset uint64) error {
	return errors.New("index unavailable")
}

func TestStore_IndexFailure(t *testing.T) {
	datadir := t.TempDir()
	s := openStore(t, datadir, "memory")
	appendAll(t, s, 10, 20)
	index := s.index
	s.index = failingIndex{Index: index}

	_, err := s.Append(testContext(), 30, []byte("unindexed"))
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	_, err = s.Get(30)
	require.Equal(t, ErrNotFound, err)

	md, err := s.Info()
	require.NoError(t, err)
	require.Equal(t, uint64(2), md.Count)
	require.Equal(t, uint64(10), *md.MinTimestamp)
	require.Equal(t, uint64(20), *md.MaxTimestamp)
	s.index = index
	require.NoError(t, s.Close())

	s = openStore(t, datadir, "memory")
	defer s.Close()
	md, err = s.Info()
	require.NoError(t, err)
	require.Equal(t, uint64(3), md.Count)
	require.Equal(t, uint64(30), *md.MaxTimestamp)
	entry, err := s.Get(30)
	require.NoError(t, err)
	require.Equal(t, "unindexed", string(entry.Payload))
}

func TestStore_Concurrency(t *testing.T) {
	s := openStore(t, t.TempDir(), "memory")
	defer s.Close()
	const writers = 4
	const perWriter = 25
	wg := sync.WaitGroup{}
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(testContext(), uint64(i), []byte(fmt.Sprintf("%d-%d", w, i)))
				assert.NoError(t, err)
			}
		}(w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				scanner, err := s.Scan(0, perWriter)
				if !assert.NoError(t, err) {
					return
				}
				entries, err := scanner.All()
				if !assert.NoError(t, err) {
					return
				}
				for idx := 1; idx < len(entries); idx++ {
					assert.True(t, entries[idx-1].Timestamp <= entries[idx].Timestamp)
				}
			}
		}()
	}
	wg.Wait()
	md, err := s.Info()
	require.NoError(t, err)
	require.Equal(t, uint64(writers*perWriter), md.Count)
}

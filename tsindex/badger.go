package tsindex

import (
	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	keyPrefix     = []byte("k/")
	nextOffsetKey = []byte("m/next_offset")
	countKey      = []byte("m/count")
)

const encodedKeySize = 2 + 8 + 8

type badgerIndex struct {
	db         *badger.DB
	nextOffset uint64
	count      uint64
}

// OpenBadger opens, or creates, an index persisted in a badger database
// stored in datadir.
func OpenBadger(datadir string, logger *zap.Logger) (Index, error) {
	opts := badger.DefaultOptions(datadir).
		WithLogger(&badgerLogger{l: logger.Sugar()}).
		WithSyncWrites(false).
		WithTruncate(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger index")
	}
	b := &badgerIndex{db: db}
	err = db.View(func(txn *badger.Txn) error {
		var err error
		b.nextOffset, err = readCounter(txn, nextOffsetKey)
		if err != nil {
			return err
		}
		b.count, err = readCounter(txn, countKey)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to load badger index metadata")
	}
	return b, nil
}

func readCounter(txn *badger.Txn, k []byte) (uint64, error) {
	item, err := txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var out uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.Errorf("invalid counter %q", k)
		}
		out = encoding.Uint64(val)
		return nil
	})
	return out, err
}

func counterValue(v uint64) []byte {
	buf := make([]byte, 8)
	encoding.PutUint64(buf, v)
	return buf
}

func encodeKey(k key) []byte {
	buf := make([]byte, encodedKeySize)
	copy(buf, keyPrefix)
	encoding.PutUint64(buf[2:10], k.ts)
	encoding.PutUint64(buf[10:18], k.offset)
	return buf
}

func decodeKey(buf []byte) key {
	return key{
		ts:     encoding.Uint64(buf[2:10]),
		offset: encoding.Uint64(buf[10:18]),
	}
}

func (b *badgerIndex) Insert(ts, offset uint64) error {
	nextOffset := b.nextOffset
	if offset >= nextOffset {
		nextOffset = offset + 1
	}
	var inserted bool
	err := b.db.Update(func(txn *badger.Txn) error {
		k := encodeKey(key{ts: ts, offset: offset})
		_, err := txn.Get(k)
		if err == nil {
			return txn.Set(nextOffsetKey, counterValue(nextOffset))
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(k, []byte{}); err != nil {
			return err
		}
		if err := txn.Set(countKey, counterValue(b.count+1)); err != nil {
			return err
		}
		inserted = true
		return txn.Set(nextOffsetKey, counterValue(nextOffset))
	})
	if err != nil {
		return errors.Wrap(err, "failed to insert index key")
	}
	if inserted {
		b.count++
	}
	b.nextOffset = nextOffset
	return nil
}

// first returns the first key at or after start in the requested direction.
func (b *badgerIndex) first(start []byte, reverse bool) (key, bool, error) {
	var out key
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(start)
		if it.ValidForPrefix(keyPrefix) {
			out = decodeKey(it.Item().Key())
			found = true
		}
		return nil
	})
	return out, found, err
}

func (b *badgerIndex) Lookup(ts uint64) (uint64, bool, error) {
	k, found, err := b.first(encodeKey(key{ts: ts}), false)
	if err != nil || !found || k.ts != ts {
		return 0, false, err
	}
	return k.offset, true, nil
}

func (b *badgerIndex) Range(from, to uint64, f func(ts, offset uint64) bool) error {
	if from > to {
		return nil
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(encodeKey(key{ts: from})); it.ValidForPrefix(keyPrefix); it.Next() {
			k := decodeKey(it.Item().Key())
			if k.ts > to || !f(k.ts, k.offset) {
				return nil
			}
		}
		return nil
	})
}

func (b *badgerIndex) Bounds() (uint64, uint64, bool, error) {
	min, found, err := b.first(keyPrefix, false)
	if err != nil || !found {
		return 0, 0, false, err
	}
	max, _, err := b.first(encodeKey(key{ts: ^uint64(0), offset: ^uint64(0)}), true)
	if err != nil {
		return 0, 0, false, err
	}
	return min.ts, max.ts, true, nil
}

func (b *badgerIndex) Len() uint64 {
	return b.count
}

func (b *badgerIndex) NextOffset() uint64 {
	return b.nextOffset
}

func (b *badgerIndex) Reset() error {
	err := b.db.DropAll()
	if err != nil {
		return errors.Wrap(err, "failed to drop badger index")
	}
	b.nextOffset = 0
	b.count = 0
	return nil
}

func (b *badgerIndex) Close() error {
	return b.db.Close()
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b *badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b *badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (b *badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(f, v...) }
func (b *badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debugf(f, v...) }

package tsindex

import (
	"github.com/google/btree"
)

const btreeDegree = 32

type memory struct {
	tree       *btree.BTreeG[key]
	nextOffset uint64
}

// NewMemory returns an index held in a B-tree. It is rebuilt from the log on
// every start.
func NewMemory() Index {
	return &memory{tree: btree.NewG[key](btreeDegree, key.less)}
}

func (m *memory) Insert(ts, offset uint64) error {
	m.tree.ReplaceOrInsert(key{ts: ts, offset: offset})
	if offset >= m.nextOffset {
		m.nextOffset = offset + 1
	}
	return nil
}

func (m *memory) Lookup(ts uint64) (uint64, bool, error) {
	var out uint64
	var found bool
	m.tree.AscendGreaterOrEqual(key{ts: ts}, func(k key) bool {
		if k.ts == ts {
			out = k.offset
			found = true
		}
		return false
	})
	return out, found, nil
}

func (m *memory) Range(from, to uint64, f func(ts, offset uint64) bool) error {
	if from > to {
		return nil
	}
	m.tree.AscendGreaterOrEqual(key{ts: from}, func(k key) bool {
		if k.ts > to {
			return false
		}
		return f(k.ts, k.offset)
	})
	return nil
}

func (m *memory) Bounds() (uint64, uint64, bool, error) {
	min, ok := m.tree.Min()
	if !ok {
		return 0, 0, false, nil
	}
	max, _ := m.tree.Max()
	return min.ts, max.ts, true, nil
}

func (m *memory) Len() uint64 {
	return uint64(m.tree.Len())
}

func (m *memory) NextOffset() uint64 {
	return m.nextOffset
}

func (m *memory) Reset() error {
	m.tree.Clear(false)
	m.nextOffset = 0
	return nil
}

func (m *memory) Close() error {
	return nil
}

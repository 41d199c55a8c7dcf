package commitlog

import (
	"io"
	"sync"
)

// Cursor walks the log in offset order. Next returns io.EOF once every
// entry written before the call has been returned.
type Cursor interface {
	Next() (Entry, error)
	io.WriterTo
}

type cursor struct {
	mtx    sync.Mutex
	offset uint64
	log    *commitLog
}

func (c *cursor) Next() (Entry, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.next()
}

func (c *cursor) next() (Entry, error) {
	entry, err := c.log.ReadEntry(c.offset)
	if err != nil {
		return nil, err
	}
	c.offset++
	return entry, nil
}

// WriteTo copies the raw encoded form of the remaining entries to w.
func (c *cursor) WriteTo(w io.Writer) (int64, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var total int64
	for {
		entry, err := c.next()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := writeEntry(entry, w)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

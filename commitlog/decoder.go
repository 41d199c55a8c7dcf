package commitlog

import (
	"bufio"
	"io"
)

// Decoder reads consecutive entries from a raw log stream.
type Decoder interface {
	Decode() (Entry, error)
}

type decoder struct {
	headerBuf []byte
	r         io.Reader
}

func (d *decoder) Decode() (Entry, error) {
	return readEntry(d.r, d.headerBuf)
}

func NewDecoder(r io.Reader) Decoder {
	return &decoder{r: bufio.NewReader(r), headerBuf: make([]byte, EntryHeaderSize)}
}

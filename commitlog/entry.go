package commitlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

var (
	ErrInvalidBufferSize        = errors.New("invalid buffer size")
	ErrEntryTooBig              = errors.New("entry is too big")
	ErrCorruptedEntry           = errors.New("entry corrupted")
	MaxEntrySize         uint64 = 20000000
)

const (
	checksumSize    int = 4
	EntryHeaderSize int = 8 + 8 + 8 + checksumSize
)

var encoding = binary.BigEndian

// Entry is a record stored in the log. Entries are immutable once written.
type Entry interface {
	Size() uint64
	Offset() uint64
	Timestamp() uint64
	Checksum() uint32
	Payload() []byte
	IsValid() bool
}

type entry struct {
	payloadSize uint64
	offset      uint64
	timestamp   uint64
	checksum    uint32
	payload     []byte
}

func (e entry) Size() uint64      { return e.payloadSize }
func (e entry) Offset() uint64    { return e.offset }
func (e entry) Timestamp() uint64 { return e.timestamp }
func (e entry) Payload() []byte   { return e.payload }
func (e entry) Checksum() uint32  { return e.checksum }
func (e entry) IsValid() bool {
	return e.payloadSize == uint64(len(e.payload)) && crc32.ChecksumIEEE(e.payload) == e.checksum
}

func newEntry(ts, offset uint64, payload []byte) Entry {
	return entry{
		payloadSize: uint64(len(payload)),
		offset:      offset,
		timestamp:   ts,
		checksum:    crc32.ChecksumIEEE(payload),
		payload:     payload,
	}
}

// encodedSize returns the on-disk footprint of an entry.
func encodedSize(e Entry) uint64 {
	return uint64(EntryHeaderSize) + e.Size()
}

func readEntry(r io.Reader, buf []byte) (Entry, error) {
	if len(buf) != EntryHeaderSize {
		return nil, ErrInvalidBufferSize
	}
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}
	payloadSize := encoding.Uint64(buf[0:8])
	if payloadSize > MaxEntrySize {
		return nil, ErrEntryTooBig
	}
	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(r, payload)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	e := decodeHeader(buf)
	e.payload = payload
	if !e.IsValid() {
		return nil, ErrCorruptedEntry
	}
	return e, nil
}

func decodeHeader(buf []byte) entry {
	return entry{
		payloadSize: encoding.Uint64(buf[0:8]),
		offset:      encoding.Uint64(buf[8:16]),
		timestamp:   encoding.Uint64(buf[16:24]),
		checksum:    encoding.Uint32(buf[24 : 24+checksumSize]),
	}
}

func encodeEntry(e Entry) ([]byte, error) {
	if e.Size() > MaxEntrySize {
		return nil, ErrEntryTooBig
	}
	buf := make([]byte, encodedSize(e))
	encoding.PutUint64(buf[0:8], e.Size())
	encoding.PutUint64(buf[8:16], e.Offset())
	encoding.PutUint64(buf[16:24], e.Timestamp())
	encoding.PutUint32(buf[24:28], e.Checksum())
	copy(buf[28:], e.Payload())
	return buf, nil
}

func writeEntry(e Entry, w io.Writer) (int, error) {
	buf, err := encodeEntry(e)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

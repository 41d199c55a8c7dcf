package commitlog

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
)

var (
	ErrSegmentAlreadyExists = errors.New("segment already exists")
	ErrSegmentDoesNotExist  = errors.New("segment does not exist")
	ErrSegmentFull          = errors.New("segment is full")
	ErrSegmentCorrupt       = errors.New("segment corrupted")
	ErrOffsetOutOfRange     = errors.New("offset out of segment range")
)

type Segment interface {
	BaseOffset() uint64
	CurrentOffset() uint64
	Size() uint64
	WriteEntry(ts uint64, value []byte) (uint64, error)
	ReadEntryAt(offset uint64) (Entry, error)
	io.Closer
}

// segment is a single log file holding at most maxRecordCount entries.
// positions maps a segment-relative offset to its byte position in the file;
// it is rebuilt by scanning the file when the segment is opened.
// segment does not synchronize access: the owning commitLog does.
type segment struct {
	baseOffset      uint64
	currentOffset   uint64
	currentPosition uint64
	fd              *os.File
	positions       []uint64
	maxRecordCount  uint64
}

func segmentName(datadir string, id uint64) string {
	return path.Join(datadir, fmt.Sprintf("%d.log", id))
}

func (s *segment) Close() error {
	return s.fd.Close()
}
func (s *segment) BaseOffset() uint64 {
	return s.baseOffset
}
func (s *segment) CurrentOffset() uint64 {
	return s.currentOffset
}
func (s *segment) Size() uint64 {
	return s.currentPosition
}

func createSegment(datadir string, id uint64, maxRecordCount uint64) (Segment, error) {
	filename := segmentName(datadir, id)
	if fileExists(filename) {
		return nil, ErrSegmentAlreadyExists
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return nil, err
	}
	return &segment{
		baseOffset:     id,
		maxRecordCount: maxRecordCount,
		positions:      make([]uint64, 0, maxRecordCount),
		fd:             fd,
	}, nil
}

// openSegment opens an existing segment and rebuilds its position table.
// When repair is set, a torn trailing entry is truncated away instead of
// failing the open: it can only come from a write that was never acknowledged.
func openSegment(datadir string, id uint64, maxRecordCount uint64, repair bool) (Segment, error) {
	filename := segmentName(datadir, id)
	if !fileExists(filename) {
		return nil, ErrSegmentDoesNotExist
	}
	fd, err := os.OpenFile(filename, os.O_RDWR, 0640)
	if err != nil {
		return nil, err
	}
	s := &segment{
		baseOffset:     id,
		maxRecordCount: maxRecordCount,
		positions:      make([]uint64, 0, maxRecordCount),
		fd:             fd,
	}
	err = s.recover(repair)
	if err != nil {
		fd.Close()
		return nil, err
	}
	return s, nil
}

func (s *segment) recover(repair bool) error {
	info, err := s.fd.Stat()
	if err != nil {
		return err
	}
	fileSize := uint64(info.Size())
	dec := NewDecoder(io.NewSectionReader(s.fd, 0, info.Size()))
	var position uint64
	for {
		e, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			// The entry runs past the end of the file.
			if !repair {
				return ErrSegmentCorrupt
			}
			return s.truncate(position)
		}
		if err != nil {
			return errors.Wrapf(ErrSegmentCorrupt, "entry at position %d: %v", position, err)
		}
		if e.Offset() != s.baseOffset+s.currentOffset {
			return errors.Wrapf(ErrSegmentCorrupt, "unexpected offset %d at position %d", e.Offset(), position)
		}
		if s.currentOffset >= s.maxRecordCount {
			return errors.Wrapf(ErrSegmentCorrupt, "segment holds more than %d entries", s.maxRecordCount)
		}
		s.positions = append(s.positions, position)
		s.currentOffset++
		position += encodedSize(e)
	}
	if position != fileSize {
		return ErrSegmentCorrupt
	}
	s.currentPosition = position
	return nil
}

func (s *segment) truncate(position uint64) error {
	err := s.fd.Truncate(int64(position))
	if err != nil {
		return err
	}
	s.currentPosition = position
	return s.fd.Sync()
}

func (s *segment) ReadEntryAt(offset uint64) (Entry, error) {
	if offset < s.baseOffset || offset >= s.baseOffset+s.currentOffset {
		return nil, ErrOffsetOutOfRange
	}
	position := s.positions[offset-s.baseOffset]
	buf := make([]byte, EntryHeaderSize)
	return readEntry(&readerAt{pos: position, r: s.fd}, buf)
}

// WriteEntry appends an entry and syncs the file before returning its
// absolute offset. A failed write is rolled back so the segment never
// exposes a partial entry.
func (s *segment) WriteEntry(ts uint64, value []byte) (uint64, error) {
	if s.currentOffset >= s.maxRecordCount {
		return 0, ErrSegmentFull
	}
	offset := s.baseOffset + s.currentOffset
	e := newEntry(ts, offset, value)
	n, err := writeEntry(e, &writerAt{pos: s.currentPosition, w: s.fd})
	if err == nil {
		err = s.fd.Sync()
	}
	if err != nil {
		s.fd.Truncate(int64(s.currentPosition))
		return 0, err
	}
	s.positions = append(s.positions, s.currentPosition)
	s.currentOffset++
	s.currentPosition += uint64(n)
	return offset, nil
}

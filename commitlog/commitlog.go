package commitlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrCorruptedLog = errors.New("corrupted commitlog")
	ErrClosed       = errors.New("commitlog is closed")
)

type commitLog struct {
	datadir               string
	mtx                   sync.RWMutex
	closed                bool
	activeSegment         Segment
	segments              []Segment
	segmentMaxRecordCount uint64
}

// CommitLog is an append-only, segmented sequence of timestamped entries.
// Offsets are assigned in insertion order, starting at zero.
type CommitLog interface {
	io.Closer
	WriteEntry(ts uint64, value []byte) (uint64, error)
	ReadEntry(offset uint64) (Entry, error)
	Reader(fromOffset uint64) Cursor
	Offset() uint64
	GetStatistics() Statistics
}

func logFiles(datadir string) []uint64 {
	matches, err := filepath.Glob(fmt.Sprintf("%s/*.log", datadir))
	if err != nil {
		return nil
	}
	out := make([]uint64, 0)
	for idx := range matches {
		offsetStr := strings.TrimSuffix(filepath.Base(matches[idx]), ".log")
		offset, err := strconv.ParseUint(offsetStr, 10, 64)
		if err == nil {
			out = append(out, offset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open opens the log stored in datadir, creating it if needed.
// segmentMaxRecordCount must not change once a log has been created.
func Open(datadir string, segmentMaxRecordCount uint64) (CommitLog, error) {
	if segmentMaxRecordCount == 0 {
		return nil, errors.New("segment max record count must be positive")
	}
	files := logFiles(datadir)
	if len(files) > 0 {
		return open(datadir, files, segmentMaxRecordCount)
	}
	err := os.MkdirAll(datadir, 0750)
	if err != nil {
		return nil, err
	}
	return create(datadir, segmentMaxRecordCount)
}

func create(datadir string, segmentMaxRecordCount uint64) (*commitLog, error) {
	l := &commitLog{
		datadir:               datadir,
		segmentMaxRecordCount: segmentMaxRecordCount,
	}
	return l, l.appendSegment(0)
}

func open(datadir string, files []uint64, segmentMaxRecordCount uint64) (*commitLog, error) {
	l := &commitLog{
		datadir:               datadir,
		segmentMaxRecordCount: segmentMaxRecordCount,
	}
	for idx, offset := range files {
		if offset != uint64(idx)*segmentMaxRecordCount {
			l.closeSegments()
			return nil, errors.Wrapf(ErrCorruptedLog, "unexpected segment %d", offset)
		}
		last := idx == len(files)-1
		segment, err := openSegment(datadir, offset, segmentMaxRecordCount, last)
		if err != nil {
			l.closeSegments()
			return nil, errors.Wrapf(ErrCorruptedLog, "segment %d: %v", offset, err)
		}
		l.segments = append(l.segments, segment)
		if !last && segment.CurrentOffset() != segmentMaxRecordCount {
			l.closeSegments()
			return nil, errors.Wrapf(ErrCorruptedLog, "segment %d is not full", offset)
		}
	}
	l.activeSegment = l.segments[len(l.segments)-1]
	return l, nil
}

func (e *commitLog) closeSegments() error {
	var firstErr error
	for _, segment := range e.segments {
		if err := segment.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *commitLog) Offset() uint64 {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.offset()
}
func (e *commitLog) offset() uint64 {
	return e.activeSegment.BaseOffset() + e.activeSegment.CurrentOffset()
}

func (e *commitLog) Close() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.closeSegments()
}
func (e *commitLog) appendSegment(offset uint64) error {
	segment, err := createSegment(e.datadir, offset, e.segmentMaxRecordCount)
	if err != nil {
		return errors.Wrap(err, "failed to create new segment")
	}
	e.segments = append(e.segments, segment)
	e.activeSegment = segment
	return nil
}

// lookupOffset returns the index of the segment containing the provided offset
func (e *commitLog) lookupOffset(offset uint64) int {
	count := len(e.segments)
	idx := sort.Search(count, func(i int) bool {
		return e.segments[i].BaseOffset() > offset
	})
	return idx - 1
}

func (e *commitLog) ReadEntry(offset uint64) (Entry, error) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if offset >= e.offset() {
		return nil, io.EOF
	}
	idx := e.lookupOffset(offset)
	if idx < 0 {
		return nil, ErrOffsetOutOfRange
	}
	entry, err := e.segments[idx].ReadEntryAt(offset)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read entry %d", offset)
	}
	return entry, nil
}

func (e *commitLog) Reader(fromOffset uint64) Cursor {
	return &cursor{
		log:    e,
		offset: fromOffset,
	}
}

func (e *commitLog) WriteEntry(ts uint64, value []byte) (uint64, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	if segmentEntryCount := e.activeSegment.CurrentOffset(); segmentEntryCount >= e.segmentMaxRecordCount {
		err := e.appendSegment(uint64(len(e.segments)) * e.segmentMaxRecordCount)
		if err != nil {
			return 0, errors.Wrap(err, "failed to extend log")
		}
	}
	return e.activeSegment.WriteEntry(ts, value)
}

package netlog

import "io"

// Scanner iterates over the result of a Store.Scan call.
// A Scanner is not safe for concurrent use.
type Scanner struct {
	store   *Store
	offsets []uint64
	pos     int
}

// Next returns the next entry, or io.EOF once the scan is exhausted.
func (s *Scanner) Next() (LogEntry, error) {
	if s.pos >= len(s.offsets) {
		return LogEntry{}, io.EOF
	}
	entry, err := s.store.read(s.offsets[s.pos])
	if err != nil {
		return LogEntry{}, err
	}
	s.pos++
	return entry, nil
}

// Reset rewinds the scanner to its first entry.
func (s *Scanner) Reset() {
	s.pos = 0
}

// Len returns the total number of entries matched by the scan.
func (s *Scanner) Len() int {
	return len(s.offsets)
}

// All drains the scanner from its current position.
func (s *Scanner) All() ([]LogEntry, error) {
	out := make([]LogEntry, 0, len(s.offsets)-s.pos)
	for {
		entry, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
}

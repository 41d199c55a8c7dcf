package netlog

// Metadata describes the store content. It is computed on every call.
// Count and the timestamp bounds describe queryable entries: they come from
// the timestamp index. An entry whose indexing failed is counted once it has
// been indexed on the next start.
type Metadata struct {
	Count        uint64  `json:"count"`
	MinTimestamp *uint64 `json:"min_timestamp"`
	MaxTimestamp *uint64 `json:"max_timestamp"`
	SegmentCount uint64  `json:"segment_count"`
	StoredBytes  uint64  `json:"stored_bytes"`
}

func (s *Store) Info() (Metadata, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	statistics := s.log.GetStatistics()
	out := Metadata{
		Count:        s.index.Len(),
		SegmentCount: statistics.SegmentCount,
		StoredBytes:  statistics.StoredBytes,
	}
	min, max, ok, err := s.index.Bounds()
	if err != nil {
		return Metadata{}, storageError("info", err)
	}
	if ok {
		out.MinTimestamp = &min
		out.MaxTimestamp = &max
	}
	return out, nil
}

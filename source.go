package elk

import (
	"io"
	"sync"
)

// Source is the interface for getting raw items one at a time. Record returns
// io.EOF once the source is exhausted. Sources are consumed by a single
// Ingester and need not be restartable.
type Source interface {
	Record() (RawRecord, error)
}

// NamedReadCloser is an io.ReadCloser which also knows where its data came
// from, e.g. a file name or an S3 object key.
type NamedReadCloser interface {
	io.ReadCloser
	Name() string
}

// RawSource is the interface for getting a sequence of readers, each of which
// holds a dump of raw items. It returns io.EOF when there are no more readers.
type RawSource interface {
	NextReader() (NamedReadCloser, error)
}

// SliceSource is a Source over an in-memory slice of raw items.
type SliceSource struct {
	mu   sync.Mutex
	recs []RawRecord
}

// NewSliceSource gets a Source which yields recs in order.
func NewSliceSource(recs ...RawRecord) *SliceSource {
	return &SliceSource{recs: recs}
}

// Record implements Source.
func (s *SliceSource) Record() (RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

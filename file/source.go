package file

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/json"
	"github.com/pkg/errors"
)

// Source is an elk.Source which reads raw items from dump files on disk.
type Source struct {
	rawSource *RawSource
	records   chan record
	done      chan struct{}
	origin    string
}

// SrcOption is a functional option for the file Source.
type SrcOption func(s *Source) error

// OptSrcDefaultOrigin sets the origin of raw items which don't carry one, as
// happens with dumps written without backend metadata.
func OptSrcDefaultOrigin(origin string) SrcOption {
	return func(s *Source) error {
		s.origin = origin
		return nil
	}
}

// OptSrcPath sets the path name for the file or directory to use for source
// data.
func OptSrcPath(pathname string) SrcOption {
	return func(s *Source) (err error) {
		s.rawSource, err = NewRawSource(pathname)
		if err != nil {
			return errors.Wrap(err, "getting raw source")
		}
		return nil
	}
}

func (s *Source) run() {
	defer close(s.records)
	src := json.NewSourceFromRawSource(s.rawSource)
	for {
		var r record
		r.data, r.err = src.Record()
		if r.err == io.EOF {
			return
		}
		if r.err == nil && s.origin != "" {
			if _, ok := r.data["origin"]; !ok {
				r.data["origin"] = s.origin
			}
		}
		select {
		case s.records <- r:
		case <-s.done:
			return
		}
		if r.err != nil {
			return
		}
	}
}

// NewSource gets a new file source which will read raw items from a file or
// all files in a directory, in name order.
func NewSource(opts ...SrcOption) (*Source, error) {
	s := &Source{
		records: make(chan record, 100),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		err := opt(s)
		if err != nil {
			return nil, err
		}
	}
	if s.rawSource == nil {
		return nil, errors.New("no path given for file source")
	}
	go s.run()
	return s, nil
}

// Record implements elk.Source.
func (s *Source) Record() (elk.RawRecord, error) {
	rec, ok := <-s.records
	if !ok {
		return nil, io.EOF
	}
	return rec.data, rec.err
}

// Close stops reading. Records already read are dropped.
func (s *Source) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

type record struct {
	data elk.RawRecord
	err  error
}

// RawSource is an elk.RawSource over the files of a directory, or over a
// single file.
type RawSource struct {
	files   []string
	fileIdx *uint64
}

// NewRawSource gets a RawSource for pathname. Hidden files and
// subdirectories of a directory are skipped.
func NewRawSource(pathname string) (*RawSource, error) {
	fileIdx := uint64(0)
	s := &RawSource{
		fileIdx: &fileIdx,
	}
	info, err := os.Stat(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	if info.IsDir() {
		entries, err := os.ReadDir(pathname)
		if err != nil {
			return nil, errors.Wrap(err, "reading directory")
		}
		s.files = make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			s.files = append(s.files, filepath.Join(pathname, e.Name()))
		}
		sort.Strings(s.files)
	} else {
		s.files = []string{pathname}
	}
	return s, nil
}

type namedFile struct {
	*os.File
}

func (m *namedFile) Name() string {
	return filepath.Base(m.File.Name())
}

// NextReader implements elk.RawSource.
func (s *RawSource) NextReader() (elk.NamedReadCloser, error) {
	idx := atomic.AddUint64(s.fileIdx, 1) - 1
	if int(idx) >= len(s.files) {
		return nil, io.EOF
	}

	file, err := os.Open(s.files[idx])
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", s.files[idx])
	}
	return &namedFile{file}, nil
}

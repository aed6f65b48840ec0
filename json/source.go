package json

import (
	"bufio"
	"encoding/json"
	"io"
	"unicode"

	"github.com/grimoire/elk"
	"github.com/pkg/errors"
)

// Source is an elk.Source for reading raw items from a stream of JSON
// objects, or from a single JSON array of objects as written by a backend's
// dump. Numbers are kept as json.Number.
type Source struct {
	br      *bufio.Reader
	dec     *json.Decoder
	started bool
	inArray bool
}

// NewSource gets a new json source which will decode from the given reader.
func NewSource(r io.Reader) *Source {
	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)
	dec.UseNumber()
	return &Source{br: br, dec: dec}
}

// start looks at the first non-space byte to tell a stream of objects from
// an array.
func (s *Source) start() error {
	s.started = true
	for {
		b, err := s.br.Peek(1)
		if err != nil {
			return err
		}
		if !unicode.IsSpace(rune(b[0])) {
			if b[0] == '[' {
				s.inArray = true
				_, err = s.dec.Token()
				return err
			}
			return nil
		}
		if _, err := s.br.ReadByte(); err != nil {
			return err
		}
	}
}

// Record implements elk.Source. It returns the next JSON object that can be
// decoded from the reader.
func (s *Source) Record() (elk.RawRecord, error) {
	if !s.started {
		if err := s.start(); err != nil {
			return nil, err
		}
	}
	if s.inArray && !s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			return nil, errors.Wrap(err, "reading end of array")
		}
		return nil, io.EOF
	}
	var res elk.RawRecord
	if err := s.dec.Decode(&res); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Wrap(err, "decoding raw item")
	}
	if res == nil {
		return nil, errors.New("decoding raw item: got null")
	}
	return res, nil
}

type rawSourceSource struct {
	rs  elk.RawSource
	cur elk.NamedReadCloser
	s   *Source
}

// NewSourceFromRawSource gets an elk.Source which decodes every reader of
// rs in turn.
func NewSourceFromRawSource(rs elk.RawSource) elk.Source {
	return &rawSourceSource{rs: rs}
}

func (r *rawSourceSource) Record() (elk.RawRecord, error) {
	for {
		if r.s == nil {
			reader, err := r.rs.NextReader()
			if err == io.EOF {
				return nil, err
			} else if err != nil {
				return nil, errors.Wrap(err, "getting next reader")
			}
			r.cur, r.s = reader, NewSource(reader)
		}
		rec, err := r.s.Record()
		if err == io.EOF {
			r.cur.Close()
			r.cur, r.s = nil, nil
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "reading %s", r.cur.Name())
		}
		return rec, nil
	}
}

package elk

import (
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Charset is the text encoding bulk bodies are sent in.
type Charset string

// Supported charsets.
const (
	UTF8   Charset = "utf-8"
	ASCII  Charset = "ascii"
	Latin1 Charset = "iso-8859-1"
)

type charsetSpec struct {
	enc       encoding.Encoding
	encodable func(r rune) bool
}

var charsets = map[Charset]charsetSpec{
	UTF8: {
		enc:       encoding.Nop,
		encodable: func(r rune) bool { return true },
	},
	ASCII: {
		enc:       charmap.ISO8859_1,
		encodable: func(r rune) bool { return r < utf8.RuneSelf },
	},
	Latin1: {
		enc: charmap.ISO8859_1,
		encodable: func(r rune) bool {
			_, ok := charmap.ISO8859_1.EncodeRune(r)
			return ok
		},
	},
}

func (c Charset) spec() (charsetSpec, error) {
	s, ok := charsets[c]
	if !ok {
		return charsetSpec{}, errors.Errorf("unsupported charset '%s'", c)
	}
	return s, nil
}

// Valid returns an error if c is not a supported charset.
func (c Charset) Valid() error {
	_, err := c.spec()
	return err
}

// Encode converts a UTF-8 body to c. It returns an error whose cause is
// ErrEncoding if body is not valid UTF-8 or holds a character c can't
// represent.
func (c Charset) Encode(body []byte) ([]byte, error) {
	s, err := c.spec()
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(body); {
		r, size := utf8.DecodeRune(body[i:])
		if r == utf8.RuneError && size == 1 {
			return nil, errors.Wrapf(ErrEncoding, "invalid UTF-8 at byte %d", i)
		}
		if !s.encodable(r) {
			return nil, errors.Wrapf(ErrEncoding, "%q at byte %d not representable in %s", r, i, c)
		}
		i += size
	}
	out, err := s.enc.NewEncoder().Bytes(body)
	if err != nil {
		return nil, errors.Wrapf(ErrEncoding, "encoding to %s: %v", c, err)
	}
	return out, nil
}

// Sanitize is a lossy Encode: invalid UTF-8 and characters c can't represent
// are dropped.
func (c Charset) Sanitize(body []byte) ([]byte, error) {
	s, err := c.spec()
	if err != nil {
		return nil, err
	}
	strip := runes.Remove(runes.Predicate(func(r rune) bool {
		return r == utf8.RuneError || !s.encodable(r)
	}))
	clean, _, err := transform.Bytes(strip, body)
	if err != nil {
		return nil, errors.Wrap(err, "stripping unencodable characters")
	}
	return c.Encode(clean)
}

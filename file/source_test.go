package file

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/test"
)

func mustFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(contents), 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return p
}

func TestRawSource(t *testing.T) {
	d := t.TempDir()
	mustFile(t, d, "b.json", `hahahahahahahaha`)
	mustFile(t, d, "a.json", `blah blah blah`)
	mustFile(t, d, ".hidden", `nope`)
	if err := os.Mkdir(filepath.Join(d, "sub"), 0700); err != nil {
		t.Fatalf("making subdirectory: %v", err)
	}

	rs, err := NewRawSource(d)
	test.ErrNil(t, err, "NewRawSource")

	gotNames := make([]string, 0, 2)
	var reader elk.NamedReadCloser
	for reader, err = rs.NextReader(); err == nil; reader, err = rs.NextReader() {
		gotNames = append(gotNames, reader.Name())
		if _, err := ioutil.ReadAll(reader); err != nil {
			t.Fatalf("reading file: %v", err)
		}
		reader.Close()
	}
	if err != io.EOF {
		t.Fatalf("unexpected NextReader error: %v", err)
	}
	test.MustBe(t, []string{"a.json", "b.json"}, gotNames)

	if _, err := NewRawSource(filepath.Join(d, "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestSource(t *testing.T) {
	d := t.TempDir()
	mustFile(t, d, "1.json", `
{"origin": "https://bugs.example.org", "data": {"bug_id": [{"__text__": "1"}]}}
{"data": {"bug_id": [{"__text__": "2"}]}}
`)
	mustFile(t, d, "2.json", `[{"origin": "https://bugs.example.org", "data": {"bug_id": [{"__text__": "3"}]}}]`)

	s, err := NewSource(OptSrcPath(d), OptSrcDefaultOrigin("https://mirror.example.org"))
	test.ErrNil(t, err, "NewSource")
	defer s.Close()

	var origins []string
	var rec elk.RawRecord
	for rec, err = s.Record(); err == nil; rec, err = s.Record() {
		origins = append(origins, rec.Origin())
	}
	if err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	test.MustBe(t, []string{"https://bugs.example.org", "https://mirror.example.org", "https://bugs.example.org"}, origins)
}

func TestSourceBadFile(t *testing.T) {
	d := t.TempDir()
	p := mustFile(t, d, "bad.json", `{"origin": `)
	s, err := NewSource(OptSrcPath(p))
	test.ErrNil(t, err, "NewSource")
	if _, err := s.Record(); err == nil || err == io.EOF {
		t.Fatalf("expected decoding error, got %v", err)
	}
	if _, err := s.Record(); err != io.EOF {
		t.Fatalf("expected EOF after error, got %v", err)
	}

	if _, err := NewSource(); err == nil {
		t.Fatalf("expected error without path")
	}
}

package elk_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
	"testing"

	"github.com/grimoire/elk"
)

func strp(s string) *string { return &s }

// loadRaw reads a raw item from testdata the way the JSON sources decode
// them, with numbers kept as json.Number.
func loadRaw(t *testing.T, name string) elk.RawRecord {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("opening %s: %v", name, err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw elk.RawRecord
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("decoding %s: %v", name, err)
	}
	return raw
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing %s: %v", s, err)
	}
	return tm
}

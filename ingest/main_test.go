package ingest

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/boltdb"
	"github.com/grimoire/elk/mock"
	"github.com/grimoire/elk/test"
)

// fakeElastic accepts index creation and bulk requests.
type fakeElastic struct {
	mu      sync.Mutex
	created []string
	bodies  [][]byte
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := ioutil.ReadAll(r.Body)
	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte(`{"version": {"number": "7.17.10", "build_flavor": "default"}, "tagline": "You Know, for Search"}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.bodies = append(f.bodies, body)
		_, _ = w.Write([]byte(`{"took": 1, "errors": false, "items": []}`))
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		f.created = append(f.created, strings.TrimPrefix(r.URL.Path, "/"))
		_, _ = w.Write([]byte(`{"acknowledged": true}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newElastic(t *testing.T) (*fakeElastic, *httptest.Server) {
	f := &fakeElastic{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(m *Main)
	}{
		{"flavor", func(m *Main) { m.Flavor = "jira" }},
		{"charset", func(m *Main) { m.Charset = "ebcdic" }},
		{"batch", func(m *Main) { m.MaxBatchItems = 0 }},
		{"urls", func(m *Main) { m.ElasticURLs = nil }},
		{"identities", func(m *Main) { m.Identities = true }},
	}
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			m := NewMain()
			tst.edit(m)
			if _, err := m.Setup(context.Background(), elk.NopLogger{}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	test.ErrNil(t, NewMain().validate(), "defaults")
}

func TestInputOpen(t *testing.T) {
	in := NewInput()
	if _, _, err := in.Open(elk.NopLogger{}); err == nil {
		t.Fatalf("expected error for file input without path")
	}
	in.Kind = "carrier-pigeon"
	if _, _, err := in.Open(elk.NopLogger{}); err == nil {
		t.Fatalf("expected error for unknown input")
	}

	in.Kind = InputFile
	in.Path = "../testdata/bugzilla.json"
	src, release, err := in.Open(elk.NopLogger{})
	test.ErrNil(t, err, "Open")
	rec, err := src.Record()
	test.ErrNil(t, err, "Record")
	test.MustBe(t, "https://bugs.example.org", rec.Origin())
	test.ErrNil(t, release(), "release")
	test.ErrNil(t, release(), "release twice")
}

func TestSetupAndRun(t *testing.T) {
	es, srv := newElastic(t)
	dir, err := ioutil.TempDir("", "elk-ingest")
	test.ErrNil(t, err, "TempDir")
	defer os.RemoveAll(dir)

	projects := filepath.Join(dir, "projects.yaml")
	test.ErrNil(t, ioutil.WriteFile(projects, []byte("scr:\n  review.example.org_tools/elk: ELK Tools\n"), 0600), "writing projects")

	m := NewMain()
	m.Input.Path = "../testdata/gerrit.json"
	m.ElasticURLs = []string{srv.URL}
	m.MaxBatchItems = 1
	m.Identities = true
	m.IdentityDB = filepath.Join(dir, "identities.db")
	m.CacheDir = filepath.Join(dir, "cache")
	m.Projects = projects

	log := &mock.Logger{}
	p, err := m.Setup(context.Background(), log)
	test.ErrNil(t, err, "Setup")
	test.MustBe(t, []string{"gerrit_enriched"}, es.created)
	test.MustBe(t, "gerrit_enriched", p.Writer.Index())

	prog, err := p.Run(context.Background())
	test.ErrNil(t, err, "Run")
	test.MustBe(t, 1, prog.Written)
	test.ErrNil(t, p.Close(), "Close")

	test.MustBe(t, 1, len(es.bodies))
	lines := test.Lines(es.bodies[0])
	test.MustBe(t, 2, len(lines))
	test.MustBe(t, `{"index":{"_id":"9f0e7c41"}}`, lines[0])
	doc := map[string]interface{}{}
	test.ErrNil(t, json.Unmarshal([]byte(lines[1]), &doc), "decoding document")
	test.MustBe(t, "ELK Tools", doc["project"])

	name, email, username := "Jane Roe", "jane@acme.com", "jroe"
	uuid, err := elk.UniqueIdentity(elk.Identity{Name: &name, Email: &email, Username: &username}, "gerrit")
	test.ErrNil(t, err, "UniqueIdentity")
	test.MustBe(t, uuid, doc["author_uuid"])

	// The identity database was released and can be opened again.
	store, err := boltdb.NewStore(m.IdentityDB)
	test.ErrNil(t, err, "reopening identity database")
	test.ErrNil(t, store.Close(), "closing identity database")
}

func TestSetupEmptyProjects(t *testing.T) {
	es, srv := newElastic(t)
	dir, err := ioutil.TempDir("", "elk-ingest")
	test.ErrNil(t, err, "TempDir")
	defer os.RemoveAll(dir)
	projects := filepath.Join(dir, "projects.json")
	test.ErrNil(t, ioutil.WriteFile(projects, []byte("{}"), 0600), "writing projects")

	m := NewMain()
	m.Input.Path = "../testdata/gerrit.json"
	m.ElasticURLs = []string{srv.URL}
	m.Projects = projects

	p, err := m.Setup(context.Background(), elk.NopLogger{})
	test.ErrNil(t, err, "Setup")
	_, err = p.Run(context.Background())
	test.ErrNil(t, err, "Run")
	test.ErrNil(t, p.Close(), "Close")

	test.MustBe(t, 1, len(es.bodies))
	lines := test.Lines(es.bodies[0])
	doc := map[string]interface{}{}
	test.ErrNil(t, json.Unmarshal([]byte(lines[1]), &doc), "decoding document")
	if project, ok := doc["project"]; ok {
		t.Fatalf("expected no project field for an empty project map, got %v", project)
	}
	if _, ok := doc["author_uuid"]; ok {
		t.Fatalf("expected no identity fields with identities disabled")
	}
}

func TestSetupReleasesOnError(t *testing.T) {
	_, srv := newElastic(t)
	url := srv.URL
	srv.Close()

	dir, err := ioutil.TempDir("", "elk-ingest")
	test.ErrNil(t, err, "TempDir")
	defer os.RemoveAll(dir)

	m := NewMain()
	m.Input.Path = "../testdata/gerrit.json"
	m.ElasticURLs = []string{url}
	m.Identities = true
	m.IdentityDB = filepath.Join(dir, "identities.db")
	if _, err := m.Setup(context.Background(), elk.NopLogger{}); err == nil {
		t.Fatalf("expected error for unreachable elasticsearch")
	}

	store, err := boltdb.NewStore(m.IdentityDB)
	test.ErrNil(t, err, "reopening identity database")
	test.ErrNil(t, store.Close(), "closing identity database")
}

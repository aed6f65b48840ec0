package elk_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/mock"
	"github.com/grimoire/elk/test"
)

const projectsYAML = `
its:
  https://bugs.example.org/buglist.cgi?product=Mylyn: mylyn
scr:
  review.example.org_tools/elk: elk
`

func TestProjectMapperResolve(t *testing.T) {
	pm, err := elk.LoadProjectMap(strings.NewReader(projectsYAML), "yaml")
	test.ErrNil(t, err, "LoadProjectMap")
	log := &mock.Logger{}
	m := elk.NewProjectMapper(pm, log)

	test.MustBe(t, "mylyn", m.Resolve(elk.DataSourceITS, "https://bugs.example.org", "Mylyn"))
	test.MustBe(t, "elk", m.Resolve(elk.DataSourceSCR, "review.example.org", "tools/elk"))
	test.MustBe(t, 0, log.Warnings(), "no misses yet")

	test.MustBe(t, elk.UnknownProject, m.Resolve(elk.DataSourceITS, "https://bugs.example.org", "Mylyn Tasks"))
	test.MustBe(t, elk.UnknownProject, m.Resolve("mls", "https://lists.example.org", "dev"))
	test.MustBe(t, 2, log.Warnings(), "misses are logged")
}

func TestRepositoryKey(t *testing.T) {
	test.MustBe(t, "https://bugs.example.org/buglist.cgi?product=Mylyn Tasks", elk.RepositoryKey(elk.DataSourceITS, "https://bugs.example.org", "Mylyn Tasks"))
	test.MustBe(t, "review.example.org_tools/elk", elk.RepositoryKey(elk.DataSourceSCR, "review.example.org", "tools/elk"))
	test.MustBe(t, "a_b", elk.RepositoryKey("other", "a", "b"))
}

func TestLoadProjectMapJSON(t *testing.T) {
	pm, err := elk.LoadProjectMap(strings.NewReader(`{"scr": {"review.example.org_tools/elk": "elk"}}`), "json")
	test.ErrNil(t, err, "LoadProjectMap")
	test.MustBe(t, elk.ProjectMap{"scr": {"review.example.org_tools/elk": "elk"}}, pm)

	if _, err := elk.LoadProjectMap(strings.NewReader(`{}`), "toml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if _, err := elk.LoadProjectMap(strings.NewReader(`{"scr": `), "json"); err == nil {
		t.Fatalf("expected error for truncated JSON")
	}
}

func TestReadProjectMapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yml")
	if err := os.WriteFile(path, []byte(projectsYAML), 0600); err != nil {
		t.Fatalf("writing project map: %v", err)
	}
	pm, err := elk.ReadProjectMapFile(path)
	test.ErrNil(t, err, "ReadProjectMapFile")
	test.MustBe(t, "elk", pm[elk.DataSourceSCR]["review.example.org_tools/elk"])

	if _, err := elk.ReadProjectMapFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

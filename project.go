package elk

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// UnknownProject is the project of any repository missing from the map.
const UnknownProject = "unknown"

// Data source names used as the top level keys of a ProjectMap.
const (
	DataSourceITS = "its" // issue tracking systems
	DataSourceSCR = "scr" // source code review
)

// ProjectMap maps data source name -> repository key -> project name.
type ProjectMap map[string]map[string]string

// RepositoryKeyFunc builds the repository key for an item from its origin and
// a source specific discriminator.
type RepositoryKeyFunc func(origin, discriminator string) string

var repositoryKeys = map[string]RepositoryKeyFunc{
	// https://bugs.eclipse.org/bugs/buglist.cgi?product=Mylyn%20Tasks
	DataSourceITS: func(origin, product string) string {
		return origin + "/buglist.cgi?product=" + product
	},
	DataSourceSCR: func(origin, project string) string {
		return origin + "_" + project
	},
}

// RepositoryKey builds the key an item of the given data source is looked up
// with. Data sources without a registered key format join with "_".
func RepositoryKey(dataSource, origin, discriminator string) string {
	if f, ok := repositoryKeys[dataSource]; ok {
		return f(origin, discriminator)
	}
	return origin + "_" + discriminator
}

// ProjectMapper looks up the project of an item's repository. It never
// modifies its map.
type ProjectMapper struct {
	projects ProjectMap
	log      Logger
}

// NewProjectMapper gets a ProjectMapper over projects. A nil logger silences
// lookup misses.
func NewProjectMapper(projects ProjectMap, log Logger) *ProjectMapper {
	if log == nil {
		log = NopLogger{}
	}
	return &ProjectMapper{projects: projects, log: log}
}

// Resolve returns the project for the repository identified by origin and
// discriminator, or UnknownProject.
func (p *ProjectMapper) Resolve(dataSource, origin, discriminator string) string {
	repo := RepositoryKey(dataSource, origin, discriminator)
	if project, ok := p.projects[dataSource][repo]; ok {
		return project
	}
	p.log.Warnf("project not found for %s repository %s", dataSource, repo)
	return UnknownProject
}

// LoadProjectMap decodes a ProjectMap from r. format is "json" or "yaml".
func LoadProjectMap(r io.Reader, format string) (ProjectMap, error) {
	pm := make(ProjectMap)
	var err error
	switch format {
	case "json":
		err = json.NewDecoder(r).Decode(&pm)
	case "yaml", "yml":
		err = yaml.NewDecoder(r).Decode(&pm)
	default:
		return nil, errors.Errorf("unsupported project map format '%s'", format)
	}
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "decoding %s project map", format)
	}
	return pm, nil
}

// ReadProjectMapFile loads a ProjectMap from a file, choosing the format by
// extension. Anything which isn't .yaml or .yml is read as JSON.
func ReadProjectMapFile(path string) (ProjectMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening project map")
	}
	defer f.Close()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format != "yaml" && format != "yml" {
		format = "json"
	}
	return LoadProjectMap(f, format)
}

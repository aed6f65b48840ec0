package elk

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Fields is the flat content of an enriched record. Values are strings,
// numbers, booleans or nil.
type Fields map[string]interface{}

// EnrichedRecord is one document ready to be indexed. ID is the document id
// in the store and is derived only from the raw item, so enriching the same
// item again overwrites the same document.
type EnrichedRecord struct {
	ID     string
	Fields Fields
}

// MarshalJSON renders the record's fields. Keys are sorted, so the same
// record always serializes to the same bytes.
func (e EnrichedRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields)
}

// Enricher turns raw items of one data source flavor into enriched records.
type Enricher interface {
	// Enrich produces the enriched record for raw. Missing fields never cause
	// an error; only a raw item with no usable document id does.
	Enrich(ctx context.Context, raw RawRecord) (EnrichedRecord, error)

	// Identities lists every identity found in raw, in order of appearance.
	Identities(raw RawRecord) []Identity

	// DataSource is the name the flavor is keyed by in a ProjectMap.
	DataSource() string

	// DocType is the document type the enriched records are written as.
	DocType() string
}

// EnrichOptions holds the optional collaborators of an Enricher. A nil
// Identities leaves identity fields out of enriched records altogether; a nil
// Projects leaves out the project field.
type EnrichOptions struct {
	Identities *IdentityResolver
	Projects   *ProjectMapper
}

// EnricherFunc builds an Enricher of one flavor.
type EnricherFunc func(opts EnrichOptions) Enricher

var flavors = map[string]EnricherFunc{
	"bugzilla": func(opts EnrichOptions) Enricher { return NewBugzillaEnricher(opts) },
	"gerrit":   func(opts EnrichOptions) Enricher { return NewGerritEnricher(opts) },
}

// NewEnricher gets the Enricher for the named flavor.
func NewEnricher(flavor string, opts EnrichOptions) (Enricher, error) {
	f, ok := flavors[flavor]
	if !ok {
		return nil, errors.Errorf("unknown data source flavor '%s', expected one of %v", flavor, Flavors())
	}
	return f(opts), nil
}

// Flavors lists the supported data source flavors.
func Flavors() []string {
	names := make([]string, 0, len(flavors))
	for name := range flavors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// copyFields copies keys of src into f, setting nil for missing ones so the
// document shape doesn't depend on the item.
func copyFields(f Fields, src map[string]interface{}, keys ...string) {
	for _, k := range keys {
		f[k] = src[k]
	}
}

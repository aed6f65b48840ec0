package elk

import (
	"context"
	"time"
)

// GerritEnricher enriches gerrit changesets (reviews).
type GerritEnricher struct {
	opts EnrichOptions
}

// NewGerritEnricher gets a GerritEnricher.
func NewGerritEnricher(opts EnrichOptions) *GerritEnricher {
	return &GerritEnricher{opts: opts}
}

// DataSource implements Enricher.
func (g *GerritEnricher) DataSource() string { return DataSourceSCR }

// DocType implements Enricher.
func (g *GerritEnricher) DocType() string { return "items" }

// documentID prefers the "ocean-unique-id" of the item, then the backend's
// "uuid", then the change id.
func (g *GerritEnricher) documentID(raw RawRecord) (string, bool) {
	for _, v := range []interface{}{raw["ocean-unique-id"], raw["uuid"], value(raw.Data(), "id")} {
		if s, ok := toString(v); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Enrich implements Enricher.
func (g *GerritEnricher) Enrich(ctx context.Context, raw RawRecord) (EnrichedRecord, error) {
	id, ok := g.documentID(raw)
	if !ok {
		return EnrichedRecord{}, ErrNoDocumentID
	}
	review := raw.Data()

	f := Fields{}
	copyFields(f, raw, "metadata__updated_on", "metadata__timestamp", "ocean-unique-id", "origin")
	f["closed"] = raw["metadata__updated_on"]
	copyFields(f, review, "status", "branch", "url")
	f["summary"] = stringAt(review, "subject")
	f["summary_analyzed"] = f["summary"]
	f["githash"] = value(review, "id")
	f["repository"] = value(review, "project")
	f["number"] = value(review, "number")
	f["opened"] = isoOrNil(review["createdOn"])
	f["last_updated"] = isoOrNil(review["lastUpdated"])

	owner := ExtractIdentity(review["owner"], KindUser)
	f["name"] = nullable(owner.Name)
	f["domain"] = nullable(owner.Domain())

	patchSets := listAt(review, "patchSets")
	f["patchsets"] = len(patchSets)
	f["comments"] = len(listAt(review, "comments"))

	// The change is open from its first patchset on.
	opened, hasOpened := parseTime(review["createdOn"])
	if len(patchSets) > 0 {
		if ps, ok := patchSets[0].(map[string]interface{}); ok {
			if t, ok := parseTime(ps["createdOn"]); ok {
				opened, hasOpened = t, true
			}
		}
	}
	ref, hasRef := g.referenceTime(raw)
	f["timeopen"] = nil
	if hasOpened && hasRef {
		f["timeopen"] = daysBetween(opened, ref)
	}

	if g.opts.Identities != nil {
		var at time.Time
		if hasOpened {
			at = opened
		}
		ri := g.opts.Identities.Resolve(ctx, owner, at)
		ri.attach(f, "author")
		f["author_domain"] = nullable(ri.Domain)
		f["author_bot"] = false
	}

	if g.opts.Projects != nil {
		project, _ := toString(review["project"])
		f["project"] = g.opts.Projects.Resolve(DataSourceSCR, raw.Origin(), project)
	}

	return EnrichedRecord{ID: id, Fields: f}, nil
}

// referenceTime is the time the item was last seen updated, which bounds how
// long the change has been open.
func (g *GerritEnricher) referenceTime(raw RawRecord) (time.Time, bool) {
	if t, ok := raw.UpdatedOn(); ok {
		return t, true
	}
	return parseTime(raw.Data()["lastUpdated"])
}

// Identities implements Enricher. It returns the change owner, then for each
// patchset its uploader, author and approvers, then every reviewer who
// commented.
func (g *GerritEnricher) Identities(raw RawRecord) []Identity {
	review := raw.Data()
	ids := make([]Identity, 0)
	add := func(fragment interface{}) {
		if id := ExtractIdentity(fragment, KindUser); !id.IsEmpty() {
			ids = append(ids, id)
		}
	}
	add(review["owner"])
	for _, p := range listAt(review, "patchSets") {
		ps, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		add(ps["uploader"])
		add(ps["author"])
		for _, a := range listAt(ps, "approvals") {
			if am, ok := a.(map[string]interface{}); ok {
				add(am["by"])
			}
		}
	}
	for _, c := range listAt(review, "comments") {
		if cm, ok := c.(map[string]interface{}); ok {
			add(cm["reviewer"])
		}
	}
	return ids
}

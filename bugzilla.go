package elk

import (
	"context"
	"strings"
	"time"
)

// BugzillaEnricher enriches bugzilla bugs. Bugzilla items come from its XML
// interface, so scalar fields are one element lists of {"__text__": value}.
type BugzillaEnricher struct {
	opts EnrichOptions
}

// NewBugzillaEnricher gets a BugzillaEnricher.
func NewBugzillaEnricher(opts EnrichOptions) *BugzillaEnricher {
	return &BugzillaEnricher{opts: opts}
}

// DataSource implements Enricher.
func (b *BugzillaEnricher) DataSource() string { return DataSourceITS }

// DocType implements Enricher.
func (b *BugzillaEnricher) DocType() string { return "issues" }

// Enrich implements Enricher. The document id is the bug id.
func (b *BugzillaEnricher) Enrich(ctx context.Context, raw RawRecord) (EnrichedRecord, error) {
	data := raw.Data()
	bugID, ok := textAt(data, "bug_id")
	if !ok || bugID == "" {
		return EnrichedRecord{}, ErrNoDocumentID
	}

	f := Fields{}
	copyFields(f, raw, "origin", "metadata__updated_on", "metadata__timestamp")
	f["ocean-unique-id"] = value(data, "ocean-unique-id")
	if f["ocean-unique-id"] == nil {
		f["ocean-unique-id"] = raw["ocean-unique-id"]
	}
	f["bug_id"] = bugID
	f["status"] = textOrNil(data, "bug_status")
	f["summary"] = textOrNil(data, "short_desc")
	f["component"] = textOrNil(data, "component")
	f["product"] = textOrNil(data, "product")
	f["assigned_to"] = nullable(ExtractIdentity(data["assigned_to"], KindListUser).Name)
	f["reporter"] = nullable(ExtractIdentity(data["reporter"], KindListUser).Name)

	creation, _ := textAt(data, "creation_ts")
	delta, _ := textAt(data, "delta_ts")
	created, hasCreated := parseTime(creation)
	changed, hasChanged := parseTime(delta)
	f["creation_ts"] = nil
	f["delta_ts"] = nil
	f["changeddate_date"] = nil
	f["time_to_last_update_days"] = nil
	if hasCreated {
		f["creation_ts"] = created.Format(isoSeconds)
	}
	if hasChanged {
		f["delta_ts"] = changed.Format(isoSeconds)
		f["changeddate_date"] = changed.Format(isoSeconds)
	}
	if hasCreated && hasChanged {
		f["time_to_last_update_days"] = daysBetween(created, changed)
	}

	f["number_of_comments"] = len(listAt(data, "long_desc"))
	f["url"] = nil
	if origin := raw.Origin(); origin != "" {
		f["url"] = strings.TrimSuffix(origin, "/") + "/show_bug.cgi?id=" + bugID
	}

	if b.opts.Identities != nil {
		// Reporting happens once, at creation. Assignee and QA contact are
		// as of the last change.
		roles := []struct {
			name string
			at   time.Time
		}{
			{"assigned_to", changed},
			{"reporter", created},
			{"qa_contact", changed},
		}
		for _, role := range roles {
			id := ExtractIdentity(data[role.name], KindListUser)
			b.opts.Identities.Resolve(ctx, id, role.at).attach(f, role.name)
		}
	}

	if b.opts.Projects != nil {
		product, _ := textAt(data, "product")
		f["project"] = b.opts.Projects.Resolve(DataSourceITS, raw.Origin(), product)
	}

	return EnrichedRecord{ID: bugID, Fields: f}, nil
}

// Identities implements Enricher. It returns the people in the bug's activity
// log and comments followed by its assignee, reporter and QA contact.
func (b *BugzillaEnricher) Identities(raw RawRecord) []Identity {
	data := raw.Data()
	ids := make([]Identity, 0)
	add := func(id Identity) {
		if !id.IsEmpty() {
			ids = append(ids, id)
		}
	}
	for _, event := range listAt(data, "activity") {
		if em, ok := event.(map[string]interface{}); ok {
			add(ExtractIdentity(em["Who"], KindLogin))
		}
	}
	for _, comment := range listAt(data, "long_desc") {
		if cm, ok := comment.(map[string]interface{}); ok {
			add(ExtractIdentity(cm["who"], KindListUser))
		}
	}
	for _, role := range []string{"assigned_to", "reporter", "qa_contact"} {
		add(ExtractIdentity(data[role], KindListUser))
	}
	return ids
}

package elk_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/mock"
	"github.com/grimoire/elk/test"
)

func TestBugzillaEnrich(t *testing.T) {
	raw := loadRaw(t, "bugzilla.json")
	e, err := elk.NewEnricher("bugzilla", elk.EnrichOptions{})
	test.ErrNil(t, err, "NewEnricher")
	test.MustBe(t, elk.DataSourceITS, e.DataSource())
	test.MustBe(t, "issues", e.DocType())

	rec, err := e.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich")
	test.MustBe(t, "42", rec.ID)
	test.MustBe(t, elk.Fields{
		"origin":                   "https://bugs.example.org",
		"metadata__updated_on":     "2016-06-02T22:00:00",
		"metadata__timestamp":      "2016-07-01T08:00:00",
		"ocean-unique-id":          "5c1a8d2e",
		"bug_id":                   "42",
		"status":                   "NEW",
		"summary":                  "Crash on startup",
		"component":                "Core",
		"product":                  "Mylyn",
		"assigned_to":              "Nobody",
		"reporter":                 "John Doe",
		"creation_ts":              "2016-06-01T10:00:00",
		"delta_ts":                 "2016-06-02T22:00:00",
		"changeddate_date":         "2016-06-02T22:00:00",
		"time_to_last_update_days": 1.5,
		"number_of_comments":       2,
		"url":                      "https://bugs.example.org/show_bug.cgi?id=42",
	}, rec.Fields)
}

func TestBugzillaEnrichIdentitiesAndProject(t *testing.T) {
	raw := loadRaw(t, "bugzilla.json")
	reporter := elk.Identity{Name: strp("John Doe"), Email: strp("jdoe@example.org"), Username: strp("jdoe@example.org")}
	reporterID, _ := elk.UniqueIdentity(reporter, "bugzilla")
	assignee := elk.Identity{Name: strp("Nobody"), Email: strp("nobody@example.org"), Username: strp("nobody@example.org")}
	assigneeID, _ := elk.UniqueIdentity(assignee, "bugzilla")

	// The reporter moved to Globex after the bug was reported but before its
	// last change.
	split := mustParse(t, "2016-06-02T00:00:00Z")
	svc := &mock.IdentityService{Enrolled: map[string][]elk.Enrollment{
		reporterID: {{Organization: "Acme", End: split}, {Organization: "Globex", Start: split}},
	}}
	e := elk.NewBugzillaEnricher(elk.EnrichOptions{
		Identities: elk.NewIdentityResolver(svc, "bugzilla"),
		Projects:   elk.NewProjectMapper(elk.ProjectMap{"its": {"https://bugs.example.org/buglist.cgi?product=Mylyn": "mylyn"}}, nil),
	})

	rec, err := e.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich")
	f := rec.Fields
	test.MustBe(t, reporterID, f["reporter_uuid"], "reporter_uuid")
	test.MustBe(t, "John Doe", f["reporter_name"], "reporter_name")
	test.MustBe(t, "Acme", f["reporter_org_name"], "reporter_org_name")
	test.MustBe(t, assigneeID, f["assigned_to_uuid"], "assigned_to_uuid")
	test.MustBe(t, nil, f["assigned_to_org_name"], "assigned_to_org_name")
	for _, k := range []string{"qa_contact_uuid", "qa_contact_name", "qa_contact_org_name"} {
		v, ok := f[k]
		if !ok || v != nil {
			t.Fatalf("%s should be present and null, got %v (present %v)", k, v, ok)
		}
	}
	test.MustBe(t, "mylyn", f["project"], "project")
}

func TestBugzillaEnrichDeterministic(t *testing.T) {
	raw := loadRaw(t, "bugzilla.json")
	svc := &mock.IdentityService{}
	e := elk.NewBugzillaEnricher(elk.EnrichOptions{Identities: elk.NewIdentityResolver(svc, "bugzilla")})
	var docs [][]byte
	for i := 0; i < 3; i++ {
		rec, err := e.Enrich(context.Background(), raw)
		test.ErrNil(t, err, "Enrich")
		doc, err := json.Marshal(rec)
		test.ErrNil(t, err, "Marshal")
		docs = append(docs, doc)
	}
	test.MustBe(t, string(docs[0]), string(docs[1]))
	test.MustBe(t, string(docs[0]), string(docs[2]))
	if _, ok := raw["bug_id"]; ok {
		t.Fatalf("raw item was modified")
	}
}

func TestBugzillaEnrichMissingFields(t *testing.T) {
	e := elk.NewBugzillaEnricher(elk.EnrichOptions{})
	rec, err := e.Enrich(context.Background(), elk.RawRecord{
		"data": map[string]interface{}{"bug_id": []interface{}{map[string]interface{}{"__text__": "7"}}},
	})
	test.ErrNil(t, err, "Enrich")
	test.MustBe(t, "7", rec.ID)
	for _, k := range []string{"status", "creation_ts", "delta_ts", "time_to_last_update_days", "url", "reporter"} {
		v, ok := rec.Fields[k]
		if !ok || v != nil {
			t.Fatalf("%s should be present and null, got %v (present %v)", k, v, ok)
		}
	}
	test.MustBe(t, 0, rec.Fields["number_of_comments"])
	if _, ok := rec.Fields["reporter_uuid"]; ok {
		t.Fatalf("identity fields should be omitted when identities are disabled")
	}

	_, err = e.Enrich(context.Background(), elk.RawRecord{"origin": "https://bugs.example.org"})
	test.CauseIs(t, err, elk.ErrNoDocumentID, "no bug id")
}

func TestBugzillaIdentities(t *testing.T) {
	e := elk.NewBugzillaEnricher(elk.EnrichOptions{})
	ids := e.Identities(loadRaw(t, "bugzilla.json"))
	test.MustBe(t, 5, len(ids))
	test.MustBe(t, strp("jroe@example.org"), ids[0].Username, "activity first")
	test.MustBe(t, strp("John Doe"), ids[1].Name, "then comments")
	test.MustBe(t, strp("Jane Roe"), ids[2].Name)
	test.MustBe(t, strp("Nobody"), ids[3].Name, "then assignee")
	test.MustBe(t, strp("John Doe"), ids[4].Name, "then reporter")

	test.MustBe(t, 0, len(e.Identities(elk.RawRecord{})))
}

func TestNewEnricherUnknown(t *testing.T) {
	if _, err := elk.NewEnricher("jira", elk.EnrichOptions{}); err == nil {
		t.Fatalf("expected error for unknown flavor")
	}
	test.MustBe(t, []string{"bugzilla", "gerrit"}, elk.Flavors())
}

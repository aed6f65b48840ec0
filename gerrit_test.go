package elk_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/mock"
	"github.com/grimoire/elk/test"
)

func TestGerritEnrich(t *testing.T) {
	raw := loadRaw(t, "gerrit.json")
	e, err := elk.NewEnricher("gerrit", elk.EnrichOptions{})
	test.ErrNil(t, err, "NewEnricher")
	test.MustBe(t, elk.DataSourceSCR, e.DataSource())
	test.MustBe(t, "items", e.DocType())

	rec, err := e.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich")
	test.MustBe(t, "9f0e7c41", rec.ID)
	test.MustBe(t, elk.Fields{
		"metadata__updated_on": "2016-03-11T10:00:00",
		"metadata__timestamp":  "2016-04-01T08:00:00",
		"ocean-unique-id":      nil,
		"origin":               "review.example.org",
		"closed":               "2016-03-11T10:00:00",
		"status":               "MERGED",
		"branch":               "master",
		"url":                  "https://review.example.org/7",
		"summary":              "Fix bulk flushing",
		"summary_analyzed":     "Fix bulk flushing",
		"githash":              "I0123456789abcdef",
		"repository":           "tools/elk",
		"number":               "7",
		"opened":               "2016-03-09T10:00:00",
		"last_updated":         "2016-03-11T10:00:00",
		"name":                 "Jane Roe",
		"domain":               "acme.com",
		"patchsets":            1,
		"comments":             1,
		"timeopen":             1.0,
	}, rec.Fields)
}

func TestGerritEnrichIdentitiesAndProject(t *testing.T) {
	raw := loadRaw(t, "gerrit.json")
	owner := elk.Identity{Name: strp("Jane Roe"), Email: strp("jane@acme.com"), Username: strp("jroe")}
	ownerID, _ := elk.UniqueIdentity(owner, "gerrit")
	// Enrolled after the change was created but before its first patchset.
	svc := &mock.IdentityService{Enrolled: map[string][]elk.Enrollment{
		ownerID: {{Organization: "Acme", Start: mustParse(t, "2016-03-10T00:00:00Z")}},
	}}
	e := elk.NewGerritEnricher(elk.EnrichOptions{
		Identities: elk.NewIdentityResolver(svc, "gerrit"),
		Projects:   elk.NewProjectMapper(elk.ProjectMap{"scr": {"review.example.org_tools/elk": "elk"}}, nil),
	})
	rec, err := e.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich")
	f := rec.Fields
	test.MustBe(t, ownerID, f["author_uuid"], "author_uuid")
	test.MustBe(t, "Jane Roe", f["author_name"], "author_name")
	test.MustBe(t, "Acme", f["author_org_name"], "author_org_name")
	test.MustBe(t, "acme.com", f["author_domain"], "author_domain")
	test.MustBe(t, false, f["author_bot"], "author_bot")
	test.MustBe(t, "elk", f["project"], "project")

	unmapped := elk.NewGerritEnricher(elk.EnrichOptions{Projects: elk.NewProjectMapper(elk.ProjectMap{}, nil)})
	rec, err = unmapped.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich unmapped")
	test.MustBe(t, elk.UnknownProject, rec.Fields["project"])
	if _, ok := rec.Fields["author_uuid"]; ok {
		t.Fatalf("identity fields should be omitted when identities are disabled")
	}
}

func TestGerritEnrichDeterministic(t *testing.T) {
	raw := loadRaw(t, "gerrit.json")
	e := elk.NewGerritEnricher(elk.EnrichOptions{Identities: elk.NewIdentityResolver(&mock.IdentityService{}, "gerrit")})
	first, err := e.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich")
	second, err := e.Enrich(context.Background(), raw)
	test.ErrNil(t, err, "Enrich again")
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	test.MustBe(t, string(a), string(b))
}

func TestGerritEnrichMissingFields(t *testing.T) {
	e := elk.NewGerritEnricher(elk.EnrichOptions{Identities: elk.NewIdentityResolver(&mock.IdentityService{}, "gerrit")})
	rec, err := e.Enrich(context.Background(), elk.RawRecord{"uuid": "abc"})
	test.ErrNil(t, err, "Enrich")
	test.MustBe(t, "abc", rec.ID)
	for _, k := range []string{"summary", "opened", "timeopen", "name", "domain", "author_uuid", "author_org_name"} {
		v, ok := rec.Fields[k]
		if !ok || v != nil {
			t.Fatalf("%s should be present and null, got %v (present %v)", k, v, ok)
		}
	}

	rec, err = e.Enrich(context.Background(), elk.RawRecord{"data": map[string]interface{}{"id": "I1"}})
	test.ErrNil(t, err, "Enrich with change id")
	test.MustBe(t, "I1", rec.ID)

	_, err = e.Enrich(context.Background(), elk.RawRecord{"origin": "review.example.org"})
	test.CauseIs(t, err, elk.ErrNoDocumentID, "no id")
}

func TestGerritIdentities(t *testing.T) {
	e := elk.NewGerritEnricher(elk.EnrichOptions{})
	ids := e.Identities(loadRaw(t, "gerrit.json"))
	test.MustBe(t, 5, len(ids))
	test.MustBe(t, strp("jroe"), ids[0].Username, "owner")
	test.MustBe(t, strp("jroe"), ids[1].Username, "uploader")
	test.MustBe(t, strp("jroe"), ids[2].Username, "author")
	test.MustBe(t, strp("jnunez"), ids[3].Username, "approver")
	test.MustBe(t, strp("gerrit"), ids[4].Username, "reviewer")
}

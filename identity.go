package elk

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is the (name, email, username) tuple a data source knows a person
// by. Any of the three may be absent.
type Identity struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Username *string `json:"username"`
}

// IsEmpty reports whether none of the identity fields are set.
func (i Identity) IsEmpty() bool {
	return i.Name == nil && i.Email == nil && i.Username == nil
}

// Domain returns the part of the email after the '@', or nil when there is no
// well formed email.
func (i Identity) Domain() *string {
	if i.Email == nil {
		return nil
	}
	at := strings.LastIndex(*i.Email, "@")
	if at < 0 || at == len(*i.Email)-1 {
		return nil
	}
	d := (*i.Email)[at+1:]
	return &d
}

// IdentityKind says which shape a user fragment of a raw item has, and
// therefore which of its sub-fields are authoritative.
type IdentityKind int

const (
	// KindUser is a map with optional "name", "email" and "username" keys, as
	// used by gerrit for owners, uploaders, approvers and reviewers.
	KindUser IdentityKind = iota
	// KindListUser is a one element list of {"__text__": login, "name": name}
	// as bugzilla uses for reporter, assigned_to, qa_contact and who.
	KindListUser
	// KindLogin is a bare login string such as a bugzilla activity's "Who".
	KindLogin
	// KindDisplayName is a bare display name such as "changed_by".
	KindDisplayName
)

var extractors = map[IdentityKind]func(fragment interface{}) Identity{
	KindUser:        extractUser,
	KindListUser:    extractListUser,
	KindLogin:       extractLogin,
	KindDisplayName: extractDisplayName,
}

// ExtractIdentity pulls an Identity out of a user fragment of a raw item. It
// never fails; a fragment of the wrong shape yields an empty Identity.
func ExtractIdentity(fragment interface{}, kind IdentityKind) Identity {
	extract, ok := extractors[kind]
	if !ok || fragment == nil {
		return Identity{}
	}
	return extract(fragment)
}

func optString(v interface{}) *string {
	s, ok := toString(v)
	if !ok {
		return nil
	}
	return &s
}

func extractUser(fragment interface{}) Identity {
	m, ok := fragment.(map[string]interface{})
	if !ok {
		return Identity{}
	}
	return Identity{
		Name:     optString(m["name"]),
		Email:    optString(m["email"]),
		Username: optString(m["username"]),
	}
}

func extractListUser(fragment interface{}) Identity {
	l, ok := fragment.([]interface{})
	if !ok || len(l) == 0 {
		return Identity{}
	}
	first, ok := l[0].(map[string]interface{})
	if !ok {
		return Identity{}
	}
	id := Identity{Name: optString(first["name"])}
	if login := optString(first["__text__"]); login != nil {
		id.Username = login
		if strings.Contains(*login, "@") {
			id.Email = login
		}
	}
	return id
}

func extractLogin(fragment interface{}) Identity {
	return Identity{Username: optString(fragment)}
}

func extractDisplayName(fragment interface{}) Identity {
	return Identity{Name: optString(fragment)}
}

// Enrollment is a period during which an identity belonged to an
// organization. A zero Start or End leaves that side of the period open.
type Enrollment struct {
	Organization string    `json:"organization"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Covers reports whether t falls in [Start, End).
func (e Enrollment) Covers(t time.Time) bool {
	if !e.Start.IsZero() && t.Before(e.Start) {
		return false
	}
	if !e.End.IsZero() && !t.Before(e.End) {
		return false
	}
	return true
}

// EnrollmentAt picks the enrollment covering at. Enrollments should not
// overlap; if they do the first one listed wins.
func EnrollmentAt(enrollments []Enrollment, at time.Time) (Enrollment, bool) {
	for _, e := range enrollments {
		if e.Covers(at) {
			return e, true
		}
	}
	return Enrollment{}, false
}

var unaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// UniqueIdentity derives the unique identifier of an identity seen in the
// given source. It is the hex SHA-1 of "source:email:name:username", lower
// cased and with accents stripped from the name, which makes it compatible
// with identifiers generated by SortingHat.
func UniqueIdentity(id Identity, source string) (string, error) {
	if id.IsEmpty() {
		return "", errors.New("identity data can't be empty")
	}
	if source == "" {
		return "", errors.New("source can't be empty")
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	name, _, err := transform.String(unaccent, deref(id.Name))
	if err != nil {
		return "", errors.Wrap(err, "unaccenting name")
	}
	s := strings.ToLower(strings.Join([]string{source, deref(id.Email), name, deref(id.Username)}, ":"))
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// IdentityService is the boundary to an identity management system. UniqueID
// must be deterministic in its arguments. Either call may be slow or fail.
type IdentityService interface {
	UniqueID(ctx context.Context, id Identity, source string) (string, error)
	Enrollments(ctx context.Context, uuid string) ([]Enrollment, error)
}

// ResolvedIdentity is the outcome of resolving one identity role of an item.
// Fields which could not be resolved are nil.
type ResolvedIdentity struct {
	UUID    *string
	Name    *string
	OrgName *string
	Domain  *string
}

// attach adds <role>_uuid, <role>_name and <role>_org_name to f.
func (ri ResolvedIdentity) attach(f Fields, role string) {
	f[role+"_uuid"] = nullable(ri.UUID)
	f[role+"_name"] = nullable(ri.Name)
	f[role+"_org_name"] = nullable(ri.OrgName)
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// IdentityResolver resolves identities found in raw items through an
// IdentityService. Lookup failures never fail enrichment: they degrade to nil
// uuid and organization and are logged.
type IdentityResolver struct {
	service IdentityService
	source  string
	log     Logger
	stats   Statter
}

// IdentityResolverOption is a functional option for IdentityResolver.
type IdentityResolverOption func(r *IdentityResolver)

// OptResolverLogger sets the logger used to report lookup failures.
func OptResolverLogger(l Logger) IdentityResolverOption {
	return func(r *IdentityResolver) {
		r.log = l
	}
}

// OptResolverStatter sets the Statter which counts lookup failures.
func OptResolverStatter(s Statter) IdentityResolverOption {
	return func(r *IdentityResolver) {
		r.stats = s
	}
}

// NewIdentityResolver gets an IdentityResolver for identities seen in the
// named source (connector), e.g. "bugzilla".
func NewIdentityResolver(service IdentityService, source string, opts ...IdentityResolverOption) *IdentityResolver {
	r := &IdentityResolver{
		service: service,
		source:  source,
		log:     NopLogger{},
		stats:   NopStatter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the connector name identities are resolved for.
func (r *IdentityResolver) Source() string { return r.source }

// ResolveUniqueID maps id to its unique identifier.
func (r *IdentityResolver) ResolveUniqueID(ctx context.Context, id Identity) (string, error) {
	uuid, err := r.service.UniqueID(ctx, id, r.source)
	if err != nil {
		return "", errors.Wrapf(err, "resolving unique id in %s", r.source)
	}
	return uuid, nil
}

// ResolveEnrollment returns the enrollment of uuid which covers at. Callers
// must pass the item's own reference time, never the current time.
func (r *IdentityResolver) ResolveEnrollment(ctx context.Context, uuid string, at time.Time) (Enrollment, bool, error) {
	enrollments, err := r.service.Enrollments(ctx, uuid)
	if err != nil {
		return Enrollment{}, false, errors.Wrapf(err, "getting enrollments of %s", uuid)
	}
	e, ok := EnrollmentAt(enrollments, at)
	return e, ok, nil
}

// Resolve resolves id as of at. It does not fail.
func (r *IdentityResolver) Resolve(ctx context.Context, id Identity, at time.Time) ResolvedIdentity {
	ri := ResolvedIdentity{Name: id.Name, Domain: id.Domain()}
	if id.IsEmpty() {
		return ri
	}
	uuid, err := r.ResolveUniqueID(ctx, id)
	if err != nil {
		r.log.Warnf("identity lookup failed: %v", err)
		r.stats.Count("identity.failed", 1, 1)
		return ri
	}
	ri.UUID = &uuid
	if at.IsZero() {
		r.log.Warnf("no reference time for %s, organization left empty", uuid)
		return ri
	}
	e, ok, err := r.ResolveEnrollment(ctx, uuid, at)
	if err != nil {
		r.log.Warnf("enrollment lookup failed: %v", err)
		r.stats.Count("identity.failed", 1, 1)
		return ri
	}
	if ok {
		org := e.Organization
		ri.OrgName = &org
	}
	return ri
}

package leveldb

import (
	"context"
	"testing"
	"time"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/mock"
	"github.com/grimoire/elk/test"
)

func newKeyValue(t *testing.T, dir string) *KeyValue {
	t.Helper()
	kv, err := NewKeyValue(dir)
	if err != nil {
		t.Fatalf("opening leveldb: %v", err)
	}
	return kv
}

func TestKeyValue(t *testing.T) {
	dir := t.TempDir()
	kv := newKeyValue(t, dir)
	now := time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	ctx := context.Background()
	test.ErrNil(t, kv.Set(ctx, "uid/gerrit/a", []byte("u1"), time.Hour), "Set")
	test.ErrNil(t, kv.Set(ctx, "enr/u1", []byte("[]"), 0), "Set forever")

	val, ok, err := kv.Get(ctx, "uid/gerrit/a")
	test.ErrNil(t, err, "Get")
	test.MustBe(t, true, ok)
	test.MustBe(t, "u1", string(val))

	_, ok, err = kv.Get(ctx, "missing")
	test.ErrNil(t, err, "Get missing")
	test.MustBe(t, false, ok)

	now = now.Add(2 * time.Hour)
	_, ok, err = kv.Get(ctx, "uid/gerrit/a")
	test.ErrNil(t, err, "Get expired")
	test.MustBe(t, false, ok, "expired")
	_, ok, _ = kv.Get(ctx, "enr/u1")
	test.MustBe(t, true, ok, "no ttl")

	// Entries survive a reopen.
	test.ErrNil(t, kv.Close(), "Close")
	kv = newKeyValue(t, dir)
	defer kv.Close()
	val, ok, err = kv.Get(ctx, "enr/u1")
	test.ErrNil(t, err, "Get after reopen")
	test.MustBe(t, true, ok)
	test.MustBe(t, "[]", string(val))

	n, err := kv.Purge("enr/")
	test.ErrNil(t, err, "Purge")
	test.MustBe(t, 1, n)
	_, ok, _ = kv.Get(ctx, "enr/u1")
	test.MustBe(t, false, ok, "purged")
}

func TestKeyValueCachesIdentities(t *testing.T) {
	kv := newKeyValue(t, t.TempDir())
	defer kv.Close()
	svc := &mock.IdentityService{}
	c := elk.NewCachedIdentityService(svc, kv)
	id := elk.Identity{Username: strPtr("jroe")}
	for i := 0; i < 2; i++ {
		_, err := c.UniqueID(context.Background(), id, "gerrit")
		test.ErrNil(t, err, "UniqueID")
	}
	test.MustBe(t, 1, svc.Lookups)
}

func strPtr(s string) *string { return &s }

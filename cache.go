package elk

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// KeyValue is a byte store identity lookups can be cached in. Get reports a
// missing or expired key with ok false and a nil error.
type KeyValue interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// CachedIdentityService is a read-through cache in front of an
// IdentityService. Cache failures are logged and fall through to the
// service; service failures are not cached.
type CachedIdentityService struct {
	service IdentityService
	kv      KeyValue
	ttl     time.Duration
	log     Logger
	stats   Statter
	group   singleflight.Group
}

// CacheOption is a functional option for CachedIdentityService.
type CacheOption func(c *CachedIdentityService)

// OptCacheTTL sets how long cached lookups are used for. Zero keeps them
// until the store evicts them.
func OptCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedIdentityService) {
		c.ttl = ttl
	}
}

// OptCacheLogger sets the logger cache failures are reported to.
func OptCacheLogger(l Logger) CacheOption {
	return func(c *CachedIdentityService) {
		c.log = l
	}
}

// OptCacheStatter sets the Statter which counts hits and misses.
func OptCacheStatter(s Statter) CacheOption {
	return func(c *CachedIdentityService) {
		c.stats = s
	}
}

// NewCachedIdentityService gets a CachedIdentityService. Lookups are cached
// for a day unless OptCacheTTL says otherwise.
func NewCachedIdentityService(service IdentityService, kv KeyValue, opts ...CacheOption) *CachedIdentityService {
	c := &CachedIdentityService{
		service: service,
		kv:      kv,
		ttl:     24 * time.Hour,
		log:     NopLogger{},
		stats:   NopStatter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UniqueID implements IdentityService.
func (c *CachedIdentityService) UniqueID(ctx context.Context, id Identity, source string) (string, error) {
	key, err := UniqueIdentity(id, source)
	if err != nil {
		return "", err
	}
	key = "uid/" + source + "/" + key
	val, err := c.cached(ctx, key, func() ([]byte, error) {
		uuid, err := c.service.UniqueID(ctx, id, source)
		return []byte(uuid), err
	})
	return string(val), err
}

// Enrollments implements IdentityService.
func (c *CachedIdentityService) Enrollments(ctx context.Context, uuid string) ([]Enrollment, error) {
	val, err := c.cached(ctx, "enr/"+uuid, func() ([]byte, error) {
		enrollments, err := c.service.Enrollments(ctx, uuid)
		if err != nil {
			return nil, err
		}
		return json.Marshal(enrollments)
	})
	if err != nil {
		return nil, err
	}
	var enrollments []Enrollment
	if err := json.Unmarshal(val, &enrollments); err != nil {
		return nil, errors.Wrapf(err, "decoding cached enrollments of %s", uuid)
	}
	return enrollments, nil
}

// cached returns the value at key, calling fetch and storing its result on a
// miss. Concurrent misses of one key share a single fetch.
func (c *CachedIdentityService) cached(ctx context.Context, key string, fetch func() ([]byte, error)) ([]byte, error) {
	val, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		c.log.Warnf("reading identity cache: %v", err)
	}
	if ok {
		c.stats.Count("identity.cache.hit", 1, 1)
		return val, nil
	}
	c.stats.Count("identity.cache.miss", 1, 1)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		val, err := fetch()
		if err != nil {
			return nil, err
		}
		if err := c.kv.Set(ctx, key, val, c.ttl); err != nil {
			c.log.Warnf("writing identity cache: %v", err)
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// MemoryKeyValue is a KeyValue held in memory for the life of a run.
type MemoryKeyValue struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

// NewMemoryKeyValue gets an empty MemoryKeyValue.
func NewMemoryKeyValue() *MemoryKeyValue {
	return &MemoryKeyValue{entries: make(map[string]memoryEntry)}
}

// Get implements KeyValue.
func (m *MemoryKeyValue) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !time.Now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

// Set implements KeyValue.
func (m *MemoryKeyValue) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{val: val}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

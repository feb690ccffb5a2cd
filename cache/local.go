package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/tenancy/store"
)

// Local is an in-process tenant cache with TTL expiration and LRU eviction.
type Local struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List // front = most recently used
	maxSize  int
	ttl      time.Duration
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key       string
	tenant    *store.Tenant
	expiresAt time.Time
}

// NewLocal creates a new Local cache.
func NewLocal(cfg Config) *Local {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &Local{
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		maxSize:  cfg.MaxSize,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
}

// GetTenant returns a copy of the cached tenant.
func (c *Local) GetTenant(_ context.Context, subdomain string) (*store.Tenant, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[tenantKey(subdomain)]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false, nil
	}
	c.eviction.MoveToFront(elem)
	c.hits++
	return e.tenant.Clone(), true, nil
}

// SetTenant stores a copy of t under its subdomain.
func (c *Local) SetTenant(_ context.Context, t *store.Tenant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := tenantKey(t.Subdomain)
	expires := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.tenant, e.expiresAt = t.Clone(), expires
		c.eviction.MoveToFront(elem)
		return nil
	}

	for c.eviction.Len() >= c.maxSize {
		back := c.eviction.Back()
		c.removeLocked(back)
		c.evictions++
	}
	c.items[key] = c.eviction.PushFront(&entry{key: key, tenant: t.Clone(), expiresAt: expires})
	return nil
}

// Invalidate drops the entry for subdomain.
func (c *Local) Invalidate(_ context.Context, subdomain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[tenantKey(subdomain)]; ok {
		c.removeLocked(elem)
	}
	return nil
}

// Stats holds cache statistics.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns cache statistics.
func (c *Local) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.eviction.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Local) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*entry).key)
	c.eviction.Remove(elem)
}

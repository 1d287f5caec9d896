package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// entry holds a cached string value with an optional expiry.
type entry struct {
	data     string
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

type hash struct {
	fields   map[string]string
	expireAt time.Time
}

func (h *hash) expired(now time.Time) bool {
	return !h.expireAt.IsZero() && now.After(h.expireAt)
}

// LocalCache is an in-process cache implementing the Cache interface. A single
// mutex guards all keyspaces; gateway cache traffic is tiny compared with
// socket I/O.
type LocalCache struct {
	mu         sync.Mutex
	kv         map[string]*entry
	hashes     map[string]*hash
	sets       map[string]map[string]struct{}
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		kv:         make(map[string]*entry),
		hashes:     make(map[string]*hash),
		sets:       make(map[string]map[string]struct{}),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.kv {
		if e.expired(now) {
			delete(c.kv, k)
		}
	}
	for k, h := range c.hashes {
		if h.expired(now) {
			delete(c.hashes, k)
		}
	}
}

// ---- KV ----

func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if e, ok := c.kv[key]; ok && !e.expired(now) {
		return false, nil
	}
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}
	c.kv[key] = e
	return true, nil
}

// Del removes keys from every keyspace.
func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.kv, k)
		delete(c.hashes, k)
		delete(c.sets, k)
	}
	return nil
}

// Expire sets a TTL on a kv or hash key.
func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if e, ok := c.kv[key]; ok && !e.expired(now) {
		e.expireAt = now.Add(ttl)
		return nil
	}
	if h, ok := c.hashes[key]; ok && !h.expired(now) {
		h.expireAt = now.Add(ttl)
		return nil
	}
	return ErrNotFound
}

// ---- Hash ----

func (c *LocalCache) HSet(_ context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[key]
	if !ok || h.expired(time.Now()) {
		h = &hash{fields: make(map[string]string, len(fields))}
		c.hashes[key] = h
	}
	for f, v := range fields {
		h.fields[f] = v
	}
	return nil
}

// HGetAll returns an empty map for a missing or expired key, like Redis.
func (c *LocalCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]string)
	h, ok := c.hashes[key]
	if !ok {
		return result, nil
	}
	if h.expired(time.Now()) {
		delete(c.hashes, key)
		return result, nil
	}
	for f, v := range h.fields {
		result[f] = v
	}
	return result, nil
}

// ---- Set ----

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		s = make(map[string]struct{})
		c.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sets[key]
	for _, m := range members {
		delete(s, m)
	}
	if len(s) == 0 {
		delete(c.sets, key)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sets[key]
	result := make([]string, 0, len(s))
	for m := range s {
		result = append(result, m)
	}
	return result, nil
}

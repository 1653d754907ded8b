// Package memory provides an in-process implementation of repository.Cache,
// for single-node deployments or tests that don't need Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/alexander-storage/internal/repository"
)

const sweepInterval = time.Second

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Cache is an in-process, TTL-aware cache guarded by a single mutex. A
// background goroutine periodically sweeps expired entries so memory
// doesn't grow unbounded between reads.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCache constructs a ready-to-use in-process cache. Callers must call
// Stop when done to release the sweeper goroutine.
func NewCache() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Get retrieves a value, returning repository.ErrCacheMiss if the key is
// absent or has expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, repository.ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key. A zero ttl means the entry never expires on
// its own (only Delete removes it).
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	e := entry{value: stored}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Exists reports whether key is present and unexpired, without copying
// its value.
func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// Stop terminates the background sweeper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

var _ repository.Cache = (*Cache)(nil)

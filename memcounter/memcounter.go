// Package memcounter implements sqlstore.Counter on memcached, so a
// relational Store can answer freshness checks without touching the
// primary database.
//
// memcached may evict the counter key at any time. Recovery re-seeds
// it at the highest value this process has observed plus a fixed jump,
// which is larger than any plausible number of mutations between two
// freshness checks. Every instance's remembered marker then compares
// unequal and the next read pays one full resync instead of serving a
// silently stale cache.
package memcounter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/bradfitz/gomemcache/memcache"

	"go.mercari.io/durablemap/sqlstore"
)

var _ sqlstore.Counter = (*Counter)(nil)

// missingJump is the distance a re-seeded counter lands past the
// highest observed value, so no instance can hold a matching marker.
const missingJump = 1000

// Counter is a memcached-backed monotonic counter. All methods are
// safe for concurrent use.
type Counter struct {
	client   *memcache.Client
	key      string
	lastSeen atomic.Uint64
}

// New returns a Counter stored under key. The memcache client carries
// its own timeouts; the context passed to Counter methods is not
// consulted.
func New(client *memcache.Client, key string) *Counter {
	return &Counter{client: client, key: key}
}

// Increment implements sqlstore.Counter.
func (c *Counter) Increment(ctx context.Context) (uint64, error) {
	next, err := c.client.Increment(c.key, 1)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return c.reseed()
	}
	if err != nil {
		return 0, fmt.Errorf("memcounter: incr %q: %w", c.key, err)
	}
	c.observe(next)
	return next, nil
}

// Current implements sqlstore.Counter. A missing counter is re-seeded
// rather than reported as zero, so an eviction always moves the marker.
func (c *Counter) Current(ctx context.Context) (uint64, error) {
	item, err := c.client.Get(c.key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return c.reseed()
	}
	if err != nil {
		return 0, fmt.Errorf("memcounter: get %q: %w", c.key, err)
	}
	value, err := strconv.ParseUint(string(item.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memcounter: parse %q: %w", c.key, err)
	}
	c.observe(value)
	return value, nil
}

func (c *Counter) reseed() (uint64, error) {
	seed := c.lastSeen.Load() + missingJump
	item := &memcache.Item{Key: c.key, Value: strconv.AppendUint(nil, seed, 10)}
	err := c.client.Add(item)
	if errors.Is(err, memcache.ErrNotStored) {
		// Another instance re-seeded first; adopt its value.
		next, err := c.client.Increment(c.key, 1)
		if err != nil {
			return 0, fmt.Errorf("memcounter: incr %q after lost re-seed: %w", c.key, err)
		}
		c.observe(next)
		return next, nil
	}
	if err != nil {
		return 0, fmt.Errorf("memcounter: add %q: %w", c.key, err)
	}
	c.observe(seed)
	return seed, nil
}

// observe keeps lastSeen at the highest value this process has seen.
func (c *Counter) observe(v uint64) {
	for {
		cur := c.lastSeen.Load()
		if v <= cur || c.lastSeen.CompareAndSwap(cur, v) {
			return
		}
	}
}

package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// maxPolicyEntries bounds the cache; reaching it clears everything.
const maxPolicyEntries = 1 << 20

type policyEntry struct {
	policy  *ContentPolicy // nil when the content no longer exists
	expires time.Time
}

// PolicyCache is a read-through cache from content id to its bank policy.
// Reads share the lock; misses are filled with one store round trip.
type PolicyCache struct {
	repo  BankRepo
	clock Clock
	ttl   time.Duration
	log   *log.Helper

	mu      sync.RWMutex
	entries map[int64]policyEntry
}

// NewPolicyCache creates a PolicyCache.
func NewPolicyCache(repo BankRepo, clock Clock, ttl time.Duration, logger log.Logger) *PolicyCache {
	return &PolicyCache{
		repo:    repo,
		clock:   clock,
		ttl:     ttl,
		log:     log.NewHelper(logger),
		entries: make(map[int64]policyEntry),
	}
}

// Get returns policies for ids. Ids whose content is gone are absent.
func (c *PolicyCache) Get(ctx context.Context, ids []int64) (map[int64]*ContentPolicy, error) {
	now := c.clock.Now()
	out := make(map[int64]*ContentPolicy, len(ids))
	var misses []int64

	c.mu.RLock()
	for _, id := range ids {
		e, ok := c.entries[id]
		if !ok || now.After(e.expires) {
			misses = append(misses, id)
			continue
		}
		if e.policy != nil {
			out[id] = e.policy
		}
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := c.repo.GetContentPolicies(ctx, misses)
	if err != nil {
		c.log.Warnf("policy lookup for %d ids failed: %v", len(misses), err)
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}

	expires := now.Add(c.ttl)
	c.mu.Lock()
	if len(c.entries)+len(misses) > maxPolicyEntries {
		c.entries = make(map[int64]policyEntry)
	}
	for _, id := range misses {
		p := fetched[id]
		c.entries[id] = policyEntry{policy: p, expires: expires}
		if p != nil {
			out[id] = p
		}
	}
	c.mu.Unlock()
	return out, nil
}

// Invalidate drops every entry. Called on bank-level configuration changes.
func (c *PolicyCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[int64]policyEntry)
	c.mu.Unlock()
}

// InvalidateContent drops the given ids.
func (c *PolicyCache) InvalidateContent(ids ...int64) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.entries, id)
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries, including negative ones.
func (c *PolicyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

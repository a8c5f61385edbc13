package server

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"vestvault/services/custodyd/storage"
)

const (
	defaultNonceCapacity = 65536
	noncePruneInterval   = time.Minute
	maxNonceLength       = 128
)

// NonceStore persists request nonces so a restart does not reopen the replay
// window. *storage.Journal implements it.
type NonceStore interface {
	EnsureNonce(ctx context.Context, signer, nonce string, observedAt time.Time) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]storage.RequestNonce, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// nonceRegistry remembers (signer, nonce) pairs for ttl. The in-memory cache
// answers repeats cheaply; the store, when present, is authoritative.
type nonceRegistry struct {
	ttl   time.Duration
	cache *nonceCache
	store NonceStore

	pruneMu    sync.Mutex
	lastPruned time.Time
}

func newNonceRegistry(ttl time.Duration, store NonceStore) *nonceRegistry {
	return &nonceRegistry{ttl: ttl, cache: newNonceCache(ttl, defaultNonceCapacity), store: store}
}

// register records the pair and reports whether it was already used.
func (n *nonceRegistry) register(ctx context.Context, signer, nonce string, now time.Time) (bool, error) {
	key := signer + "|" + nonce
	if n.store == nil {
		return n.cache.Seen(key, now), nil
	}
	if n.cache.Contains(key, now) {
		return true, nil
	}
	if err := n.prune(ctx, now); err != nil {
		return false, err
	}
	existed, err := n.store.EnsureNonce(ctx, signer, nonce, now)
	if err != nil {
		return false, err
	}
	n.cache.Add(key, now)
	return existed, nil
}

func (n *nonceRegistry) prune(ctx context.Context, now time.Time) error {
	n.pruneMu.Lock()
	defer n.pruneMu.Unlock()
	if !n.lastPruned.IsZero() && now.Sub(n.lastPruned) < noncePruneInterval {
		return nil
	}
	if err := n.store.PruneNonces(ctx, now.Add(-n.ttl)); err != nil {
		return err
	}
	n.lastPruned = now
	return nil
}

// hydrate loads nonces still inside the window from the store.
func (n *nonceRegistry) hydrate(ctx context.Context, now time.Time) (int, error) {
	if n.store == nil {
		return 0, nil
	}
	records, err := n.store.RecentNonces(ctx, now.Add(-n.ttl))
	if err != nil {
		return 0, fmt.Errorf("load nonces: %w", err)
	}
	for _, rec := range records {
		n.cache.Add(rec.Signer+"|"+rec.Nonce, rec.ObservedAt)
	}
	return len(records), nil
}

// nonceCache is a bounded, insertion ordered set with expiry.
type nonceCache struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key  string
	seen time.Time
}

func newNonceCache(ttl time.Duration, capacity int) *nonceCache {
	return &nonceCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen reports whether key is present and inserts it when it is not.
func (c *nonceCache) Seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(now)
	if _, ok := c.entries[key]; ok {
		return true
	}
	c.insert(key, now)
	return false
}

func (c *nonceCache) Contains(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(now)
	_, ok := c.entries[key]
	return ok
}

func (c *nonceCache) Add(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(now)
	c.insert(key, now)
}

func (c *nonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *nonceCache) insert(key string, now time.Time) {
	if elem, ok := c.entries[key]; ok {
		elem.Value = nonceEntry{key: key, seen: now}
		c.order.MoveToBack(elem)
		return
	}
	for c.capacity > 0 && c.order.Len() >= c.capacity {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.entries, front.Value.(nonceEntry).key)
	}
	c.entries[key] = c.order.PushBack(nonceEntry{key: key, seen: now})
}

func (c *nonceCache) expire(now time.Time) {
	cutoff := now.Add(-c.ttl)
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		entry := front.Value.(nonceEntry)
		if !entry.seen.Before(cutoff) {
			return
		}
		c.order.Remove(front)
		delete(c.entries, entry.key)
	}
}

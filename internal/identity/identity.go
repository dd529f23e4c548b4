// Package identity implements a TTL-refreshed id→name cache: lookups
// never fail — unknown ids resolve to themselves and are queued for a
// later refresh — because correctness never depends on display names,
// only their eventual consistency. It is a mutex-guarded in-memory map
// with a TTL and a pluggable Resolver callback, plus a JSON snapshot
// file for durability across restarts.
package identity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const maxSnapshotBytes = 8 << 20

// Resolver looks up a batch of unknown ids against an upstream source,
// returning whatever names it could resolve. Implemented per-source (T's
// users/tags endpoint, M's users endpoint).
type Resolver func(ctx context.Context, ids []string) (map[string]string, error)

type entry struct {
	name      string
	refreshed time.Time
}

// Cache is a process-memory id→name map with TTL-based refresh and an
// optional on-disk snapshot.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	resolve  Resolver
	pending  map[string]struct{}
	snapshot string
}

func New(resolve Resolver, ttl time.Duration, snapshotPath string) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	c := &Cache{
		entries:  make(map[string]entry),
		pending:  make(map[string]struct{}),
		ttl:      ttl,
		resolve:  resolve,
		snapshot: snapshotPath,
	}
	c.loadSnapshot()
	return c
}

// Resolve returns the display name for id: the cached name when one is
// known (even past its TTL), otherwise id itself. Stale or unknown ids are
// marked pending for RefreshPending.
func (c *Cache) Resolve(id string) string {
	if id == "" {
		return id
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || time.Since(e.refreshed) > c.ttl {
		c.pending[id] = struct{}{}
	}
	if !ok {
		return id
	}
	return e.name
}

// ResolveMany is a convenience batch form preserving input order.
func (c *Cache) ResolveMany(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = c.Resolve(id)
	}
	return out
}

// RefreshPending resolves every id currently marked pending via the
// configured Resolver. Name changes are picked up the next time an
// update event touches the same id, or on the next periodic sweep.
func (c *Cache) RefreshPending(ctx context.Context) error {
	if c.resolve == nil {
		return nil
	}
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	resolved, err := c.resolve(ctx, ids)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	c.mu.Lock()
	for _, id := range ids {
		if name, ok := resolved[id]; ok {
			c.entries[id] = entry{name: name, refreshed: now}
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	c.saveSnapshot()
	return nil
}

// Put seeds or overwrites an entry directly (e.g. the handler already has
// a fresh name from the webhook payload itself).
func (c *Cache) Put(id, name string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.entries[id] = entry{name: name, refreshed: time.Now().UTC()}
	delete(c.pending, id)
	c.mu.Unlock()
}

type snapshotEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Cache) saveSnapshot() {
	if c.snapshot == "" {
		return
	}
	c.mu.Lock()
	out := make([]snapshotEntry, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, snapshotEntry{ID: id, Name: e.name})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	b, err := json.Marshal(out)
	if err != nil {
		return
	}
	if dir := filepath.Dir(c.snapshot); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	_ = os.WriteFile(c.snapshot, b, 0o644)
}

func (c *Cache) loadSnapshot() {
	if c.snapshot == "" {
		return
	}
	info, err := os.Stat(c.snapshot)
	if err != nil || info.Size() > maxSnapshotBytes {
		return
	}
	b, err := os.ReadFile(c.snapshot)
	if err != nil {
		return
	}
	var entries []snapshotEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return
	}
	now := time.Now().UTC()
	c.mu.Lock()
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		c.entries[e.ID] = entry{name: e.Name, refreshed: now}
	}
	c.mu.Unlock()
}

package cache

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL bounds staleness for dashboard reads without hammering the
// backing store.
const DefaultTTL = 5 * time.Minute

// Collection caches the one unfiltered read a service performs, keyed by the
// caller's scope. Filtered reads never pass through it: the filter space is
// unbounded, and caching it would serve stale filtered results after writes
// unless every filter key were invalidated too.
type Collection[T any] struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	now     func() time.Time
}

// NewCollection builds a collection cache whose entries live under prefix.
// A non-positive ttl falls back to DefaultTTL.
func NewCollection[T any](backend Backend, prefix string, ttl time.Duration) *Collection[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Collection[T]{
		backend: backend,
		prefix:  prefix,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the freshness clock. Test hook.
func (c *Collection[T]) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Collection[T]) key(scopeKey string) string {
	return c.prefix + ":" + scopeKey
}

// Get returns the cached collection for the scope when the entry is younger
// than the TTL. Backend failures and decode failures degrade to a miss: the
// caller refetches, and the last known-good entry stays put.
func (c *Collection[T]) Get(ctx context.Context, scopeKey string) ([]T, bool) {
	envelope, ok, err := c.backend.Lookup(ctx, c.key(scopeKey))
	if err != nil || !ok {
		return nil, false
	}
	if !c.now().Before(envelope.ExpiresAt) {
		return nil, false
	}
	var items []T
	if err := json.Unmarshal(envelope.Payload, &items); err != nil {
		return nil, false
	}
	return items, true
}

// Put replaces the scope's entry unless a newer fetch already landed: a
// response whose fetch began before the current entry was stored is
// discarded, so a slow straggler cannot overwrite fresher data. Returns
// whether the entry was stored.
func (c *Collection[T]) Put(ctx context.Context, scopeKey string, items []T, fetchStartedAt time.Time) bool {
	key := c.key(scopeKey)
	if existing, ok, err := c.backend.Lookup(ctx, key); err == nil && ok {
		if !fetchStartedAt.IsZero() && existing.StoredAt.After(fetchStartedAt) {
			return false
		}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return false
	}
	storedAt := c.now()
	envelope := Envelope{Payload: payload, StoredAt: storedAt, ExpiresAt: storedAt.Add(c.ttl)}
	return c.backend.Store(ctx, key, envelope) == nil
}

// InvalidateAll wipes every scope's entry, independent of age. Called after
// every committed write through the owning service: records move between
// scopes' views, so whole-cache invalidation is the only safe coarse grain.
// Never called on a failed write, since the previous cached state is still
// correct then.
func (c *Collection[T]) InvalidateAll(ctx context.Context) {
	_ = c.backend.DeletePrefix(ctx, c.prefix+":")
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Page is one cached window of a paginated view.
type Page[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"totalCount"`
	HasMore    bool `json:"hasMore"`
}

// Pages caches paginated reads keyed by (scope key, page, page size). Each
// tuple has its own TTL-governed entry. Invalidation is deliberately coarse:
// page boundaries shift unpredictably when any row changes, so a write wipes
// every entry for the affected scope rather than guessing which pages moved.
type Pages[T any] struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	now     func() time.Time
}

// NewPages builds a paginated cache whose keys all live under prefix.
func NewPages[T any](backend Backend, prefix string, ttl time.Duration) *Pages[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Pages[T]{
		backend: backend,
		prefix:  prefix,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the freshness clock. Test hook.
func (p *Pages[T]) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

func (p *Pages[T]) key(scopeKey string, page, pageSize int) string {
	return fmt.Sprintf("%s:%s:page:%d:size:%d", p.prefix, scopeKey, page, pageSize)
}

func (p *Pages[T]) scopePrefix(scopeKey string) string {
	return p.prefix + ":" + scopeKey + ":"
}

// Get returns the cached page for the tuple when fresh.
func (p *Pages[T]) Get(ctx context.Context, scopeKey string, page, pageSize int) (Page[T], bool) {
	envelope, ok, err := p.backend.Lookup(ctx, p.key(scopeKey, page, pageSize))
	if err != nil || !ok {
		return Page[T]{}, false
	}
	if !p.now().Before(envelope.ExpiresAt) {
		return Page[T]{}, false
	}
	var out Page[T]
	if err := json.Unmarshal(envelope.Payload, &out); err != nil {
		return Page[T]{}, false
	}
	return out, true
}

// Put stores one page entry, subject to the same recency guard as
// Collection.Put.
func (p *Pages[T]) Put(ctx context.Context, scopeKey string, page, pageSize int, value Page[T], fetchStartedAt time.Time) bool {
	key := p.key(scopeKey, page, pageSize)
	if existing, ok, err := p.backend.Lookup(ctx, key); err == nil && ok {
		if !fetchStartedAt.IsZero() && existing.StoredAt.After(fetchStartedAt) {
			return false
		}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return false
	}
	storedAt := p.now()
	envelope := Envelope{Payload: payload, StoredAt: storedAt, ExpiresAt: storedAt.Add(p.ttl)}
	return p.backend.Store(ctx, key, envelope) == nil
}

// Refresh drops the single entry for the tuple, leaving every other page
// untouched. Backs the forceRefresh read path.
func (p *Pages[T]) Refresh(ctx context.Context, scopeKey string, page, pageSize int) {
	_ = p.backend.Delete(ctx, p.key(scopeKey, page, pageSize))
}

// InvalidateScope wipes every cached page for one scope key.
func (p *Pages[T]) InvalidateScope(ctx context.Context, scopeKey string) {
	_ = p.backend.DeletePrefix(ctx, p.scopePrefix(scopeKey))
}

// InvalidateAll wipes every cached page under this cache's prefix. Used when
// a global record changes, since global rows appear in every scope's pages.
func (p *Pages[T]) InvalidateAll(ctx context.Context) {
	_ = p.backend.DeletePrefix(ctx, p.prefix+":")
}

// Package cache holds the TTL-governed read caches the dashboard services
// share: a single-entry collection cache for unfiltered reads and a keyed
// cache for paginated views. Both sit on a pluggable backend (in-process or
// valkey) that stores opaque envelopes; staleness, keying, and the recency
// guard live in the typed layer so every backend behaves identically.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is one cached value with its freshness window. Payload is the JSON
// encoding of whatever the typed layer stored.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Backend persists envelopes by key. A backend failure is never surfaced to
// service callers: lookups degrade to misses and stores are best effort, so a
// cache outage costs round trips, not correctness.
type Backend interface {
	Lookup(ctx context.Context, key string) (Envelope, bool, error)
	Store(ctx context.Context, key string, envelope Envelope) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

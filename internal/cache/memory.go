package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Envelope
}

// NewMemory returns the in-process backend. Expiry is lazy: stale entries are
// dropped on lookup rather than by a sweeper.
func NewMemory() Backend {
	return &memoryBackend{entries: make(map[string]Envelope)}
}

func (b *memoryBackend) Lookup(_ context.Context, key string) (Envelope, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	envelope, ok := b.entries[key]
	if !ok {
		return Envelope{}, false, nil
	}
	if time.Now().After(envelope.ExpiresAt) {
		delete(b.entries, key)
		return Envelope{}, false, nil
	}
	return cloneEnvelope(envelope), true, nil
}

func (b *memoryBackend) Store(_ context.Context, key string, envelope Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if envelope.StoredAt.IsZero() {
		envelope.StoredAt = time.Now().UTC()
	}
	if envelope.ExpiresAt.IsZero() || envelope.ExpiresAt.Before(envelope.StoredAt) {
		return nil
	}
	b.entries[key] = cloneEnvelope(envelope)
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			delete(b.entries, key)
		}
	}
	return nil
}

func (b *memoryBackend) Size(_ context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.entries)), nil
}

func (b *memoryBackend) Close(context.Context) error { return nil }

func cloneEnvelope(in Envelope) Envelope {
	out := Envelope{StoredAt: in.StoredAt, ExpiresAt: in.ExpiresAt}
	if len(in.Payload) > 0 {
		out.Payload = make([]byte, len(in.Payload))
		copy(out.Payload, in.Payload)
	}
	return out
}

package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyTLSConfig enables TLS toward the shared cache.
type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig carries the connection settings for the shared cache backend.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

type valkeyBackend struct {
	client valkey.Client
}

// NewValkey connects to a valkey/redis server so several dashboard replicas
// can share one cache. Envelopes ride as JSON with a PX expiry matching the
// entry's freshness window.
func NewValkey(cfg ValkeyConfig) (Backend, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &valkeyBackend{client: client}, nil
}

func (b *valkeyBackend) Lookup(ctx context.Context, key string) (Envelope, bool, error) {
	resp := b.client.Do(ctx, b.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Envelope{}, false, nil
		}
		return Envelope{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Envelope{}, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	return envelope, true, nil
}

func (b *valkeyBackend) Store(ctx context.Context, key string, envelope Envelope) error {
	if envelope.StoredAt.IsZero() {
		envelope.StoredAt = time.Now().UTC()
	}
	if envelope.ExpiresAt.IsZero() || envelope.ExpiresAt.Before(envelope.StoredAt) {
		return errors.New("cache: valkey envelope expiry required")
	}
	ttl := time.Until(envelope.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	cmd := b.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

func (b *valkeyBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Do(ctx, b.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey del: %w", err)
	}
	return nil
}

// DeletePrefix walks the keyspace with SCAN so coarse invalidation works on a
// shared backend too. Page caches key every entry under a scope prefix, which
// keeps the walk narrow.
func (b *valkeyBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	pattern := prefix + "*"
	var cursor uint64
	for {
		resp := b.client.Do(ctx, b.client.B().Scan().Cursor(cursor).Match(pattern).Count(256).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := b.client.Do(ctx, b.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("cache: valkey del: %w", err)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (b *valkeyBackend) Size(ctx context.Context) (int64, error) {
	resp := b.client.Do(ctx, b.client.B().Dbsize().Build())
	size, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: valkey dbsize: %w", err)
	}
	return size, nil
}

func (b *valkeyBackend) Close(context.Context) error {
	b.client.Close()
	return nil
}

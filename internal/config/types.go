package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle wiring.
type ServerConfig struct {
	Listen    ListenConfig    `koanf:"listen"`
	Logging   LoggingConfig   `koanf:"logging"`
	Cache     CacheConfig     `koanf:"cache"`
	Store     StoreConfig     `koanf:"store"`
	Directory DirectoryConfig `koanf:"directory"`
	Identity  IdentityConfig  `koanf:"identity"`
	Status    StatusConfig    `koanf:"status"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects the cache backend and the shared TTL.
type CacheConfig struct {
	Backend    string            `koanf:"backend"`
	TTLSeconds int               `koanf:"ttlSeconds"`
	Valkey     ValkeyCacheConfig `koanf:"valkey"`
}

// TTL renders the configured cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ValkeyCacheConfig carries the shared-cache connection settings.
type ValkeyCacheConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

// ValkeyTLSConfig enables TLS toward the shared cache.
type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Backend string `koanf:"backend"`
	DSN     string `koanf:"dsn"`
}

// DirectoryConfig announces how display-name documents are sourced.
type DirectoryConfig struct {
	Folder string `koanf:"folder"`
	File   string `koanf:"file"`
}

// IdentityConfig governs actor resolution for writes.
type IdentityConfig struct {
	// Header names the HTTP header carrying the actor id.
	Header string `koanf:"header"`
	// ResolveAttempts bounds the retry window for asynchronously available
	// identity before a write fails with authentication required.
	ResolveAttempts int `koanf:"resolveAttempts"`
	// RetryMillis is the pause between resolution attempts.
	RetryMillis int `koanf:"retryMillis"`
}

// RetryDelay renders the configured pause as a duration.
func (c IdentityConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryMillis) * time.Millisecond
}

// StatusConfig tunes the singleton status service.
type StatusConfig struct {
	// DefaultMessage is attached to lazily created status rows.
	DefaultMessage string `koanf:"defaultMessage"`
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	switch backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend)); backend {
	case "", "memory":
	case "valkey", "redis":
		if strings.TrimSpace(c.Server.Cache.Valkey.Address) == "" {
			return errors.New("config: server.cache.valkey.address required for valkey backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	switch backend := strings.TrimSpace(strings.ToLower(c.Server.Store.Backend)); backend {
	case "", "memory":
	case "postgres":
		if strings.TrimSpace(c.Server.Store.DSN) == "" {
			return errors.New("config: server.store.dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("config: server.store.backend unsupported: %s", c.Server.Store.Backend)
	}
	if c.Server.Directory.Folder != "" && c.Server.Directory.File != "" {
		return errors.New("config: directory.folder and directory.file are mutually exclusive")
	}
	if c.Server.Identity.ResolveAttempts < 0 {
		return fmt.Errorf("config: server.identity.resolveAttempts invalid: %d", c.Server.Identity.ResolveAttempts)
	}
	if c.Server.Identity.RetryMillis < 0 {
		return fmt.Errorf("config: server.identity.retryMillis invalid: %d", c.Server.Identity.RetryMillis)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design
// defaults: a five-minute cache TTL and the in-process backends.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend:    "memory",
				TTLSeconds: 300,
			},
			Store: StoreConfig{
				Backend: "memory",
			},
			Identity: IdentityConfig{
				Header:          "X-Opsdeck-Actor",
				ResolveAttempts: 3,
				RetryMillis:     100,
			},
			Status: StatusConfig{
				DefaultMessage: "All systems operational",
			},
		},
	}
}

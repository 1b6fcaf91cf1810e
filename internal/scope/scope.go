// Package scope decides which records a caller may see. A caller is either
// platform-wide (administrators) or bound to a single tenant; a record is
// either global or owned by a single tenant. The same predicate backs both the
// query-level OR filters pushed into the backing store and the in-memory
// membership checks, so the two paths cannot drift apart.
package scope

import (
	"fmt"
	"strings"
)

// PlatformKey is the distinguished scope key for platform-wide ownership. It
// doubles as the singleton-status key for the whole platform.
const PlatformKey = "platform"

// Caller identifies the visibility granted to a request. The zero value is
// platform-wide.
type Caller struct {
	// Tenant is empty for platform-wide callers.
	Tenant string
}

// Platform returns the administrator caller that sees every record.
func Platform() Caller { return Caller{} }

// ForTenant returns a caller restricted to a single tenant.
func ForTenant(tenant string) Caller { return Caller{Tenant: strings.TrimSpace(tenant)} }

// PlatformWide reports whether the caller sees every tenant's records.
func (c Caller) PlatformWide() bool { return c.Tenant == "" }

// Key renders the caller as a scope key suitable for cache keying and for the
// singleton-status row lookup.
func (c Caller) Key() string {
	if c.PlatformWide() {
		return PlatformKey
	}
	return "tenant:" + c.Tenant
}

// Visible reports whether a record owned by recordTenant may be returned to
// the caller. An empty recordTenant means the record is global: absent scope
// is always treated as global, never as invisible.
func Visible(caller Caller, recordTenant string) bool {
	if caller.PlatformWide() {
		return true
	}
	recordTenant = strings.TrimSpace(recordTenant)
	if recordTenant == "" {
		return true
	}
	return recordTenant == caller.Tenant
}

// ParseKey turns an external scope key ("platform" or "tenant:<id>") back into
// a Caller. A bare tenant id is accepted for convenience on HTTP surfaces.
func ParseKey(key string) (Caller, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return Caller{}, fmt.Errorf("scope: %w: empty scope key", ErrInvalidKey)
	case key == PlatformKey:
		return Platform(), nil
	case strings.HasPrefix(key, "tenant:"):
		tenant := strings.TrimSpace(strings.TrimPrefix(key, "tenant:"))
		if tenant == "" {
			return Caller{}, fmt.Errorf("scope: %w: tenant id missing in %q", ErrInvalidKey, key)
		}
		return ForTenant(tenant), nil
	case strings.Contains(key, ":"):
		return Caller{}, fmt.Errorf("scope: %w: unrecognized scope key %q", ErrInvalidKey, key)
	default:
		return ForTenant(key), nil
	}
}

// Package directory holds the operator-maintained display-name documents the
// paginated views denormalize against: tenant names and publisher (user)
// names. Documents are yaml, json, or toml files; the watcher hot-reloads
// them so renamed tenants show up without a restart.
package directory

import (
	"sync"
)

// Snapshot is one immutable load of the directory documents.
type Snapshot struct {
	Tenants map[string]string
	Users   map[string]string
	// Sources lists the files that contributed entries, for health reporting.
	Sources []string
}

// UserName resolves a user id to its display name.
func (s Snapshot) UserName(id string) (string, bool) {
	name, ok := s.Users[id]
	return name, ok
}

// TenantName resolves a tenant id to its display name.
func (s Snapshot) TenantName(id string) (string, bool) {
	name, ok := s.Tenants[id]
	return name, ok
}

// Directory serves the current snapshot and accepts replacements from the
// watcher. Reads vastly outnumber swaps.
type Directory struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// New wraps an initial snapshot.
func New(snapshot Snapshot) *Directory {
	return &Directory{snapshot: snapshot}
}

// Current returns the active snapshot.
func (d *Directory) Current() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Replace swaps in a freshly loaded snapshot.
func (d *Directory) Replace(snapshot Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = snapshot
}

// UserName resolves against the active snapshot.
func (d *Directory) UserName(id string) (string, bool) {
	return d.Current().UserName(id)
}

// TenantName resolves against the active snapshot.
func (d *Directory) TenantName(id string) (string, bool) {
	return d.Current().TenantName(id)
}

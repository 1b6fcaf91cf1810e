// Package store defines the backing-store contracts the coordination services
// depend on, plus the in-memory and Postgres implementations. The store is
// treated as an opaque relational engine: visibility filters may be pushed
// down into its queries, upserts resolve atomically on a conflict target, and
// its commit order is authoritative for concurrent writes.
package store

import (
	"context"

	"github.com/crestline/opsdeck/internal/scope"
)

// CallLogs exposes scoped reads and writes over call records.
type CallLogs interface {
	// List returns every record visible to the caller, newest first.
	List(ctx context.Context, caller scope.Caller) ([]CallLog, error)
	// Search applies the filter on top of the caller's visibility. Filtered
	// reads never pass through a cache, so they always hit the store.
	Search(ctx context.Context, caller scope.Caller, filter CallFilter) ([]CallLog, error)
	Get(ctx context.Context, caller scope.Caller, id string) (CallLog, error)
	Create(ctx context.Context, record CallLog) (CallLog, error)
	Update(ctx context.Context, record CallLog) (CallLog, error)
	Delete(ctx context.Context, caller scope.Caller, id string) error
}

// Leads exposes scoped reads and writes over sales leads.
type Leads interface {
	List(ctx context.Context, caller scope.Caller) ([]Lead, error)
	Search(ctx context.Context, caller scope.Caller, filter LeadFilter) ([]Lead, error)
	Get(ctx context.Context, caller scope.Caller, id string) (Lead, error)
	Create(ctx context.Context, record Lead) (Lead, error)
	Update(ctx context.Context, record Lead) (Lead, error)
	Delete(ctx context.Context, caller scope.Caller, id string) error
}

// Messages exposes paginated, scoped reads plus writes over broadcast
// messages. Page also returns the total visible count so callers can compute
// hasMore without a second round trip.
type Messages interface {
	Page(ctx context.Context, caller scope.Caller, offset, limit int) ([]Message, int, error)
	Get(ctx context.Context, caller scope.Caller, id string) (Message, error)
	Create(ctx context.Context, record Message) (Message, error)
	Update(ctx context.Context, record Message) (Message, error)
	Delete(ctx context.Context, caller scope.Caller, id string) error
}

// Statuses persists the per-scope singleton status rows.
type Statuses interface {
	// Get returns the current row for the scope key or ErrNotFound.
	Get(ctx context.Context, scopeKey string) (StatusRow, error)
	// Upsert atomically inserts or replaces the row keyed on ScopeKey and
	// returns the previous row when one existed. The store stamps UpdatedAt
	// itself so concurrent writers resolve by commit order, not client clocks.
	Upsert(ctx context.Context, row StatusRow) (*StatusRow, StatusRow, error)
}

// Audits is the append-only transition log. Entries are written once per
// committed status mutation and never changed.
type Audits interface {
	Append(ctx context.Context, entry AuditEntry) error
	// Recent returns up to limit entries for the scope key, newest first.
	Recent(ctx context.Context, scopeKey string, limit int) ([]AuditEntry, error)
}

// Store bundles every repository over one backing engine.
type Store interface {
	CallLogs() CallLogs
	Leads() Leads
	Messages() Messages
	Statuses() Statuses
	Audits() Audits
	Ping(ctx context.Context) error
	Close() error
}

// Package messaging serves broadcast announcements through the paginated read
// cache, denormalizing publisher and tenant display names into each page.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestline/opsdeck/internal/cache"
	"github.com/crestline/opsdeck/internal/metrics"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

const serviceName = "messaging"

// DefaultPageSize applies when the caller does not specify one.
const DefaultPageSize = 20

// MaxPageSize caps a single page.
const MaxPageSize = 100

// UnknownName renders when a publisher or tenant lookup misses. A directory
// miss degrades the page, it never fails it.
const UnknownName = "Unknown"

// Names resolves ids to display names for denormalization. One snapshot per
// page keeps the lookups batched instead of per-row.
type Names interface {
	UserName(id string) (string, bool)
	TenantName(id string) (string, bool)
}

// View is a message joined with its display names, as rendered on the
// dashboard.
type View struct {
	store.Message
	PublisherName string `json:"publisherName"`
	TenantName    string `json:"tenantName,omitempty"`
}

// PageResult is one window of the paginated view.
type PageResult = cache.Page[View]

// Config wires the messaging service.
type Config struct {
	Store   store.Messages
	Backend cache.Backend
	TTL     time.Duration
	Names   Names
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Service coordinates the paginated cache, the scope-resolved store reads,
// and the display-name joins.
type Service struct {
	store   store.Messages
	pages   *cache.Pages[View]
	names   Names
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs the service. Logger may be nil.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   cfg.Store,
		pages:   cache.NewPages[View](cfg.Backend, serviceName, cfg.TTL),
		names:   cfg.Names,
		logger:  logger.With(slog.String("service", serviceName)),
		metrics: cfg.Metrics,
	}
}

// Pages exposes the page cache for clock injection in tests.
func (s *Service) Pages() *cache.Pages[View] { return s.pages }

// GetPage returns one denormalized window of messages visible to the caller.
// Each (page, pageSize, scope) tuple has its own TTL-governed cache entry;
// forceRefresh drops just that entry before fetching.
func (s *Service) GetPage(ctx context.Context, caller scope.Caller, page, pageSize int, forceRefresh bool) (PageResult, error) {
	if page < 1 {
		return PageResult{}, fmt.Errorf("messaging: %w: page must be >= 1", store.ErrValidation)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return PageResult{}, fmt.Errorf("messaging: %w: page size exceeds %d", store.ErrValidation, MaxPageSize)
	}

	key := caller.Key()
	if forceRefresh {
		s.pages.Refresh(ctx, key, page, pageSize)
		s.metrics.ObserveCacheRead(serviceName, metrics.CacheBypass)
	} else if cached, ok := s.pages.Get(ctx, key, page, pageSize); ok {
		s.metrics.ObserveCacheRead(serviceName, metrics.CacheHit)
		return cached, nil
	} else {
		s.metrics.ObserveCacheRead(serviceName, metrics.CacheMiss)
	}

	fetchStart := time.Now().UTC()
	start := time.Now()
	items, total, err := s.store.Page(ctx, caller, (page-1)*pageSize, pageSize)
	s.observeStore("page", start, err)
	if err != nil {
		return PageResult{}, fmt.Errorf("messaging: page: %w", err)
	}

	result := PageResult{
		Items:      s.denormalize(items),
		TotalCount: total,
		HasMore:    page*pageSize < total,
	}
	s.pages.Put(ctx, key, page, pageSize, result, fetchStart)
	return result, nil
}

// Get returns one visible message or ErrNotFound.
func (s *Service) Get(ctx context.Context, caller scope.Caller, id string) (store.Message, error) {
	start := time.Now()
	record, err := s.store.Get(ctx, caller, id)
	s.observeStore("get", start, err)
	if err != nil {
		return store.Message{}, fmt.Errorf("messaging: get %s: %w", id, err)
	}
	return record, nil
}

// Create persists the message, then invalidates the affected scopes' pages.
func (s *Service) Create(ctx context.Context, caller scope.Caller, record store.Message) (store.Message, error) {
	if err := applyScope(caller, &record.Tenant); err != nil {
		return store.Message{}, err
	}
	start := time.Now()
	created, err := s.store.Create(ctx, record)
	s.observeStore("create", start, err)
	if err != nil {
		return store.Message{}, fmt.Errorf("messaging: create: %w", err)
	}
	s.invalidate(ctx, created.Tenant)
	return created, nil
}

// Update replaces the message, then invalidates the affected scopes' pages.
func (s *Service) Update(ctx context.Context, caller scope.Caller, record store.Message) (store.Message, error) {
	if err := applyScope(caller, &record.Tenant); err != nil {
		return store.Message{}, err
	}
	previous, err := s.store.Get(ctx, caller, record.ID)
	if err != nil {
		return store.Message{}, fmt.Errorf("messaging: update %s: %w", record.ID, err)
	}
	start := time.Now()
	updated, err := s.store.Update(ctx, record)
	s.observeStore("update", start, err)
	if err != nil {
		return store.Message{}, fmt.Errorf("messaging: update %s: %w", record.ID, err)
	}
	// A rescoped message leaves pages behind in its old scope too.
	s.invalidate(ctx, previous.Tenant)
	if previous.Tenant != updated.Tenant {
		s.invalidate(ctx, updated.Tenant)
	}
	return updated, nil
}

// Delete removes the message, then invalidates the affected scopes' pages.
func (s *Service) Delete(ctx context.Context, caller scope.Caller, id string) error {
	record, err := s.store.Get(ctx, caller, id)
	if err != nil {
		return fmt.Errorf("messaging: delete %s: %w", id, err)
	}
	start := time.Now()
	err = s.store.Delete(ctx, caller, id)
	s.observeStore("delete", start, err)
	if err != nil {
		return fmt.Errorf("messaging: delete %s: %w", id, err)
	}
	s.invalidate(ctx, record.Tenant)
	return nil
}

// invalidate wipes the cached pages a changed record can appear in. A global
// record appears in every scope's pages, so the whole cache goes; a tenant
// record appears in its own tenant's pages and in platform-wide pages, and
// other tenants' entries stay untouched and unexpired.
func (s *Service) invalidate(ctx context.Context, recordTenant string) {
	if recordTenant == "" {
		s.pages.InvalidateAll(ctx)
		return
	}
	s.pages.InvalidateScope(ctx, scope.ForTenant(recordTenant).Key())
	s.pages.InvalidateScope(ctx, scope.PlatformKey)
}

// denormalize joins display names in one pass over a single directory
// snapshot, so a page costs one batch of lookups rather than one per row.
func (s *Service) denormalize(items []store.Message) []View {
	out := make([]View, 0, len(items))
	missed := false
	for _, item := range items {
		view := View{Message: item, PublisherName: UnknownName}
		if s.names != nil {
			if name, ok := s.names.UserName(item.PublisherID); ok {
				view.PublisherName = name
			} else {
				missed = true
			}
			if item.Tenant != "" {
				if name, ok := s.names.TenantName(item.Tenant); ok {
					view.TenantName = name
				} else {
					view.TenantName = UnknownName
					missed = true
				}
			}
		}
		out = append(out, view)
	}
	if missed {
		s.logger.Debug("page rendered with placeholder names")
	}
	return out
}

func (s *Service) observeStore(operation string, start time.Time, err error) {
	result := metrics.StoreOK
	if err != nil {
		result = metrics.StoreError
	}
	s.metrics.ObserveStore(serviceName, operation, result, time.Since(start))
}

func applyScope(caller scope.Caller, recordTenant *string) error {
	if caller.PlatformWide() {
		return nil
	}
	switch *recordTenant {
	case "":
		*recordTenant = caller.Tenant
		return nil
	case caller.Tenant:
		return nil
	default:
		return fmt.Errorf("messaging: %w: record scoped to another tenant", store.ErrValidation)
	}
}

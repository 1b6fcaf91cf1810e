// Package leads serves the lead-management views of the dashboard through the
// shared cache and scope layers.
package leads

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

const serviceName = "leads"

// Config wires the lead service.
type Config struct {
	Store   store.Leads
	Backend cache.Backend
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Service coordinates cached, scope-resolved reads and cache-invalidating
// writes over leads.
type Service struct {
	store   store.Leads
	cache   *cache.Collection[store.Lead]
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
		cache:   cache.NewCollection[store.Lead](cfg.Backend, serviceName, cfg.TTL),
		logger:  logger.With(slog.String("service", serviceName)),
		metrics: cfg.Metrics,
	}
}

// Cache exposes the collection cache for clock injection in tests.
func (s *Service) Cache() *cache.Collection[store.Lead] { return s.cache }

// List returns every lead visible to the caller, served from cache when
// fresh. A store failure propagates without touching the cache.
func (s *Service) List(ctx context.Context, caller scope.Caller) ([]store.Lead, error) {
	key := caller.Key()
	if items, ok := s.cache.Get(ctx, key); ok {
		s.metrics.ObserveCacheRead(serviceName, metrics.CacheHit)
		return items, nil
	}
	s.metrics.ObserveCacheRead(serviceName, metrics.CacheMiss)

	fetchStart := time.Now().UTC()
	start := time.Now()
	items, err := s.store.List(ctx, caller)
	s.observeStore("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("leads: list: %w", err)
	}
	if items == nil {
		items = []store.Lead{}
	}
	s.cache.Put(ctx, key, items, fetchStart)
	return items, nil
}

// Search applies the filter, bypassing the cache. An empty filter routes
// through List.
func (s *Service) Search(ctx context.Context, caller scope.Caller, filter store.LeadFilter) ([]store.Lead, error) {
	if filter.Empty() {
		return s.List(ctx, caller)
	}
	s.metrics.ObserveCacheRead(serviceName, metrics.CacheBypass)
	start := time.Now()
	items, err := s.store.Search(ctx, caller, filter)
	s.observeStore("search", start, err)
	if err != nil {
		return nil, fmt.Errorf("leads: search: %w", err)
	}
	return items, nil
}

// Get returns one visible lead or ErrNotFound.
func (s *Service) Get(ctx context.Context, caller scope.Caller, id string) (store.Lead, error) {
	start := time.Now()
	record, err := s.store.Get(ctx, caller, id)
	s.observeStore("get", start, err)
	if err != nil {
		return store.Lead{}, fmt.Errorf("leads: get %s: %w", id, err)
	}
	return record, nil
}

// Create persists the lead and wipes the cache once the write commits.
func (s *Service) Create(ctx context.Context, caller scope.Caller, record store.Lead) (store.Lead, error) {
	if err := applyScope(caller, &record.Tenant); err != nil {
		return store.Lead{}, err
	}
	if record.Status == "" {
		record.Status = "new"
	}
	start := time.Now()
	created, err := s.store.Create(ctx, record)
	s.observeStore("create", start, err)
	if err != nil {
		return store.Lead{}, fmt.Errorf("leads: create: %w", err)
	}
	s.cache.InvalidateAll(ctx)
	return created, nil
}

// Update replaces the lead and wipes the cache once the write commits.
func (s *Service) Update(ctx context.Context, caller scope.Caller, record store.Lead) (store.Lead, error) {
	if err := applyScope(caller, &record.Tenant); err != nil {
		return store.Lead{}, err
	}
	if _, err := s.store.Get(ctx, caller, record.ID); err != nil {
		return store.Lead{}, fmt.Errorf("leads: update %s: %w", record.ID, err)
	}
	start := time.Now()
	updated, err := s.store.Update(ctx, record)
	s.observeStore("update", start, err)
	if err != nil {
		return store.Lead{}, fmt.Errorf("leads: update %s: %w", record.ID, err)
	}
	s.cache.InvalidateAll(ctx)
	return updated, nil
}

// Delete removes the lead and wipes the cache once the write commits.
func (s *Service) Delete(ctx context.Context, caller scope.Caller, id string) error {
	start := time.Now()
	err := s.store.Delete(ctx, caller, id)
	s.observeStore("delete", start, err)
	if err != nil {
		return fmt.Errorf("leads: delete %s: %w", id, err)
	}
	s.cache.InvalidateAll(ctx)
	return nil
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
		return fmt.Errorf("leads: %w: record scoped to another tenant", store.ErrValidation)
	}
}

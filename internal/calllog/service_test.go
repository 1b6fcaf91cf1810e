package calllog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crestline/opsdeck/internal/cache"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

// flakyCalls wraps the in-memory repository with switchable failures and a
// list counter, so tests can observe cache behavior around store outages.
type flakyCalls struct {
	store.CallLogs
	fail  bool
	lists int
}

var errDown = errors.New("store down")

func (f *flakyCalls) List(ctx context.Context, caller scope.Caller) ([]store.CallLog, error) {
	f.lists++
	if f.fail {
		return nil, errDown
	}
	return f.CallLogs.List(ctx, caller)
}

func (f *flakyCalls) Create(ctx context.Context, record store.CallLog) (store.CallLog, error) {
	if f.fail {
		return store.CallLog{}, errDown
	}
	return f.CallLogs.Create(ctx, record)
}

func newTestService(t *testing.T) (*Service, *flakyCalls, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	flaky := &flakyCalls{CallLogs: m.CallLogs()}
	svc := New(Config{
		Store:   flaky,
		Backend: cache.NewMemory(),
		TTL:     time.Minute,
	})
	return svc, flaky, m
}

func TestListCachesPerScope(t *testing.T) {
	svc, flaky, m := newTestService(t)
	ctx := context.Background()

	if _, err := m.CallLogs().Create(ctx, store.CallLog{ID: "c1", Tenant: "acme"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 3; i++ {
		items, err := svc.List(ctx, scope.Platform())
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if len(items) != 1 {
			t.Fatalf("list %d: got %d items", i, len(items))
		}
	}
	if flaky.lists != 1 {
		t.Fatalf("store hit %d times, want 1 (cached)", flaky.lists)
	}

	// A different caller scope is its own cache entry.
	if _, err := svc.List(ctx, scope.ForTenant("globex")); err != nil {
		t.Fatalf("tenant list: %v", err)
	}
	if flaky.lists != 2 {
		t.Fatalf("store hit %d times after new scope, want 2", flaky.lists)
	}
}

func TestListExpiryRefetches(t *testing.T) {
	svc, flaky, _ := newTestService(t)
	ctx := context.Background()

	current := time.Now().UTC()
	svc.Cache().SetClock(func() time.Time { return current })

	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("first list: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list after expiry: %v", err)
	}
	if flaky.lists != 2 {
		t.Fatalf("store hit %d times, want 2 after expiry", flaky.lists)
	}
}

func TestFilteredSearchBypassesCache(t *testing.T) {
	svc, flaky, m := newTestService(t)
	ctx := context.Background()

	if _, err := m.CallLogs().Create(ctx, store.CallLog{ID: "c1", AgentID: "agent-1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list: %v", err)
	}

	// An out-of-band write the cache has not seen.
	if _, err := m.CallLogs().Create(ctx, store.CallLog{ID: "c2", AgentID: "agent-1"}); err != nil {
		t.Fatalf("direct create: %v", err)
	}

	filtered, err := svc.Search(ctx, scope.Platform(), store.CallFilter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("filtered search returned %d items, want 2 (fresh store data)", len(filtered))
	}

	// The empty filter routes through the cached path instead.
	if _, err := svc.Search(ctx, scope.Platform(), store.CallFilter{}); err != nil {
		t.Fatalf("empty search: %v", err)
	}
	if flaky.lists != 1 {
		t.Fatalf("empty-filter search should reuse the cache, store hit %d times", flaky.lists)
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	svc, flaky, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list: %v", err)
	}
	created, err := svc.Create(ctx, scope.Platform(), store.CallLog{AgentID: "agent-9"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}

	items, err := svc.List(ctx, scope.Platform())
	if err != nil {
		t.Fatalf("list after create: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("list after create returned %d items, want 1", len(items))
	}
	if flaky.lists != 2 {
		t.Fatalf("store hit %d times, want 2 (cache wiped by write)", flaky.lists)
	}
}

func TestFailedWriteLeavesCacheIntact(t *testing.T) {
	svc, flaky, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list: %v", err)
	}

	flaky.fail = true
	if _, err := svc.Create(ctx, scope.Platform(), store.CallLog{}); err == nil {
		t.Fatalf("expected create to fail")
	}

	// The cached entry still serves; the store is not consulted.
	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list after failed write: %v", err)
	}
	if flaky.lists != 1 {
		t.Fatalf("store hit %d times, want 1 (cache preserved)", flaky.lists)
	}
}

func TestFailedReadDoesNotPoisonCache(t *testing.T) {
	svc, flaky, _ := newTestService(t)
	ctx := context.Background()

	flaky.fail = true
	if _, err := svc.List(ctx, scope.Platform()); err == nil {
		t.Fatalf("expected list to fail")
	}

	flaky.fail = false
	items, err := svc.List(ctx, scope.Platform())
	if err != nil {
		t.Fatalf("list after recovery: %v", err)
	}
	if items == nil {
		t.Fatalf("expected non-nil slice")
	}
}

func TestScopeGuardOnWrites(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// A tenant caller may not write into another tenant.
	_, err := svc.Create(ctx, scope.ForTenant("acme"), store.CallLog{Tenant: "globex"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("cross-tenant create = %v, want ErrValidation", err)
	}

	// An unset record scope inherits the caller's tenant.
	created, err := svc.Create(ctx, scope.ForTenant("acme"), store.CallLog{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Tenant != "acme" {
		t.Fatalf("record tenant = %q, want acme", created.Tenant)
	}

	// Platform callers write wherever they aim.
	created, err = svc.Create(ctx, scope.Platform(), store.CallLog{Tenant: "globex"})
	if err != nil {
		t.Fatalf("platform create: %v", err)
	}
	if created.Tenant != "globex" {
		t.Fatalf("record tenant = %q, want globex", created.Tenant)
	}
}

func TestGetNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), scope.Platform(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

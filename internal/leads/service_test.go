package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crestline/opsdeck/internal/cache"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	svc := New(Config{
		Store:   m.Leads(),
		Backend: cache.NewMemory(),
		TTL:     time.Minute,
	})
	return svc, m
}

func TestCreateDefaultsStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, scope.ForTenant("acme"), store.Lead{Name: "Jane Smith"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != "new" {
		t.Fatalf("status = %q, want new", created.Status)
	}
	if created.Tenant != "acme" {
		t.Fatalf("tenant = %q, want acme (inherited)", created.Tenant)
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected stamped CreatedAt")
	}
}

func TestCreateKeepsExplicitStatus(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), scope.Platform(), store.Lead{Name: "Bob", Status: "qualified"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != "qualified" {
		t.Fatalf("status = %q, want qualified", created.Status)
	}
}

func TestSearchRoutesEmptyFilterThroughCache(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, scope.Platform(), store.Lead{Name: "Jane"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list: %v", err)
	}

	// A write the cache has not observed.
	if _, err := m.Leads().Create(ctx, store.Lead{Name: "Ghost"}); err != nil {
		t.Fatalf("direct create: %v", err)
	}

	cached, err := svc.Search(ctx, scope.Platform(), store.LeadFilter{})
	if err != nil {
		t.Fatalf("empty search: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("empty filter served %d leads, want 1 from cache", len(cached))
	}

	fresh, err := svc.Search(ctx, scope.Platform(), store.LeadFilter{Query: "ghost"})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(fresh) != 1 || fresh[0].Name != "Ghost" {
		t.Fatalf("filtered search must bypass the cache, got %+v", fresh)
	}
}

func TestUpdateScopedToCaller(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, scope.ForTenant("acme"), store.Lead{Name: "Jane"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created.Status = "contacted"
	if _, err := svc.Update(ctx, scope.ForTenant("globex"), created); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("cross-tenant update = %v, want ErrValidation", err)
	}

	updated, err := svc.Update(ctx, scope.ForTenant("acme"), created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "contacted" {
		t.Fatalf("status = %q after update", updated.Status)
	}
}

func TestDeleteInvalidatesCache(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, scope.Platform(), store.Lead{Name: "Jane"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.List(ctx, scope.Platform()); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := svc.Delete(ctx, scope.Platform(), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	items, err := svc.List(ctx, scope.Platform())
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list after delete, got %d", len(items))
	}
}

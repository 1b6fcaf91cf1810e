package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crestline/opsdeck/internal/cache"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

type testNames struct {
	users   map[string]string
	tenants map[string]string
}

func (n testNames) UserName(id string) (string, bool) {
	name, ok := n.users[id]
	return name, ok
}

func (n testNames) TenantName(id string) (string, bool) {
	name, ok := n.tenants[id]
	return name, ok
}

// countingMessages counts Page round trips to observe cache behavior.
type countingMessages struct {
	store.Messages
	pages int
}

func (c *countingMessages) Page(ctx context.Context, caller scope.Caller, offset, limit int) ([]store.Message, int, error) {
	c.pages++
	return c.Messages.Page(ctx, caller, offset, limit)
}

func newTestService(t *testing.T) (*Service, *countingMessages, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	counting := &countingMessages{Messages: m.Messages()}
	svc := New(Config{
		Store:   counting,
		Backend: cache.NewMemory(),
		TTL:     time.Minute,
		Names: testNames{
			users:   map[string]string{"u1": "Jane Smith"},
			tenants: map[string]string{"acme": "Acme Corp"},
		},
	})
	return svc, counting, m
}

func seedMessages(t *testing.T, m *store.Memory, count int, tenant string) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		msg := store.Message{
			Tenant:      tenant,
			Title:       "broadcast",
			PublisherID: "u1",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := m.Messages().Create(context.Background(), msg); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}
}

func TestGetPageCachesPerTuple(t *testing.T) {
	svc, counting, m := newTestService(t)
	ctx := context.Background()
	seedMessages(t, m, 5, "")

	result, err := svc.GetPage(ctx, scope.Platform(), 1, 2, false)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(result.Items) != 2 || result.TotalCount != 5 || !result.HasMore {
		t.Fatalf("unexpected page: %+v", result)
	}

	// Same tuple served from cache.
	if _, err := svc.GetPage(ctx, scope.Platform(), 1, 2, false); err != nil {
		t.Fatalf("cached page: %v", err)
	}
	if counting.pages != 1 {
		t.Fatalf("store paged %d times, want 1", counting.pages)
	}

	// A different tuple misses independently.
	result, err = svc.GetPage(ctx, scope.Platform(), 3, 2, false)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(result.Items) != 1 || result.HasMore {
		t.Fatalf("unexpected last page: %+v", result)
	}
	if counting.pages != 2 {
		t.Fatalf("store paged %d times, want 2", counting.pages)
	}
}

func TestGetPageValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetPage(ctx, scope.Platform(), 0, 20, false); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("page 0 = %v, want ErrValidation", err)
	}
	if _, err := svc.GetPage(ctx, scope.Platform(), 1, MaxPageSize+1, false); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("oversized page = %v, want ErrValidation", err)
	}

	// Zero page size falls back to the default instead of failing.
	if _, err := svc.GetPage(ctx, scope.Platform(), 1, 0, false); err != nil {
		t.Fatalf("default page size: %v", err)
	}
}

func TestGetPageForceRefresh(t *testing.T) {
	svc, counting, m := newTestService(t)
	ctx := context.Background()
	seedMessages(t, m, 3, "")

	if _, err := svc.GetPage(ctx, scope.Platform(), 1, 20, false); err != nil {
		t.Fatalf("page: %v", err)
	}
	seedMessages(t, m, 1, "")

	// Without refresh the stale page still serves.
	result, err := svc.GetPage(ctx, scope.Platform(), 1, 20, false)
	if err != nil {
		t.Fatalf("stale page: %v", err)
	}
	if result.TotalCount != 3 {
		t.Fatalf("expected cached total 3, got %d", result.TotalCount)
	}

	result, err = svc.GetPage(ctx, scope.Platform(), 1, 20, true)
	if err != nil {
		t.Fatalf("refreshed page: %v", err)
	}
	if result.TotalCount != 4 {
		t.Fatalf("expected refreshed total 4, got %d", result.TotalCount)
	}
	if counting.pages != 2 {
		t.Fatalf("store paged %d times, want 2", counting.pages)
	}
}

func TestDenormalization(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := context.Background()

	if _, err := m.Messages().Create(ctx, store.Message{Tenant: "acme", PublisherID: "u1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := m.Messages().Create(ctx, store.Message{Tenant: "ghost", PublisherID: "deleted"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := svc.GetPage(ctx, scope.Platform(), 1, 20, false)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("got %d items", len(result.Items))
	}

	byTenant := map[string]View{}
	for _, view := range result.Items {
		byTenant[view.Tenant] = view
	}
	known := byTenant["acme"]
	if known.PublisherName != "Jane Smith" || known.TenantName != "Acme Corp" {
		t.Fatalf("unexpected known names: %+v", known)
	}
	missing := byTenant["ghost"]
	if missing.PublisherName != UnknownName || missing.TenantName != UnknownName {
		t.Fatalf("expected placeholder names, got %+v", missing)
	}
}

func TestTenantWriteInvalidatesTenantAndPlatformPages(t *testing.T) {
	svc, counting, m := newTestService(t)
	ctx := context.Background()
	seedMessages(t, m, 2, "acme")
	seedMessages(t, m, 2, "globex")

	// Warm three scopes' pages.
	for _, caller := range []scope.Caller{scope.Platform(), scope.ForTenant("acme"), scope.ForTenant("globex")} {
		if _, err := svc.GetPage(ctx, caller, 1, 20, false); err != nil {
			t.Fatalf("warm %s: %v", caller.Key(), err)
		}
	}
	if counting.pages != 3 {
		t.Fatalf("warmup paged %d times", counting.pages)
	}

	if _, err := svc.Create(ctx, scope.ForTenant("acme"), store.Message{Title: "new", PublisherID: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Acme and platform refetch; globex still serves from cache.
	if _, err := svc.GetPage(ctx, scope.ForTenant("acme"), 1, 20, false); err != nil {
		t.Fatalf("acme page: %v", err)
	}
	if _, err := svc.GetPage(ctx, scope.Platform(), 1, 20, false); err != nil {
		t.Fatalf("platform page: %v", err)
	}
	if _, err := svc.GetPage(ctx, scope.ForTenant("globex"), 1, 20, false); err != nil {
		t.Fatalf("globex page: %v", err)
	}
	if counting.pages != 5 {
		t.Fatalf("store paged %d times, want 5 (globex cached)", counting.pages)
	}
}

func TestGlobalWriteInvalidatesEverything(t *testing.T) {
	svc, counting, m := newTestService(t)
	ctx := context.Background()
	seedMessages(t, m, 2, "acme")

	for _, caller := range []scope.Caller{scope.Platform(), scope.ForTenant("acme")} {
		if _, err := svc.GetPage(ctx, caller, 1, 20, false); err != nil {
			t.Fatalf("warm %s: %v", caller.Key(), err)
		}
	}

	if _, err := svc.Create(ctx, scope.Platform(), store.Message{Title: "global", PublisherID: "u1"}); err != nil {
		t.Fatalf("create global: %v", err)
	}

	for _, caller := range []scope.Caller{scope.Platform(), scope.ForTenant("acme")} {
		if _, err := svc.GetPage(ctx, caller, 1, 20, false); err != nil {
			t.Fatalf("refetch %s: %v", caller.Key(), err)
		}
	}
	if counting.pages != 4 {
		t.Fatalf("store paged %d times, want 4 (all scopes wiped)", counting.pages)
	}
}

func TestRescopedUpdateInvalidatesOldScope(t *testing.T) {
	svc, counting, m := newTestService(t)
	ctx := context.Background()
	seedMessages(t, m, 1, "acme")

	record, _, err := m.Messages().Page(ctx, scope.Platform(), 0, 1)
	if err != nil || len(record) != 1 {
		t.Fatalf("fetch seed: %v", err)
	}

	if _, err := svc.GetPage(ctx, scope.ForTenant("acme"), 1, 20, false); err != nil {
		t.Fatalf("warm acme: %v", err)
	}
	if _, err := svc.GetPage(ctx, scope.ForTenant("globex"), 1, 20, false); err != nil {
		t.Fatalf("warm globex: %v", err)
	}

	moved := record[0]
	moved.Tenant = "globex"
	if _, err := svc.Update(ctx, scope.Platform(), moved); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := svc.GetPage(ctx, scope.ForTenant("acme"), 1, 20, false); err != nil {
		t.Fatalf("acme after move: %v", err)
	}
	if _, err := svc.GetPage(ctx, scope.ForTenant("globex"), 1, 20, false); err != nil {
		t.Fatalf("globex after move: %v", err)
	}
	if counting.pages != 4 {
		t.Fatalf("store paged %d times, want 4 (both scopes wiped)", counting.pages)
	}
}

package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

func TestHistoryFirstElementIsLiveRow(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, scope.Platform(), "maintenance", "patching")
	require.NoError(t, err)

	entries, err := svc.History(ctx, scope.Platform(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	require.True(t, entries[0].IsCurrent)
	require.Equal(t, store.StatusMaintenance, entries[0].Status)
	require.Equal(t, "patching", entries[0].Message)
	require.Equal(t, "Jane Smith", entries[0].ChangedBy)
	for _, entry := range entries[1:] {
		require.False(t, entry.IsCurrent)
	}
}

func TestHistoryOrderingAndLimit(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, scope.Platform(), "active", "v1")
	require.NoError(t, err)
	_, err = svc.Set(ctx, scope.Platform(), "inactive", "v2")
	require.NoError(t, err)
	_, err = svc.Set(ctx, scope.Platform(), "maintenance", "v3")
	require.NoError(t, err)

	entries, err := svc.History(ctx, scope.Platform(), 3)
	require.NoError(t, err)
	// One live element plus limit-1 audit rows.
	require.Len(t, entries, 3)

	require.True(t, entries[0].IsCurrent)
	require.Equal(t, "v3", entries[0].Message)
	require.Equal(t, "v3", entries[1].Message)
	require.Equal(t, "v2", entries[2].Message)
	for i := 1; i < len(entries); i++ {
		require.False(t, entries[i].ChangedAt.After(entries[i-1].ChangedAt), "entries must be newest first")
	}
}

func TestHistoryDefaultRowOnly(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m, nil)
	ctx := context.Background()

	// No writes yet: history triggers the lazy default and reports just it.
	entries, err := svc.History(ctx, scope.Platform(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsCurrent)
	require.Equal(t, store.StatusActive, entries[0].Status)
	require.Equal(t, "System", entries[0].ChangedBy)
}

func TestHistoryUnresolvableActorPlaceholder(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, scope.Platform(), "active", "v1")
	require.NoError(t, err)

	// The operator's directory record disappears after the write.
	svc.names = staticNames{}

	entries, err := svc.History(ctx, scope.Platform(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, UnknownActor, entries[0].ChangedBy)
	require.Equal(t, UnknownActor, entries[1].ChangedBy)
}

func TestHistoryScopedToCaller(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, scope.Platform(), "inactive", "platform outage")
	require.NoError(t, err)
	_, err = svc.Set(ctx, scope.ForTenant("acme"), "maintenance", "acme window")
	require.NoError(t, err)

	entries, err := svc.History(ctx, scope.ForTenant("acme"), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.NotEqual(t, "platform outage", entry.Message)
	}
}

func TestDiff(t *testing.T) {
	changes := Diff(
		map[string]any{"status": "active", "message": "ok", "same": 1},
		map[string]any{"status": "inactive", "message": "ok", "same": 1, "added": "x"},
	)

	require.Len(t, changes, 2)
	require.Equal(t, "added", changes[0].Field)
	require.Equal(t, "", changes[0].From)
	require.Equal(t, "x", changes[0].To)
	require.Equal(t, "status", changes[1].Field)
	require.Equal(t, "active", changes[1].From)
	require.Equal(t, "inactive", changes[1].To)
}

func TestDiffRendersStructuredValues(t *testing.T) {
	changes := Diff(
		map[string]any{"tags": []string{"a"}},
		map[string]any{"tags": []string{"a", "b"}},
	)
	require.Len(t, changes, 1)
	require.Equal(t, `["a"]`, changes[0].From)
	require.Equal(t, `["a","b"]`, changes[0].To)
}

func TestDiffNoChanges(t *testing.T) {
	changes := Diff(
		map[string]any{"status": "active"},
		map[string]any{"status": "active"},
	)
	require.Empty(t, changes)
}

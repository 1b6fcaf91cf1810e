// Package status owns the per-scope singleton operational status: lazy
// defaults on first read, upsert-by-scope-key writes, and the audit-derived
// change history operators browse. The backing store's conflict resolution on
// the scope key is the only serialization for concurrent writes; this layer
// never does read-modify-write on the value itself.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestline/opsdeck/internal/identity"
	"github.com/crestline/opsdeck/internal/metrics"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

// DefaultMessage is attached to the synthetic row created on first read.
const DefaultMessage = "All systems operational"

// NameLookup resolves actor ids to display names for history rendering. A
// miss is expected (operators get deleted); callers fall back to a
// placeholder.
type NameLookup interface {
	UserName(id string) (string, bool)
}

// Config wires the status service.
type Config struct {
	Statuses store.Statuses
	Audits   store.Audits
	Resolver *identity.Resolver
	Names    NameLookup
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// DefaultMessage overrides the synthetic-row message when non-empty.
	DefaultMessage string
}

// Service coordinates status reads, writes, and history reconstruction.
type Service struct {
	statuses       store.Statuses
	audits         store.Audits
	resolver       *identity.Resolver
	names          NameLookup
	logger         *slog.Logger
	metrics        *metrics.Recorder
	defaultMessage string
}

// New constructs the service. Logger may be nil.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	message := cfg.DefaultMessage
	if message == "" {
		message = DefaultMessage
	}
	return &Service{
		statuses:       cfg.Statuses,
		audits:         cfg.Audits,
		resolver:       cfg.Resolver,
		names:          cfg.Names,
		logger:         logger.With(slog.String("service", "status")),
		metrics:        cfg.Metrics,
		defaultMessage: message,
	}
}

// Get returns the current status for the caller's scope. A tenant without its
// own row inherits the platform-wide row when one exists; no tenant row is
// created on that path, so the tenant keeps tracking platform changes until
// an operator sets a tenant-specific status. Only when neither row exists is
// a default row created, attributed to the system and left out of the audit
// log (it records no transition).
func (s *Service) Get(ctx context.Context, caller scope.Caller) (store.StatusRow, error) {
	key := caller.Key()
	row, err := s.fetch(ctx, key)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.StatusRow{}, err
	}

	if !caller.PlatformWide() {
		platform, perr := s.fetch(ctx, scope.PlatformKey)
		if perr == nil {
			return platform, nil
		}
		if !errors.Is(perr, store.ErrNotFound) {
			return store.StatusRow{}, perr
		}
	}

	return s.createDefault(ctx, key)
}

func (s *Service) fetch(ctx context.Context, key string) (store.StatusRow, error) {
	start := time.Now()
	row, err := s.statuses.Get(ctx, key)
	s.observeStore("get", start, err)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.StatusRow{}, err
		}
		return store.StatusRow{}, fmt.Errorf("status: get %s: %w", key, err)
	}
	return row, nil
}

func (s *Service) createDefault(ctx context.Context, key string) (store.StatusRow, error) {
	start := time.Now()
	_, current, err := s.statuses.Upsert(ctx, store.StatusRow{
		ScopeKey:  key,
		Status:    store.StatusActive,
		Message:   s.defaultMessage,
		UpdatedBy: identity.SystemActor,
	})
	s.observeStore("upsert", start, err)
	if err != nil {
		return store.StatusRow{}, fmt.Errorf("status: initialize %s: %w", key, err)
	}
	s.logger.Info("status row initialized", slog.String("scope_key", key))
	return current, nil
}

// Set upserts the status for the caller's scope and appends an audit entry
// when the committed row actually changed. A retry with identical arguments
// therefore leaves exactly one row and at most one audit entry: the upsert is
// last-write-wins on the scope key and the unchanged row suppresses the
// second entry. The audit write happens only after the upsert commits; a
// failed upsert produces no entry.
func (s *Service) Set(ctx context.Context, caller scope.Caller, rawStatus, message string) (store.StatusRow, error) {
	parsed, err := store.ParseStatus(rawStatus)
	if err != nil {
		return store.StatusRow{}, err
	}

	actor, err := s.resolver.Resolve(ctx)
	if err != nil {
		return store.StatusRow{}, err
	}

	key := caller.Key()
	start := time.Now()
	prev, current, err := s.statuses.Upsert(ctx, store.StatusRow{
		ScopeKey:  key,
		Status:    parsed,
		Message:   message,
		UpdatedBy: actor.ID,
	})
	s.observeStore("upsert", start, err)
	if err != nil {
		return store.StatusRow{}, fmt.Errorf("status: set %s: %w", key, err)
	}

	if prev != nil && prev.Status == current.Status && prev.Message == current.Message {
		return current, nil
	}

	entry := store.AuditEntry{
		ScopeKey:   key,
		NewValues:  rowValues(current),
		Actor:      actor.ID,
		OccurredAt: current.UpdatedAt,
	}
	if prev != nil {
		entry.OldValues = rowValues(*prev)
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		// The mutation committed; the history is merely missing one link.
		s.logger.Error("audit append failed", slog.String("scope_key", key), slog.Any("error", err))
	}

	s.logger.Info("status updated",
		slog.String("scope_key", key),
		slog.String("status", string(current.Status)),
		slog.String("actor", actor.ID))
	return current, nil
}

func rowValues(row store.StatusRow) map[string]any {
	return map[string]any{
		"status":  string(row.Status),
		"message": row.Message,
	}
}

func (s *Service) observeStore(operation string, start time.Time, err error) {
	result := metrics.StoreOK
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		result = metrics.StoreError
	}
	s.metrics.ObserveStore("status", operation, result, time.Since(start))
}

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/crestline/opsdeck/internal/identity"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/store"
)

// DefaultHistoryLimit bounds a history fetch when the caller does not say.
const DefaultHistoryLimit = 10

// UnknownActor renders in place of an operator whose user record no longer
// resolves. History is append-only and must survive user deletion.
const UnknownActor = "Unknown user"

// HistoryEntry is one row of the reconstructed change history.
type HistoryEntry struct {
	Status    store.Status  `json:"status"`
	Message   string        `json:"message,omitempty"`
	ChangedBy string        `json:"changedBy"`
	ChangedAt time.Time     `json:"changedAt"`
	IsCurrent bool          `json:"isCurrent"`
	Changes   []FieldChange `json:"changes,omitempty"`
}

// FieldChange reports one field that differed between adjacent snapshots.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// History reconstructs the newest-first change history for the caller's
// scope. Element 0 is always synthesized from the live row and marked
// IsCurrent: the audit log only records completed transitions, so without it
// a reader cannot tell whether the newest audit entry is still in effect or
// was superseded by an unaudited default-initialization. The remaining
// limit-1 elements come from the audit log for the caller's own scope key.
// Actor lookups that miss degrade to a placeholder rather than failing the
// fetch.
func (s *Service) History(ctx context.Context, caller scope.Caller, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	current, err := s.Get(ctx, caller)
	if err != nil {
		return nil, err
	}

	degraded := false
	name, ok := s.resolveName(current.UpdatedBy)
	if !ok {
		degraded = true
	}
	out := make([]HistoryEntry, 0, limit)
	out = append(out, HistoryEntry{
		Status:    current.Status,
		Message:   current.Message,
		ChangedBy: name,
		ChangedAt: current.UpdatedAt,
		IsCurrent: true,
	})

	if limit > 1 {
		start := time.Now()
		entries, err := s.audits.Recent(ctx, caller.Key(), limit-1)
		s.observeStore("audit_recent", start, err)
		if err != nil {
			return nil, fmt.Errorf("status: history %s: %w", caller.Key(), err)
		}
		for _, entry := range entries {
			name, ok := s.resolveName(entry.Actor)
			if !ok {
				degraded = true
			}
			row := HistoryEntry{
				ChangedBy: name,
				ChangedAt: entry.OccurredAt,
				Changes:   Diff(entry.OldValues, entry.NewValues),
			}
			if raw, ok := entry.NewValues["status"]; ok {
				row.Status = store.Status(render(raw))
			}
			if raw, ok := entry.NewValues["message"]; ok {
				row.Message = render(raw)
			}
			out = append(out, row)
		}
	}

	s.metrics.ObserveHistory(degraded)
	if degraded {
		s.logger.Warn("history rendered with placeholder actors", slog.String("scope_key", caller.Key()))
	}
	return out, nil
}

func (s *Service) resolveName(actorID string) (string, bool) {
	if actorID == "" {
		return UnknownActor, false
	}
	if s.names != nil {
		if name, ok := s.names.UserName(actorID); ok {
			return name, true
		}
	}
	// The system actor never has a directory record; it is not a degradation.
	if actorID == identity.SystemActor {
		return "System", true
	}
	return UnknownActor, false
}

// Diff reports the fields whose values differ between two snapshots, sorted
// by field name. Object- and list-valued fields render as their JSON form so
// audit reports stay readable without type-specific handling.
func Diff(oldValues, newValues map[string]any) []FieldChange {
	fields := make(map[string]struct{}, len(oldValues)+len(newValues))
	for field := range oldValues {
		fields[field] = struct{}{}
	}
	for field := range newValues {
		fields[field] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	var out []FieldChange
	for _, field := range names {
		before, hasBefore := oldValues[field]
		after, hasAfter := newValues[field]
		if hasBefore && hasAfter && reflect.DeepEqual(before, after) {
			continue
		}
		out = append(out, FieldChange{Field: field, From: render(before), To: render(after)})
	}
	return out
}

func render(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if raw, err := json.Marshal(value); err == nil {
			return string(raw)
		}
	}
	return fmt.Sprintf("%v", value)
}

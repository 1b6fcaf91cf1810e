package store

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/opsdeck/internal/scope"
)

// Memory is an in-process Store used by tests and single-node deployments.
// Visibility is evaluated with the same scope predicate the Postgres
// implementation pushes into SQL, which keeps the two paths equivalent.
type Memory struct {
	mu sync.RWMutex

	calls    map[string]CallLog
	leads    map[string]Lead
	messages map[string]Message
	statuses map[string]StatusRow
	audits   []AuditEntry

	// now is swappable so tests control commit timestamps.
	now func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		calls:    make(map[string]CallLog),
		leads:    make(map[string]Lead),
		messages: make(map[string]Message),
		statuses: make(map[string]StatusRow),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the commit timestamp source. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

func (m *Memory) CallLogs() CallLogs { return (*memoryCalls)(m) }
func (m *Memory) Leads() Leads       { return (*memoryLeads)(m) }
func (m *Memory) Messages() Messages { return (*memoryMessages)(m) }
func (m *Memory) Statuses() Statuses { return (*memoryStatuses)(m) }
func (m *Memory) Audits() Audits     { return (*memoryAudits)(m) }

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

type memoryCalls Memory

func (m *memoryCalls) List(_ context.Context, caller scope.Caller) ([]CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CallLog, 0, len(m.calls))
	for _, record := range m.calls {
		if scope.Visible(caller, record.Tenant) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memoryCalls) Search(ctx context.Context, caller scope.Caller, filter CallFilter) ([]CallLog, error) {
	all, err := m.List(ctx, caller)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, record := range all {
		if filter.AgentID != "" && record.AgentID != filter.AgentID {
			continue
		}
		if filter.Disposition != "" && record.Disposition != filter.Disposition {
			continue
		}
		if !filter.Since.IsZero() && record.StartedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && record.StartedAt.After(filter.Until) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (m *memoryCalls) Get(_ context.Context, caller scope.Caller, id string) (CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.calls[id]
	if !ok || !scope.Visible(caller, record.Tenant) {
		return CallLog{}, ErrNotFound
	}
	return record, nil
}

func (m *memoryCalls) Create(_ context.Context, record CallLog) (CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = m.now()
	}
	m.calls[record.ID] = record
	return record, nil
}

func (m *memoryCalls) Update(_ context.Context, record CallLog) (CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[record.ID]; !ok {
		return CallLog{}, ErrNotFound
	}
	m.calls[record.ID] = record
	return record, nil
}

func (m *memoryCalls) Delete(_ context.Context, caller scope.Caller, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.calls[id]
	if !ok || !scope.Visible(caller, record.Tenant) {
		return ErrNotFound
	}
	delete(m.calls, id)
	return nil
}

type memoryLeads Memory

func (m *memoryLeads) List(_ context.Context, caller scope.Caller) ([]Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Lead, 0, len(m.leads))
	for _, record := range m.leads {
		if scope.Visible(caller, record.Tenant) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryLeads) Search(ctx context.Context, caller scope.Caller, filter LeadFilter) ([]Lead, error) {
	all, err := m.List(ctx, caller)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(filter.Query)
	out := all[:0]
	for _, record := range all {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.Source != "" && record.Source != filter.Source {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(record.Name), query) &&
			!strings.Contains(strings.ToLower(record.Phone), query) &&
			!strings.Contains(strings.ToLower(record.Email), query) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (m *memoryLeads) Get(_ context.Context, caller scope.Caller, id string) (Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.leads[id]
	if !ok || !scope.Visible(caller, record.Tenant) {
		return Lead{}, ErrNotFound
	}
	return record, nil
}

func (m *memoryLeads) Create(_ context.Context, record Lead) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = m.now()
	}
	m.leads[record.ID] = record
	return record, nil
}

func (m *memoryLeads) Update(_ context.Context, record Lead) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[record.ID]; !ok {
		return Lead{}, ErrNotFound
	}
	m.leads[record.ID] = record
	return record, nil
}

func (m *memoryLeads) Delete(_ context.Context, caller scope.Caller, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.leads[id]
	if !ok || !scope.Visible(caller, record.Tenant) {
		return ErrNotFound
	}
	delete(m.leads, id)
	return nil
}

type memoryMessages Memory

func (m *memoryMessages) Page(_ context.Context, caller scope.Caller, offset, limit int) ([]Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	visible := make([]Message, 0, len(m.messages))
	for _, record := range m.messages {
		if scope.Visible(caller, record.Tenant) {
			visible = append(visible, record)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].CreatedAt.After(visible[j].CreatedAt) })
	total := len(visible)
	if offset >= total {
		return []Message{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]Message, end-offset)
	copy(page, visible[offset:end])
	return page, total, nil
}

func (m *memoryMessages) Get(_ context.Context, caller scope.Caller, id string) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.messages[id]
	if !ok || !scope.Visible(caller, record.Tenant) {
		return Message{}, ErrNotFound
	}
	return record, nil
}

func (m *memoryMessages) Create(_ context.Context, record Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = m.now()
	}
	m.messages[record.ID] = record
	return record, nil
}

func (m *memoryMessages) Update(_ context.Context, record Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[record.ID]; !ok {
		return Message{}, ErrNotFound
	}
	m.messages[record.ID] = record
	return record, nil
}

func (m *memoryMessages) Delete(_ context.Context, caller scope.Caller, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.messages[id]
	if !ok || !scope.Visible(caller, record.Tenant) {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

type memoryStatuses Memory

func (m *memoryStatuses) Get(_ context.Context, scopeKey string) (StatusRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.statuses[scopeKey]
	if !ok {
		return StatusRow{}, ErrNotFound
	}
	return row, nil
}

func (m *memoryStatuses) Upsert(_ context.Context, row StatusRow) (*StatusRow, StatusRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *StatusRow
	if existing, ok := m.statuses[row.ScopeKey]; ok {
		clone := existing
		prev = &clone
	}
	row.UpdatedAt = m.now()
	m.statuses[row.ScopeKey] = row
	return prev, row, nil
}

type memoryAudits Memory

func (m *memoryAudits) Append(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = m.now()
	}
	entry.OldValues = maps.Clone(entry.OldValues)
	entry.NewValues = maps.Clone(entry.NewValues)
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memoryAudits) Recent(_ context.Context, scopeKey string, limit int) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEntry, 0, limit)
	for _, entry := range m.audits {
		if entry.ScopeKey == scopeKey {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/crestline/opsdeck/internal/scope"
)

// Postgres backs the store contracts with a relational engine through
// database/sql. Scope visibility is pushed down as an OR filter; the singleton
// status upsert rides on the scope_key uniqueness constraint so concurrent
// writers resolve inside the engine rather than in client code.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings the database, then makes sure the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store: %w: postgres dsn required", ErrValidation)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w: %v", ErrPersistence, err)
	}

	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS call_logs (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL DEFAULT '',
	caller_number    TEXT NOT NULL DEFAULT '',
	agent_id         TEXT NOT NULL DEFAULT '',
	disposition      TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	notes            TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'new',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	publisher_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS agent_status (
	scope_key  TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS status_audit (
	id          TEXT PRIMARY KEY,
	scope_key   TEXT NOT NULL,
	old_values  JSONB,
	new_values  JSONB,
	actor       TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS status_audit_scope_idx ON status_audit (scope_key, occurred_at DESC);
`

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w: %v", ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) CallLogs() CallLogs { return &pgCalls{db: p.db} }
func (p *Postgres) Leads() Leads       { return &pgLeads{db: p.db} }
func (p *Postgres) Messages() Messages { return &pgMessages{db: p.db} }
func (p *Postgres) Statuses() Statuses { return &pgStatuses{db: p.db} }
func (p *Postgres) Audits() Audits     { return &pgAudits{db: p.db} }

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w: %v", ErrPersistence, err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// visibilityClause renders the scope predicate as SQL. The predicate must stay
// equivalent to scope.Visible: global rows (empty tenant) for everyone, tenant
// rows only for their tenant or platform-wide callers.
func visibilityClause(caller scope.Caller, argIndex int) (string, []any) {
	if caller.PlatformWide() {
		return "TRUE", nil
	}
	return fmt.Sprintf("(tenant_id = '' OR tenant_id = $%d)", argIndex), []any{caller.Tenant}
}

func pgErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("store: %s: %w: %v", op, ErrPersistence, err)
}

type pgCalls struct{ db *sql.DB }

const callColumns = "id, tenant_id, caller_number, agent_id, disposition, duration_seconds, started_at, notes"

func scanCall(row interface{ Scan(...any) error }) (CallLog, error) {
	var c CallLog
	err := row.Scan(&c.ID, &c.Tenant, &c.CallerNumber, &c.AgentID, &c.Disposition, &c.DurationSeconds, &c.StartedAt, &c.Notes)
	return c, err
}

func (r *pgCalls) List(ctx context.Context, caller scope.Caller) ([]CallLog, error) {
	clause, args := visibilityClause(caller, 1)
	query := fmt.Sprintf("SELECT %s FROM call_logs WHERE %s ORDER BY started_at DESC", callColumns, clause)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgErr("list calls", err)
	}
	defer rows.Close()
	var out []CallLog
	for rows.Next() {
		record, err := scanCall(rows)
		if err != nil {
			return nil, pgErr("scan call", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list calls", err)
	}
	return out, nil
}

func (r *pgCalls) Search(ctx context.Context, caller scope.Caller, filter CallFilter) ([]CallLog, error) {
	clause, args := visibilityClause(caller, 1)
	conditions := []string{clause}
	next := len(args) + 1
	add := func(cond string, value any) {
		conditions = append(conditions, fmt.Sprintf(cond, next))
		args = append(args, value)
		next++
	}
	if filter.AgentID != "" {
		add("agent_id = $%d", filter.AgentID)
	}
	if filter.Disposition != "" {
		add("disposition = $%d", filter.Disposition)
	}
	if !filter.Since.IsZero() {
		add("started_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("started_at <= $%d", filter.Until)
	}
	query := fmt.Sprintf("SELECT %s FROM call_logs WHERE %s ORDER BY started_at DESC", callColumns, strings.Join(conditions, " AND "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgErr("search calls", err)
	}
	defer rows.Close()
	var out []CallLog
	for rows.Next() {
		record, err := scanCall(rows)
		if err != nil {
			return nil, pgErr("scan call", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("search calls", err)
	}
	return out, nil
}

func (r *pgCalls) Get(ctx context.Context, caller scope.Caller, id string) (CallLog, error) {
	clause, args := visibilityClause(caller, 2)
	query := fmt.Sprintf("SELECT %s FROM call_logs WHERE id = $1 AND %s", callColumns, clause)
	record, err := scanCall(r.db.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		return CallLog{}, pgErr("get call", err)
	}
	return record, nil
}

func (r *pgCalls) Create(ctx context.Context, record CallLog) (CallLog, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO call_logs (id, tenant_id, caller_number, agent_id, disposition, duration_seconds, started_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query, record.ID, record.Tenant, record.CallerNumber, record.AgentID,
		record.Disposition, record.DurationSeconds, record.StartedAt, record.Notes); err != nil {
		return CallLog{}, pgErr("create call", err)
	}
	return record, nil
}

func (r *pgCalls) Update(ctx context.Context, record CallLog) (CallLog, error) {
	const query = `UPDATE call_logs SET tenant_id = $2, caller_number = $3, agent_id = $4, disposition = $5,
		duration_seconds = $6, started_at = $7, notes = $8 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, record.ID, record.Tenant, record.CallerNumber, record.AgentID,
		record.Disposition, record.DurationSeconds, record.StartedAt, record.Notes)
	if err != nil {
		return CallLog{}, pgErr("update call", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return CallLog{}, fmt.Errorf("store: update call: %w", ErrNotFound)
	}
	return record, nil
}

func (r *pgCalls) Delete(ctx context.Context, caller scope.Caller, id string) error {
	clause, args := visibilityClause(caller, 2)
	query := fmt.Sprintf("DELETE FROM call_logs WHERE id = $1 AND %s", clause)
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return pgErr("delete call", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("store: delete call: %w", ErrNotFound)
	}
	return nil
}

type pgLeads struct{ db *sql.DB }

const leadColumns = "id, tenant_id, name, phone, email, source, status, created_at"

func scanLead(row interface{ Scan(...any) error }) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.Tenant, &l.Name, &l.Phone, &l.Email, &l.Source, &l.Status, &l.CreatedAt)
	return l, err
}

func (r *pgLeads) List(ctx context.Context, caller scope.Caller) ([]Lead, error) {
	clause, args := visibilityClause(caller, 1)
	query := fmt.Sprintf("SELECT %s FROM leads WHERE %s ORDER BY created_at DESC", leadColumns, clause)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgErr("list leads", err)
	}
	defer rows.Close()
	var out []Lead
	for rows.Next() {
		record, err := scanLead(rows)
		if err != nil {
			return nil, pgErr("scan lead", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list leads", err)
	}
	return out, nil
}

func (r *pgLeads) Search(ctx context.Context, caller scope.Caller, filter LeadFilter) ([]Lead, error) {
	clause, args := visibilityClause(caller, 1)
	conditions := []string{clause}
	next := len(args) + 1
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", next))
		args = append(args, filter.Status)
		next++
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", next))
		args = append(args, filter.Source)
		next++
	}
	if filter.Query != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR phone ILIKE $%d OR email ILIKE $%d)", next, next, next))
		args = append(args, "%"+filter.Query+"%")
		next++
	}
	query := fmt.Sprintf("SELECT %s FROM leads WHERE %s ORDER BY created_at DESC", leadColumns, strings.Join(conditions, " AND "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgErr("search leads", err)
	}
	defer rows.Close()
	var out []Lead
	for rows.Next() {
		record, err := scanLead(rows)
		if err != nil {
			return nil, pgErr("scan lead", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("search leads", err)
	}
	return out, nil
}

func (r *pgLeads) Get(ctx context.Context, caller scope.Caller, id string) (Lead, error) {
	clause, args := visibilityClause(caller, 2)
	query := fmt.Sprintf("SELECT %s FROM leads WHERE id = $1 AND %s", leadColumns, clause)
	record, err := scanLead(r.db.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		return Lead{}, pgErr("get lead", err)
	}
	return record, nil
}

func (r *pgLeads) Create(ctx context.Context, record Lead) (Lead, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO leads (id, tenant_id, name, phone, email, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query, record.ID, record.Tenant, record.Name, record.Phone,
		record.Email, record.Source, record.Status, record.CreatedAt); err != nil {
		return Lead{}, pgErr("create lead", err)
	}
	return record, nil
}

func (r *pgLeads) Update(ctx context.Context, record Lead) (Lead, error) {
	const query = `UPDATE leads SET tenant_id = $2, name = $3, phone = $4, email = $5, source = $6,
		status = $7 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, record.ID, record.Tenant, record.Name, record.Phone,
		record.Email, record.Source, record.Status)
	if err != nil {
		return Lead{}, pgErr("update lead", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Lead{}, fmt.Errorf("store: update lead: %w", ErrNotFound)
	}
	return record, nil
}

func (r *pgLeads) Delete(ctx context.Context, caller scope.Caller, id string) error {
	clause, args := visibilityClause(caller, 2)
	query := fmt.Sprintf("DELETE FROM leads WHERE id = $1 AND %s", clause)
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return pgErr("delete lead", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("store: delete lead: %w", ErrNotFound)
	}
	return nil
}

type pgMessages struct{ db *sql.DB }

const messageColumns = "id, tenant_id, title, body, publisher_id, created_at"

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.Tenant, &msg.Title, &msg.Body, &msg.PublisherID, &msg.CreatedAt)
	return msg, err
}

// Page fetches one window plus the total visible count in a single query via
// a window function, so pagination stays a single round trip.
func (r *pgMessages) Page(ctx context.Context, caller scope.Caller, offset, limit int) ([]Message, int, error) {
	clause, args := visibilityClause(caller, 1)
	next := len(args) + 1
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() AS total FROM messages WHERE %s
		ORDER BY created_at DESC OFFSET $%d LIMIT $%d`, messageColumns, clause, next, next+1)
	args = append(args, offset, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, pgErr("page messages", err)
	}
	defer rows.Close()
	var (
		out   []Message
		total int
	)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Tenant, &msg.Title, &msg.Body, &msg.PublisherID, &msg.CreatedAt, &total); err != nil {
			return nil, 0, pgErr("scan message", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, pgErr("page messages", err)
	}
	if len(out) == 0 {
		// The window total vanishes with an empty page; one cheap count covers it.
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM messages WHERE %s", clause)
		if err := r.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
			return nil, 0, pgErr("count messages", err)
		}
	}
	return out, total, nil
}

func (r *pgMessages) Get(ctx context.Context, caller scope.Caller, id string) (Message, error) {
	clause, args := visibilityClause(caller, 2)
	query := fmt.Sprintf("SELECT %s FROM messages WHERE id = $1 AND %s", messageColumns, clause)
	record, err := scanMessage(r.db.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		return Message{}, pgErr("get message", err)
	}
	return record, nil
}

func (r *pgMessages) Create(ctx context.Context, record Message) (Message, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO messages (id, tenant_id, title, body, publisher_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, record.ID, record.Tenant, record.Title, record.Body,
		record.PublisherID, record.CreatedAt); err != nil {
		return Message{}, pgErr("create message", err)
	}
	return record, nil
}

func (r *pgMessages) Update(ctx context.Context, record Message) (Message, error) {
	const query = `UPDATE messages SET tenant_id = $2, title = $3, body = $4, publisher_id = $5 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, record.ID, record.Tenant, record.Title, record.Body, record.PublisherID)
	if err != nil {
		return Message{}, pgErr("update message", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Message{}, fmt.Errorf("store: update message: %w", ErrNotFound)
	}
	return record, nil
}

func (r *pgMessages) Delete(ctx context.Context, caller scope.Caller, id string) error {
	clause, args := visibilityClause(caller, 2)
	query := fmt.Sprintf("DELETE FROM messages WHERE id = $1 AND %s", clause)
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return pgErr("delete message", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("store: delete message: %w", ErrNotFound)
	}
	return nil
}

type pgStatuses struct{ db *sql.DB }

func (r *pgStatuses) Get(ctx context.Context, scopeKey string) (StatusRow, error) {
	const query = `SELECT scope_key, status, message, updated_by, updated_at FROM agent_status WHERE scope_key = $1`
	var row StatusRow
	err := r.db.QueryRowContext(ctx, query, scopeKey).Scan(&row.ScopeKey, &row.Status, &row.Message, &row.UpdatedBy, &row.UpdatedAt)
	if err != nil {
		return StatusRow{}, pgErr("get status", err)
	}
	return row, nil
}

// Upsert rides on the scope_key primary key: the engine resolves concurrent
// writers atomically and now() stamps commit order, so no read-modify-write
// race exists. The previous row is captured in the same statement for the
// audit trail.
func (r *pgStatuses) Upsert(ctx context.Context, row StatusRow) (*StatusRow, StatusRow, error) {
	const query = `
WITH prev AS (
	SELECT status, message, updated_by, updated_at FROM agent_status WHERE scope_key = $1
), upserted AS (
	INSERT INTO agent_status (scope_key, status, message, updated_by, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (scope_key) DO UPDATE
		SET status = EXCLUDED.status, message = EXCLUDED.message,
		    updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	RETURNING scope_key, status, message, updated_by, updated_at
)
SELECT u.status, u.message, u.updated_by, u.updated_at,
       p.status, p.message, p.updated_by, p.updated_at
FROM upserted u LEFT JOIN prev p ON TRUE`
	var (
		current                                StatusRow
		prevStatus, prevMessage, prevUpdatedBy sql.NullString
		prevUpdatedAt                          sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, row.ScopeKey, row.Status, row.Message, row.UpdatedBy).Scan(
		&current.Status, &current.Message, &current.UpdatedBy, &current.UpdatedAt,
		&prevStatus, &prevMessage, &prevUpdatedBy, &prevUpdatedAt,
	)
	if err != nil {
		return nil, StatusRow{}, pgErr("upsert status", err)
	}
	current.ScopeKey = row.ScopeKey
	if !prevStatus.Valid {
		return nil, current, nil
	}
	prev := StatusRow{
		ScopeKey:  row.ScopeKey,
		Status:    Status(prevStatus.String),
		Message:   prevMessage.String,
		UpdatedBy: prevUpdatedBy.String,
		UpdatedAt: prevUpdatedAt.Time,
	}
	return &prev, current, nil
}

type pgAudits struct{ db *sql.DB }

func (r *pgAudits) Append(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("store: audit old values: %w: %v", ErrValidation, err)
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("store: audit new values: %w: %v", ErrValidation, err)
	}
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	const query = `INSERT INTO status_audit (id, scope_key, old_values, new_values, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.ScopeKey, oldValues, newValues, entry.Actor, occurredAt); err != nil {
		return pgErr("append audit", err)
	}
	return nil
}

func (r *pgAudits) Recent(ctx context.Context, scopeKey string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, scope_key, old_values, new_values, actor, occurred_at
		FROM status_audit WHERE scope_key = $1 ORDER BY occurred_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, scopeKey, limit)
	if err != nil {
		return nil, pgErr("recent audit", err)
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			entry          AuditEntry
			oldRaw, newRaw []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ScopeKey, &oldRaw, &newRaw, &entry.Actor, &entry.OccurredAt); err != nil {
			return nil, pgErr("scan audit", err)
		}
		if len(oldRaw) > 0 {
			if err := json.Unmarshal(oldRaw, &entry.OldValues); err != nil {
				return nil, fmt.Errorf("store: audit old values: %w: %v", ErrPersistence, err)
			}
		}
		if len(newRaw) > 0 {
			if err := json.Unmarshal(newRaw, &entry.NewValues); err != nil {
				return nil, fmt.Errorf("store: audit new values: %w: %v", ErrPersistence, err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("recent audit", err)
	}
	return out, nil
}

func marshalValues(values map[string]any) (any, error) {
	if values == nil {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

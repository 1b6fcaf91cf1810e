package store

import (
	"fmt"
	"strings"
	"time"
)

// CallLog is one handled call. Tenant is empty for platform-global records.
type CallLog struct {
	ID              string    `json:"id"`
	Tenant          string    `json:"tenant,omitempty"`
	CallerNumber    string    `json:"callerNumber"`
	AgentID         string    `json:"agentId"`
	Disposition     string    `json:"disposition"`
	DurationSeconds int       `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
	Notes           string    `json:"notes,omitempty"`
}

// CallFilter narrows a call-log search. Zero fields are ignored.
type CallFilter struct {
	AgentID     string
	Disposition string
	Since       time.Time
	Until       time.Time
}

// Empty reports whether the filter matches everything, which lets services
// route the request through the unfiltered cached path.
func (f CallFilter) Empty() bool {
	return f.AgentID == "" && f.Disposition == "" && f.Since.IsZero() && f.Until.IsZero()
}

// Lead is a sales lead captured from an inbound contact.
type Lead struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant,omitempty"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Source    string    `json:"source,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeadFilter narrows a lead search. Zero fields are ignored.
type LeadFilter struct {
	Status string
	Source string
	// Query matches name, phone, or email substrings.
	Query string
}

// Empty reports whether the filter matches everything.
func (f LeadFilter) Empty() bool {
	return f.Status == "" && f.Source == "" && f.Query == ""
}

// Message is a broadcast announcement shown on the dashboard. Tenant is empty
// for platform-global messages visible to every caller.
type Message struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant,omitempty"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublisherID string    `json:"publisherId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Status enumerates the operational states a scope can report.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
)

// ParseStatus validates an externally supplied status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	case StatusMaintenance:
		return StatusMaintenance, nil
	default:
		return "", fmt.Errorf("store: %w: unknown status %q", ErrValidation, raw)
	}
}

// StatusRow is the current singleton operational status for one scope key. At
// most one row exists per key; the upsert conflict target enforces that.
type StatusRow struct {
	ScopeKey  string    `json:"scopeKey"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuditEntry is one immutable record of a committed status transition.
// OldValues is nil when the row was first created.
type AuditEntry struct {
	ID         string         `json:"id"`
	ScopeKey   string         `json:"scopeKey"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	Actor      string         `json:"actor"`
	OccurredAt time.Time      `json:"occurredAt"`
}

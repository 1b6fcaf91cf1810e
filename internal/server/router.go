package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crestline/opsdeck/internal/cache"
	"github.com/crestline/opsdeck/internal/calllog"
	"github.com/crestline/opsdeck/internal/directory"
	"github.com/crestline/opsdeck/internal/identity"
	"github.com/crestline/opsdeck/internal/leads"
	"github.com/crestline/opsdeck/internal/messaging"
	"github.com/crestline/opsdeck/internal/scope"
	"github.com/crestline/opsdeck/internal/status"
	"github.com/crestline/opsdeck/internal/store"
)

// ScopeHeader names the header carrying the caller's scope key: "platform"
// for administrators or a tenant id.
const ScopeHeader = "X-Opsdeck-Scope"

// RouterConfig wires the HTTP facade to the coordination services.
type RouterConfig struct {
	Calls          *calllog.Service
	Leads          *leads.Service
	Messages       *messaging.Service
	Status         *status.Service
	Store          store.Store
	Cache          cache.Backend
	Directory      *directory.Directory
	IdentityHeader string
	Logger         *slog.Logger
}

// Router dispatches the dashboard API. Routing is hand-rolled so the service
// layer owns no HTTP concerns and the path grammar stays in one place.
type Router struct {
	cfg    RouterConfig
	logger *slog.Logger
}

// NewRouter builds the API handler.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, logger: logger.With(slog.String("service", "router"))}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	if path == "healthz" {
		rt.serveHealth(w, r)
		return
	}
	if !strings.HasPrefix(path, "api/") {
		http.NotFound(w, r)
		return
	}
	resource, rest, _ := strings.Cut(strings.TrimPrefix(path, "api/"), "/")

	caller, err := rt.callerScope(r)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if rt.cfg.IdentityHeader != "" {
		if actorID := strings.TrimSpace(r.Header.Get(rt.cfg.IdentityHeader)); actorID != "" {
			r = r.WithContext(identity.WithActor(r.Context(), identity.Actor{ID: actorID}))
		}
	}

	switch resource {
	case "calls":
		rt.serveCalls(w, r, caller, rest)
	case "leads":
		rt.serveLeads(w, r, caller, rest)
	case "messages":
		rt.serveMessages(w, r, caller, rest)
	case "status":
		rt.serveStatus(w, r, caller, rest)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) callerScope(r *http.Request) (scope.Caller, error) {
	raw := strings.TrimSpace(r.Header.Get(ScopeHeader))
	if raw == "" {
		return scope.Caller{}, fmt.Errorf("server: %w: missing %s header", store.ErrValidation, ScopeHeader)
	}
	caller, err := scope.ParseKey(raw)
	if err != nil {
		return scope.Caller{}, fmt.Errorf("server: %w: %v", store.ErrValidation, err)
	}
	return caller, nil
}

func (rt *Router) serveCalls(w http.ResponseWriter, r *http.Request, caller scope.Caller, id string) {
	ctx := r.Context()
	switch {
	case id == "" && r.Method == http.MethodGet:
		filter, err := callFilterFromQuery(r)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		items, err := rt.cfg.Calls.Search(ctx, caller, filter)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, items)
	case id == "" && r.Method == http.MethodPost:
		var record store.CallLog
		if err := decodeBody(r, &record); err != nil {
			rt.writeError(w, err)
			return
		}
		created, err := rt.cfg.Calls.Create(ctx, caller, record)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, created)
	case id != "" && r.Method == http.MethodGet:
		record, err := rt.cfg.Calls.Get(ctx, caller, id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, record)
	case id != "" && r.Method == http.MethodPut:
		var record store.CallLog
		if err := decodeBody(r, &record); err != nil {
			rt.writeError(w, err)
			return
		}
		record.ID = id
		updated, err := rt.cfg.Calls.Update(ctx, caller, record)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, updated)
	case id != "" && r.Method == http.MethodDelete:
		if err := rt.cfg.Calls.Delete(ctx, caller, id); err != nil {
			rt.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		rt.methodNotAllowed(w)
	}
}

func (rt *Router) serveLeads(w http.ResponseWriter, r *http.Request, caller scope.Caller, id string) {
	ctx := r.Context()
	switch {
	case id == "" && r.Method == http.MethodGet:
		filter := store.LeadFilter{
			Status: r.URL.Query().Get("status"),
			Source: r.URL.Query().Get("source"),
			Query:  r.URL.Query().Get("q"),
		}
		items, err := rt.cfg.Leads.Search(ctx, caller, filter)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, items)
	case id == "" && r.Method == http.MethodPost:
		var record store.Lead
		if err := decodeBody(r, &record); err != nil {
			rt.writeError(w, err)
			return
		}
		created, err := rt.cfg.Leads.Create(ctx, caller, record)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, created)
	case id != "" && r.Method == http.MethodGet:
		record, err := rt.cfg.Leads.Get(ctx, caller, id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, record)
	case id != "" && r.Method == http.MethodPut:
		var record store.Lead
		if err := decodeBody(r, &record); err != nil {
			rt.writeError(w, err)
			return
		}
		record.ID = id
		updated, err := rt.cfg.Leads.Update(ctx, caller, record)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, updated)
	case id != "" && r.Method == http.MethodDelete:
		if err := rt.cfg.Leads.Delete(ctx, caller, id); err != nil {
			rt.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		rt.methodNotAllowed(w)
	}
}

func (rt *Router) serveMessages(w http.ResponseWriter, r *http.Request, caller scope.Caller, id string) {
	ctx := r.Context()
	switch {
	case id == "" && r.Method == http.MethodGet:
		query := r.URL.Query()
		page := intParam(query.Get("page"), 1)
		pageSize := intParam(query.Get("pageSize"), messaging.DefaultPageSize)
		refresh := query.Get("refresh") == "true"
		result, err := rt.cfg.Messages.GetPage(ctx, caller, page, pageSize, refresh)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, result)
	case id == "" && r.Method == http.MethodPost:
		var record store.Message
		if err := decodeBody(r, &record); err != nil {
			rt.writeError(w, err)
			return
		}
		created, err := rt.cfg.Messages.Create(ctx, caller, record)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, created)
	case id != "" && r.Method == http.MethodGet:
		record, err := rt.cfg.Messages.Get(ctx, caller, id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, record)
	case id != "" && r.Method == http.MethodPut:
		var record store.Message
		if err := decodeBody(r, &record); err != nil {
			rt.writeError(w, err)
			return
		}
		record.ID = id
		updated, err := rt.cfg.Messages.Update(ctx, caller, record)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, updated)
	case id != "" && r.Method == http.MethodDelete:
		if err := rt.cfg.Messages.Delete(ctx, caller, id); err != nil {
			rt.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		rt.methodNotAllowed(w)
	}
}

func (rt *Router) serveStatus(w http.ResponseWriter, r *http.Request, caller scope.Caller, rest string) {
	ctx := r.Context()
	switch {
	case rest == "" && r.Method == http.MethodGet:
		row, err := rt.cfg.Status.Get(ctx, caller)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, row)
	case rest == "" && r.Method == http.MethodPut:
		var body struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			rt.writeError(w, err)
			return
		}
		row, err := rt.cfg.Status.Set(ctx, caller, body.Status, body.Message)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, row)
	case rest == "history" && r.Method == http.MethodGet:
		limit := intParam(r.URL.Query().Get("limit"), status.DefaultHistoryLimit)
		entries, err := rt.cfg.Status.History(ctx, caller, limit)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, entries)
	default:
		rt.methodNotAllowed(w)
	}
}

type healthReport struct {
	Status           string   `json:"status"`
	CacheEntries     int64    `json:"cacheEntries"`
	DirectorySources []string `json:"directorySources,omitempty"`
}

func (rt *Router) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rt.methodNotAllowed(w)
		return
	}
	report := healthReport{Status: "ok"}
	if rt.cfg.Store != nil {
		if err := rt.cfg.Store.Ping(r.Context()); err != nil {
			rt.logger.Error("health store ping failed", slog.Any("error", err))
			report.Status = "degraded"
		}
	}
	if rt.cfg.Cache != nil {
		if size, err := rt.cfg.Cache.Size(r.Context()); err == nil {
			report.CacheEntries = size
		}
	}
	if rt.cfg.Directory != nil {
		report.DirectorySources = rt.cfg.Directory.Current().Sources
	}
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	rt.writeJSON(w, code, report)
}

func callFilterFromQuery(r *http.Request) (store.CallFilter, error) {
	query := r.URL.Query()
	filter := store.CallFilter{
		AgentID:     query.Get("agentId"),
		Disposition: query.Get("disposition"),
	}
	for name, target := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.CallFilter{}, fmt.Errorf("server: %w: %s must be RFC3339", store.ErrValidation, name)
		}
		*target = parsed
	}
	return filter, nil
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("server: %w: malformed request body: %v", store.ErrValidation, err)
	}
	return nil
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (rt *Router) writeJSON(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		rt.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (rt *Router) methodNotAllowed(w http.ResponseWriter) {
	rt.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrAuthenticationRequired):
		code = http.StatusUnauthorized
	case errors.Is(err, store.ErrValidation), errors.Is(err, scope.ErrInvalidKey):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrPersistence):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		rt.logger.Error("request failed", slog.Any("error", err))
	}
	rt.writeJSON(w, code, map[string]string{"error": err.Error()})
}

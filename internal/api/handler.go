package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/heron/internal/analysis"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/store"
	"github.com/opensource-finance/heron/internal/velocity"
	"github.com/opensource-finance/heron/internal/worker"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultVelocity  = time.Hour
)

// Store is the read side of the transaction store the API serves.
type Store interface {
	domain.RecordReader
	Stats() store.Stats
}

// Analyzer runs and remembers detection passes.
type Analyzer interface {
	RunPass(ctx context.Context) (*domain.PassReport, error)
	Latest() *domain.PassReport
	SuiteErrors() map[string]string
}

// WorkerStats reports background worker state.
type WorkerStats interface {
	GetStats() worker.Stats
}

// Deps holds the components behind the API. Only Store and Analyzer are
// required; the rest degrade their endpoints when nil.
type Deps struct {
	Store    Store
	Analyzer Analyzer
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Worker   WorkerStats
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := make(map[string]string)

	ping := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.deps.Repo != nil {
		ping("repository", h.deps.Repo.Ping)
	}
	if h.deps.Cache != nil {
		ping("cache", h.deps.Cache.Ping)
	}
	if h.deps.Bus != nil {
		ping("bus", h.deps.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.deps.Version,
		"checks":  checks,
	})
}

// Ready reports whether the store and analyzer are wired.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil || h.deps.Analyzer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	Version     string              `json:"version"`
	Store       store.Stats         `json:"store"`
	Worker      *worker.Stats       `json:"worker,omitempty"`
	LatestPass  *domain.PassSummary `json:"latestPass,omitempty"`
	SuiteErrors map[string]string   `json:"suiteErrors,omitempty"`
}

// Stats returns store, worker and latest pass statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Version: h.deps.Version}
	if h.deps.Store != nil {
		resp.Store = h.deps.Store.Stats()
	}
	if h.deps.Worker != nil {
		ws := h.deps.Worker.GetStats()
		resp.Worker = &ws
	}
	if h.deps.Analyzer != nil {
		if latest := h.deps.Analyzer.Latest(); latest != nil {
			summary := latest.Summary()
			resp.LatestPass = &summary
		}
		if errs := h.deps.Analyzer.SuiteErrors(); len(errs) > 0 {
			resp.SuiteErrors = errs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunPass runs a detection pass synchronously and returns the full report.
func (h *Handler) RunPass(w http.ResponseWriter, r *http.Request) {
	if h.deps.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not available")
		return
	}

	report, err := h.deps.Analyzer.RunPass(r.Context())
	if err != nil {
		slog.Error("detection pass failed", "error", err, "trace_id", GetTraceID(r.Context()))
		if errors.Is(err, analysis.ErrPassAborted) {
			writeError(w, http.StatusServiceUnavailable, "detection pass aborted")
			return
		}
		writeError(w, http.StatusInternalServerError, "detection pass failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// LatestPass returns the most recent in-memory report with its findings.
func (h *Handler) LatestPass(w http.ResponseWriter, r *http.Request) {
	if h.deps.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not available")
		return
	}
	latest := h.deps.Analyzer.Latest()
	if latest == nil {
		writeError(w, http.StatusNotFound, "no completed pass")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// ListPasses returns stored pass summaries, newest first.
func (h *Handler) ListPasses(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	passes, err := h.deps.Repo.ListPasses(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list passes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list passes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"passes": passes,
		"count":  len(passes),
	})
}

// GetPass retrieves a pass summary by ID. Without a repository only the
// latest pass can be found.
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	passID := chi.URLParam(r, "id")

	if h.deps.Repo == nil {
		if h.deps.Analyzer != nil {
			if latest := h.deps.Analyzer.Latest(); latest != nil && latest.ID == passID {
				writeJSON(w, http.StatusOK, latest.Summary())
				return
			}
		}
		writeError(w, http.StatusNotFound, "pass not found")
		return
	}

	summary, err := h.deps.Repo.GetPass(r.Context(), passID)
	if err != nil {
		h.repoError(w, err, "pass", passID)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListFindings returns the stored findings of one pass in export order.
func (h *Handler) ListFindings(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	passID := chi.URLParam(r, "id")

	if _, err := h.deps.Repo.GetPass(r.Context(), passID); err != nil {
		h.repoError(w, err, "pass", passID)
		return
	}
	findings, err := h.deps.Repo.ListFindings(r.Context(), passID)
	if err != nil {
		h.repoError(w, err, "findings", passID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"passId":   passID,
		"findings": findings,
		"count":    len(findings),
	})
}

// AddressFindings returns stored findings about one address, newest first.
func (h *Handler) AddressFindings(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	address := domain.NormalizeAddress(chi.URLParam(r, "address"))

	findings, err := h.deps.Repo.ListFindingsByAddress(r.Context(), address, limit)
	if err != nil {
		h.repoError(w, err, "findings", address)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  address,
		"findings": findings,
		"count":    len(findings),
	})
}

// AddressTransactions returns the stored records of an address in one role.
func (h *Handler) AddressTransactions(w http.ResponseWriter, r *http.Request) {
	address, role, ok := h.addressRole(w, r)
	if !ok {
		return
	}

	recs := velocity.Collect(h.deps.Store.RecordsFor(address, role))
	writeJSON(w, http.StatusOK, map[string]any{
		"address":      address,
		"role":         role.String(),
		"transactions": recs,
		"count":        len(recs),
	})
}

// VelocityResponse is the response for GET /addresses/{address}/velocity.
type VelocityResponse struct {
	Address string        `json:"address"`
	Role    string        `json:"role"`
	Window  domain.Window `json:"window"`
	Count   int           `json:"count"`
	Total   int           `json:"total"`
}

// AddressVelocity counts the records of an address inside the window of the
// given width ending at "at" (default now).
func (h *Handler) AddressVelocity(w http.ResponseWriter, r *http.Request) {
	address, role, ok := h.addressRole(w, r)
	if !ok {
		return
	}

	width := defaultVelocity
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		width = d
	}
	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
		at = t
	}

	recs := velocity.Collect(h.deps.Store.RecordsFor(address, role))
	win := domain.NewWindow(at.Add(-width), width)
	writeJSON(w, http.StatusOK, VelocityResponse{
		Address: address,
		Role:    role.String(),
		Window:  win,
		Count:   velocity.CountIn(recs, win),
		Total:   len(recs),
	})
}

func (h *Handler) addressRole(w http.ResponseWriter, r *http.Request) (string, domain.Role, bool) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not available")
		return "", 0, false
	}
	role, err := domain.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", 0, false
	}
	return domain.NormalizeAddress(chi.URLParam(r, "address")), role, true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

func (h *Handler) repoError(w http.ResponseWriter, err error, what, id string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("repository lookup failed", "what", what, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

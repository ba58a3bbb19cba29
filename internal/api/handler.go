// Package api is the local admin and ingestion surface. It binds to
// loopback only: the instrumented app submits events here, and operators
// inspect budget and audit state. Nothing on this surface ever returns
// per-event release decisions.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"veil/internal/audit"
	"veil/internal/budget"
	"veil/internal/pipeline"
	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/httputil"
)

// Submitter is the pipeline surface the ingestion endpoint uses.
type Submitter interface {
	Submit(ctx context.Context, ev domain.RawEvent) error
	State() pipeline.State
}

// BudgetService is the ledger surface the admin endpoints use.
type BudgetService interface {
	Status() budget.Status
	Reset(ctx context.Context, ceiling float64) error
}

// Handler wires the local endpoints to the pipeline collaborators.
type Handler struct {
	pipeline Submitter
	budget   BudgetService
	audit    *audit.Publisher
	logger   *slog.Logger
}

// New constructs the handler with its dependencies.
func New(p Submitter, b BudgetService, a *audit.Publisher, logger *slog.Logger) *Handler {
	return &Handler{pipeline: p, budget: b, audit: a, logger: logger}
}

// Register mounts all endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/events", h.HandleSubmit)
	r.Get("/v1/budget", h.HandleBudgetStatus)
	r.Post("/v1/budget/reset", h.HandleBudgetReset)
	r.Get("/v1/audit/recent", h.HandleAuditRecent)
	r.Get("/healthz", h.HandleHealth)
}

type submitRequest struct {
	Type       string                       `json:"type"`
	Fields     map[string]domain.FieldValue `json:"fields"`
	Attributes attributesRequest            `json:"attributes"`
}

type attributesRequest struct {
	Age            int    `json:"age"`
	Location       string `json:"location"`
	Platform       string `json:"platform"`
	AppVersion     string `json:"app_version"`
	UserAgent      string `json:"user_agent"`
	ContributorKey string `json:"contributor_key"`
}

// HandleSubmit handles POST /v1/events. Acceptance means only that the
// event entered the queue; what becomes of it is deliberately not
// observable here.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode event"))
		return
	}

	eventType, err := domain.ParseEventType(req.Type)
	if err != nil {
		if h.audit != nil {
			_ = h.audit.Emit(ctx, audit.Entry{
				Category: audit.CategoryRejection,
				Action:   audit.ActionEventRejected,
				Detail:   map[string]string{"reason": "event_type"},
			})
		}
		httputil.WriteError(w, err)
		return
	}

	ev := domain.RawEvent{
		ID:   uuid.New(),
		Type: eventType,
		Fields: req.Fields,
		Attributes: domain.ContributorAttributes{
			Age:            req.Attributes.Age,
			Location:       req.Attributes.Location,
			Platform:       req.Attributes.Platform,
			AppVersion:     req.Attributes.AppVersion,
			UserAgent:      req.Attributes.UserAgent,
			ContributorKey: req.Attributes.ContributorKey,
		},
		RaisedAt: time.Now(),
	}

	if err := h.pipeline.Submit(ctx, ev); err != nil {
		h.logger.WarnContext(ctx, "event submission refused", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleBudgetStatus handles GET /v1/budget.
func (h *Handler) HandleBudgetStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.budget.Status())
}

type resetRequest struct {
	Ceiling float64 `json:"ceiling"`
}

// HandleBudgetReset handles POST /v1/budget/reset.
func (h *Handler) HandleBudgetReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode reset"))
		return
	}
	if err := h.budget.Reset(ctx, req.Ceiling); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.WarnContext(ctx, "budget reset via admin surface", "ceiling", req.Ceiling)
	httputil.WriteJSON(w, http.StatusOK, h.budget.Status())
}

// HandleAuditRecent handles GET /v1/audit/recent.
func (h *Handler) HandleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleHealth handles GET /healthz. A disabled pipeline reports unhealthy
// so supervisors notice, without exposing why to the network.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	state := h.pipeline.State()
	status := http.StatusOK
	if state != pipeline.StateActive {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]string{"state": string(state)})
}

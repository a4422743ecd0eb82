/*
handlers.go - HTTP API handlers for the recurring-entry engine

PURPOSE:
  Exposes series.Service via REST API. Handles HTTP request/response, JSON
  serialization and request validation, and delegates to the service.

ENDPOINTS:
  Templates:
    POST   /api/templates                 Create a recurring series
    GET    /api/templates                 List templates with next/remaining
    GET    /api/templates/{id}            Template with next/remaining
    PUT    /api/templates/{id}            Edit going forward from today
    POST   /api/templates/{id}/stop       Stop: drop future instances
    DELETE /api/templates/{id}            Delete all unedited instances
    GET    /api/templates/{id}/instances  Stored instances, ascending

  Entries:
    GET    /api/entries?from=&to=         Entries in a date range
    POST   /api/entries                   Record a one-off entry
    PUT    /api/entries/{id}              Edit (a recurring instance becomes user-owned)
    DELETE /api/entries/{id}              Delete one entry

  Aggregates:
    GET    /api/upcoming?currency=        Future recurring totals, converted

IDENTITY:
  The acting user comes from the X-User-ID header (see middleware.go).
  Records of another user are reported as not found.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing X-User-ID
  - 404: Template or entry not found, or not yours
  - 409: Another operation holds the template (retry), or a client-chosen
         template id is taken by another series
  - 500: Store failures, including partially written series. The cause is
         logged, never returned.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - series: The service behind every handler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/expense-ledger/calendar"
	"github.com/warp/expense-ledger/config"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/series"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *series.Service
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewHandler creates a handler over svc.
func NewHandler(svc *series.Service, log logrus.FieldLogger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Service: svc, validate: v, log: log}
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// CreateTemplate materializes a new series.
// POST /api/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userFrom(ctx)

	var req CreateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	tpl, err := req.toTemplate(user)
	if err != nil {
		h.writeServiceError(w, r, "Invalid template", err)
		return
	}

	id, err := h.Service.Create(ctx, tpl)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create recurring entries", err)
		return
	}

	sum, err := h.Service.Describe(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load template", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateDTO(sum))
}

// ListTemplates returns the user's templates with their aggregates.
// GET /api/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	sums, err := h.Service.Summaries(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list templates", err)
		return
	}

	dtos := make([]TemplateDTO, len(sums))
	for i, s := range sums {
		dtos[i] = toTemplateDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": dtos})
}

// GetTemplate returns one template with its aggregates.
// GET /api/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.TemplateID(chi.URLParam(r, "id"))

	sum, err := h.Service.Describe(ctx, id)
	if err == nil && sum.Template.OwnerID != userFrom(ctx) {
		err = ledger.ErrForbidden
	}
	if err != nil {
		h.writeServiceError(w, r, "Failed to get template", err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(sum))
}

// UpdateTemplate regenerates the series from today.
// PUT /api/templates/{id}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.TemplateID(chi.URLParam(r, "id"))

	var req UpdateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		h.writeServiceError(w, r, "Invalid template", err)
		return
	}
	if err := h.ownTemplate(r, id); err != nil {
		h.writeServiceError(w, r, "Failed to update recurring entries", err)
		return
	}

	touched, err := h.Service.EditTemplate(ctx, id, update)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update recurring entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "updated",
		"template_id":       id,
		"instances_updated": touched,
	})
}

// StopTemplate ends the series today.
// POST /api/templates/{id}/stop
func (h *Handler) StopTemplate(w http.ResponseWriter, r *http.Request) {
	id := ledger.TemplateID(chi.URLParam(r, "id"))
	if err := h.ownTemplate(r, id); err != nil {
		h.writeServiceError(w, r, "Failed to stop recurring entries", err)
		return
	}

	deleted, err := h.Service.Stop(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to stop recurring entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "deleted": deleted})
}

// DeleteTemplate removes the template and every unedited instance.
// DELETE /api/templates/{id}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := ledger.TemplateID(chi.URLParam(r, "id"))
	if err := h.ownTemplate(r, id); err != nil {
		h.writeServiceError(w, r, "Failed to delete recurring entries", err)
		return
	}

	deleted, err := h.Service.DeleteAll(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to delete recurring entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "deleted": deleted})
}

// ListInstances returns every stored instance of a template.
// GET /api/templates/{id}/instances
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	id := ledger.TemplateID(chi.URLParam(r, "id"))
	if err := h.ownTemplate(r, id); err != nil {
		h.writeServiceError(w, r, "Failed to list instances", err)
		return
	}

	instances, err := h.Service.Instances(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list instances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": toEntryDTOs(instances)})
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ListEntries returns the user's entries within [from, to].
// GET /api/entries?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	from, errFrom := calendar.Parse(r.URL.Query().Get("from"))
	to, errTo := calendar.Parse(r.URL.Query().Get("to"))
	if err := errors.Join(errFrom, errTo); err != nil {
		writeError(w, http.StatusBadRequest, "from and to are required (use YYYY-MM-DD)", err)
		return
	}

	entries, err := h.Service.ListEntries(r.Context(), userFrom(r.Context()), from, to)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// CreateEntry records a one-off entry.
// POST /api/entries
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := req.toEntry(userFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "Invalid entry", err)
		return
	}

	created, err := h.Service.CreateEntry(r.Context(), entry)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(created))
}

// UpdateEntry edits one entry.
// PUT /api/entries/{id}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	var req UpdateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		h.writeServiceError(w, r, "Invalid entry", err)
		return
	}
	if err := h.ownEntry(r, id); err != nil {
		h.writeServiceError(w, r, "Failed to update entry", err)
		return
	}

	updated, err := h.Service.EditEntry(r.Context(), id, patch)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(updated))
}

// DeleteEntry deletes one entry.
// DELETE /api/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))
	if err := h.ownEntry(r, id); err != nil {
		h.writeServiceError(w, r, "Failed to delete entry", err)
		return
	}

	if err := h.Service.DeleteEntry(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "Failed to delete entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// AGGREGATE HANDLERS
// =============================================================================

// Upcoming totals the user's future recurring instances.
// GET /api/upcoming?currency=EUR
func (h *Handler) Upcoming(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if err := h.validate.Var(currency, "required,len=3,uppercase"); err != nil {
		writeError(w, http.StatusBadRequest, "currency must be a three-letter code", err)
		return
	}

	total, err := h.Service.Upcoming(r.Context(), userFrom(r.Context()), currency)
	if err != nil {
		h.writeServiceError(w, r, "Failed to compute upcoming totals", err)
		return
	}
	writeJSON(w, http.StatusOK, UpcomingDTO{
		Currency:  total.Currency,
		Expenses:  total.Expenses.StringFixed(2),
		Income:    total.Income.StringFixed(2),
		Net:       total.Net().StringFixed(2),
		Instances: total.Instances,
	})
}

// Health reports whether the store answers.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Service.Store().(interface {
		Ping(ctx context.Context) error
	}); ok {
		if err := p.Ping(r.Context()); err != nil {
			config.LogError(h.log, "api", "Health", "store ping failed", nil, err)
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// ownTemplate reports ErrForbidden for another user's template.
func (h *Handler) ownTemplate(r *http.Request, id ledger.TemplateID) error {
	t, err := h.Service.GetTemplate(r.Context(), id)
	if err != nil {
		return err
	}
	if t.OwnerID != userFrom(r.Context()) {
		return ledger.ErrForbidden
	}
	return nil
}

// ownEntry reports ErrForbidden for another user's entry.
func (h *Handler) ownEntry(r *http.Request, id ledger.EntryID) error {
	e, err := h.Service.GetEntry(r.Context(), id)
	if err != nil {
		return err
	}
	if e.OwnerID != userFrom(r.Context()) {
		return ledger.ErrForbidden
	}
	return nil
}

// decode reads and validates the JSON body into dst, writing a 400 and
// returning false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request body",
				Code:    "validation_failed",
				Details: validationDetails(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// validationDetails maps each failing field to the rule it broke.
func validationDetails(verrs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		details[ve.Field()] = ve.Tag()
	}
	return details
}

// writeServiceError maps domain errors onto HTTP statuses. Only client
// errors carry details; everything else is described by message alone.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message}
	status := http.StatusInternalServerError
	switch {
	case ledger.IsClientError(err):
		status, resp.Code, resp.Details = http.StatusBadRequest, "invalid", err.Error()
	case ledger.IsNotFound(err), errors.Is(err, ledger.ErrForbidden):
		// Another user's record is indistinguishable from a missing one.
		status, resp.Code = http.StatusNotFound, "not_found"
	case ledger.IsRetryable(err):
		status, resp.Code = http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrTemplateExists):
		status, resp.Code = http.StatusConflict, "exists"
	default:
		resp.Code = "internal"
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		config.LogError(h.log, "api", r.Method+" "+route, message,
			map[string]any{"path": r.URL.Path, "user": userFrom(r.Context())}, err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

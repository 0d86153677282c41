package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// PropertyService is what the property handler needs from the lifecycle
// manager.
type PropertyService interface {
	SubmitTokenization(ctx context.Context, propertyRef string, terms domain.TokenizationTerms, override *domain.ValuationOverride) (domain.TokenizedProperty, error)
	SaveDraft(ctx context.Context, propertyRef string, terms domain.TokenizationTerms) (domain.TokenizedProperty, error)
	SubmitDraft(ctx context.Context, id string, override *domain.ValuationOverride) (domain.TokenizedProperty, error)
	ApproveTokenization(ctx context.Context, id string) (domain.TokenizedProperty, error)
	RejectTokenization(ctx context.Context, id, reason string) (domain.TokenizedProperty, error)
	IssueTokenization(ctx context.Context, id string) (domain.TokenizedProperty, error)
	CloseTokenization(ctx context.Context, id string) (domain.TokenizedProperty, error)
	GetProperty(ctx context.Context, id string) (domain.TokenizedProperty, error)
	ListProperties(ctx context.Context, status domain.PropertyStatus, opts domain.ListOpts) ([]domain.TokenizedProperty, error)
	ListValuations(ctx context.Context, id string) ([]domain.ValuationSnapshot, error)
	AuditTrail(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// PropertyHandler serves the tokenization lifecycle endpoints.
type PropertyHandler struct {
	properties PropertyService
	logger     *slog.Logger
}

// NewPropertyHandler creates a PropertyHandler.
func NewPropertyHandler(properties PropertyService, logger *slog.Logger) *PropertyHandler {
	return &PropertyHandler{properties: properties, logger: logger}
}

type submitRequest struct {
	PropertyRef string                    `json:"property_ref"`
	Terms       domain.TokenizationTerms  `json:"terms"`
	Override    *domain.ValuationOverride `json:"override,omitempty"`
}

type submitDraftRequest struct {
	Override *domain.ValuationOverride `json:"override,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type listPropertiesResponse struct {
	Properties []domain.TokenizedProperty `json:"properties"`
}

type listValuationsResponse struct {
	Valuations []domain.ValuationSnapshot `json:"valuations"`
}

type auditTrailResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// Submit validates terms and queues the property for approval.
// POST /api/properties
func (h *PropertyHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.properties.SubmitTokenization(r.Context(), req.PropertyRef, req.Terms, req.Override)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "submit tokenization", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// SaveDraft stores terms without running the valuation guard.
// POST /api/properties/drafts
func (h *PropertyHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.properties.SaveDraft(r.Context(), req.PropertyRef, req.Terms)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "save draft", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// SubmitDraft moves a draft to pending approval. The body is optional.
// POST /api/properties/{id}/submit
func (h *PropertyHandler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	var req submitDraftRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	p, err := h.properties.SubmitDraft(r.Context(), pathParam(r, "id"), req.Override)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "submit draft", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Approve approves a pending tokenization.
// POST /api/properties/{id}/approve
func (h *PropertyHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve tokenization", h.properties.ApproveTokenization)
}

// Reject rejects a pending tokenization with a reason.
// POST /api/properties/{id}/reject
func (h *PropertyHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.properties.RejectTokenization(r.Context(), pathParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "reject tokenization", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Issue creates the on-network asset and opens the property for purchase.
// POST /api/properties/{id}/issue
func (h *PropertyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "issue tokenization", h.properties.IssueTokenization)
}

// Close closes an issued or active property.
// POST /api/properties/{id}/close
func (h *PropertyHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "close tokenization", h.properties.CloseTokenization)
}

func (h *PropertyHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(context.Context, string) (domain.TokenizedProperty, error),
) {
	p, err := fn(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Get returns one property.
// GET /api/properties/{id}
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.properties.GetProperty(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get property", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List lists properties, optionally by status.
// GET /api/properties?status=issued&limit=50&offset=0
func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.PropertyStatus(r.URL.Query().Get("status"))
	props, err := h.properties.ListProperties(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list properties", err)
		return
	}
	if props == nil {
		props = []domain.TokenizedProperty{}
	}
	writeJSON(w, http.StatusOK, listPropertiesResponse{Properties: props})
}

// Valuations lists the valuation snapshots taken for a property.
// GET /api/properties/{id}/valuations
func (h *PropertyHandler) Valuations(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.properties.ListValuations(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list valuations", err)
		return
	}
	if snaps == nil {
		snaps = []domain.ValuationSnapshot{}
	}
	writeJSON(w, http.StatusOK, listValuationsResponse{Valuations: snaps})
}

// Audit returns a property's audit trail.
// GET /api/properties/{id}/audit?limit=&offset=&since=&until=
func (h *PropertyHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.properties.AuditTrail(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "audit trail", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{Entries: entries})
}

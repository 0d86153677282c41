package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/service"
)

// DistributionService creates and reads revenue distributions.
type DistributionService interface {
	DistributeRevenue(ctx context.Context, req service.DistributionRequest) (domain.RevenueDistribution, error)
	GetDistribution(ctx context.Context, id string) (domain.RevenueDistribution, error)
	ListDistributions(ctx context.Context, propertyID string, opts domain.ListOpts) ([]domain.RevenueDistribution, error)
	Statement(ctx context.Context, id string) (io.ReadCloser, error)
}

// DistributionHandler serves revenue distribution endpoints.
type DistributionHandler struct {
	distributions DistributionService
	logger        *slog.Logger
}

// NewDistributionHandler creates a DistributionHandler.
func NewDistributionHandler(distributions DistributionService, logger *slog.Logger) *DistributionHandler {
	return &DistributionHandler{distributions: distributions, logger: logger}
}

type distributeRequest struct {
	TotalRevenue int64                   `json:"total_revenue"`
	Kind         domain.DistributionKind `json:"kind"`
	Description  string                  `json:"description"`
}

type listDistributionsResponse struct {
	Distributions []domain.RevenueDistribution `json:"distributions"`
}

// Distribute splits revenue across the current holders of a property.
// POST /api/properties/{id}/distributions
func (h *DistributionHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.distributions.DistributeRevenue(r.Context(), service.DistributionRequest{
		PropertyID:   pathParam(r, "id"),
		TotalRevenue: req.TotalRevenue,
		Kind:         req.Kind,
		Description:  req.Description,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "distribute revenue", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// List lists the distributions of a property.
// GET /api/properties/{id}/distributions
func (h *DistributionHandler) List(w http.ResponseWriter, r *http.Request) {
	ds, err := h.distributions.ListDistributions(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "list distributions", err)
		return
	}
	if ds == nil {
		ds = []domain.RevenueDistribution{}
	}
	writeJSON(w, http.StatusOK, listDistributionsResponse{Distributions: ds})
}

// Get returns one distribution with its entries.
// GET /api/distributions/{id}
func (h *DistributionHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.distributions.GetDistribution(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "get distribution", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Statement streams the exported statement document.
// GET /api/distributions/{id}/statement
func (h *DistributionHandler) Statement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rc, err := h.distributions.Statement(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "distribution statement", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.json"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: statement copy interrupted",
			slog.String("distribution_id", id),
			slog.String("error", err.Error()),
		)
	}
}

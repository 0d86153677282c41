package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
)

// perUnitPlaces is the precision of per-unit revenue.
const perUnitPlaces = 16

// DistributionRequest asks for a payout of revenue to current holders.
type DistributionRequest struct {
	PropertyID   string                  `json:"property_id"`
	TotalRevenue int64                   `json:"total_revenue"`
	Kind         domain.DistributionKind `json:"kind"`
	Description  string                  `json:"description"`
}

// StatementReader reads and removes exported statements.
type StatementReader interface {
	domain.BlobReader
	domain.BlobDeleter
}

// Entitlement is the event appended to the entitlement stream for the
// payment collaborator.
type Entitlement struct {
	DistributionID string                     `json:"distribution_id"`
	PropertyID     string                     `json:"property_id"`
	Kind           domain.DistributionKind    `json:"kind"`
	Entries        []domain.DistributionEntry `json:"entries"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// DistributionEngine splits revenue across holders pro rata to units held.
type DistributionEngine struct {
	lifecycle     *TokenizationService
	ledger        *HoldingLedger
	distributions domain.DistributionStore
	writer        domain.BlobWriter
	reader        StatementReader
	fx            sideEffects
	logger        *slog.Logger
	now           func() time.Time
}

// NewDistributionEngine creates a DistributionEngine.
func NewDistributionEngine(
	lifecycle *TokenizationService,
	ledger *HoldingLedger,
	distributions domain.DistributionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *DistributionEngine {
	return &DistributionEngine{
		lifecycle:     lifecycle,
		ledger:        ledger,
		distributions: distributions,
		fx:            sideEffects{bus: bus, audit: audit, logger: logger, component: "distribution_engine"},
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithStatements exports a JSON statement for every distribution.
func (e *DistributionEngine) WithStatements(w domain.BlobWriter, r StatementReader) *DistributionEngine {
	e.writer = w
	e.reader = r
	return e
}

// WithAlerter notifies operators of new distributions.
func (e *DistributionEngine) WithAlerter(a Alerter) *DistributionEngine {
	e.fx.alerts = a
	return e
}

// Allocation is the arithmetic result of a distribution.
type Allocation struct {
	PerUnit           decimal.Decimal
	IssuedUnits       int64
	Entries           []domain.DistributionEntry
	DistributedAmount int64
	RoundingResidual  decimal.Decimal
	Unallocated       decimal.Decimal
}

// Allocate splits totalRevenue over holdings. Revenue per unit is computed
// against the full supply, so the share of unsold units is reported as
// unallocated. Each share is rounded half-even and the rounding residual is
// reported, never dropped.
func Allocate(totalRevenue, totalSupply int64, holdings []domain.TokenHolding) Allocation {
	perUnit := decimal.NewFromInt(totalRevenue).DivRound(decimal.NewFromInt(totalSupply), perUnitPlaces)

	a := Allocation{PerUnit: perUnit}
	for _, h := range holdings {
		if h.Units <= 0 {
			continue
		}
		exact := perUnit.Mul(decimal.NewFromInt(h.Units))
		share := exact.RoundBank(0).IntPart()
		a.Entries = append(a.Entries, domain.DistributionEntry{
			HolderID: h.HolderID,
			Units:    h.Units,
			Exact:    exact,
			Share:    share,
		})
		a.IssuedUnits += h.Units
		a.DistributedAmount += share
	}
	sort.Slice(a.Entries, func(i, j int) bool { return a.Entries[i].HolderID < a.Entries[j].HolderID })

	allocated := perUnit.Mul(decimal.NewFromInt(a.IssuedUnits))
	a.RoundingResidual = allocated.Sub(decimal.NewFromInt(a.DistributedAmount))
	a.Unallocated = decimal.NewFromInt(totalRevenue).Sub(allocated)
	return a
}

// DistributeRevenue snapshots current holders, allocates the revenue and
// persists one immutable distribution.
func (e *DistributionEngine) DistributeRevenue(ctx context.Context, req DistributionRequest) (domain.RevenueDistribution, error) {
	switch {
	case req.TotalRevenue <= 0:
		return domain.RevenueDistribution{}, domain.Violation(domain.ErrInvalidDistribution, "property", req.PropertyID,
			"total revenue must be > 0, got %d", req.TotalRevenue)
	case !req.Kind.Valid():
		return domain.RevenueDistribution{}, domain.Violation(domain.ErrInvalidDistribution, "property", req.PropertyID,
			"unknown kind %q", req.Kind)
	}

	p, err := e.lifecycle.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return domain.RevenueDistribution{}, err
	}
	switch p.Status {
	case domain.PropertyIssued, domain.PropertyActive, domain.PropertyClosed:
	default:
		return domain.RevenueDistribution{}, domain.Violation(domain.ErrInvalidDistribution, "property", p.ID,
			"status %s has no holders", p.Status)
	}

	holdings, err := e.ledger.Holdings(ctx, p.ID)
	if err != nil {
		return domain.RevenueDistribution{}, err
	}
	if len(holdings) == 0 {
		return domain.RevenueDistribution{}, domain.Violation(domain.ErrNoHolders, "property", p.ID, "no holding has units")
	}

	alloc := Allocate(req.TotalRevenue, p.TotalSupply, holdings)
	d := domain.RevenueDistribution{
		ID:                uuid.NewString(),
		PropertyID:        p.ID,
		TotalRevenue:      req.TotalRevenue,
		TotalSupply:       p.TotalSupply,
		IssuedUnits:       alloc.IssuedUnits,
		PerUnit:           alloc.PerUnit,
		Kind:              req.Kind,
		Description:       strings.TrimSpace(req.Description),
		Entries:           alloc.Entries,
		DistributedAmount: alloc.DistributedAmount,
		RoundingResidual:  alloc.RoundingResidual,
		Unallocated:       alloc.Unallocated,
		CreatedAt:         e.now(),
	}

	if e.writer != nil {
		d.StatementPath = StatementPath(d.PropertyID, d.ID)
		if err := e.exportStatement(ctx, d); err != nil {
			e.logger.WarnContext(ctx, "distribution_engine: statement export failed",
				slog.String("distribution_id", d.ID),
				slog.String("error", err.Error()),
			)
			d.StatementPath = ""
		}
	}

	if err := e.distributions.Create(ctx, d); err != nil {
		e.dropStatement(ctx, d)
		return domain.RevenueDistribution{}, fmt.Errorf("distribution_engine: create distribution for %s: %w", p.ID, err)
	}

	e.fx.stream(ctx, domain.StreamEntitlements, Entitlement{
		DistributionID: d.ID,
		PropertyID:     d.PropertyID,
		Kind:           d.Kind,
		Entries:        d.Entries,
		CreatedAt:      d.CreatedAt,
	})
	detail := map[string]any{
		"distribution_id":    d.ID,
		"property_id":        d.PropertyID,
		"kind":               string(d.Kind),
		"total_revenue":      d.TotalRevenue,
		"distributed_amount": d.DistributedAmount,
		"rounding_residual":  d.RoundingResidual.String(),
		"unallocated":        d.Unallocated.String(),
		"holders":            len(d.Entries),
	}
	e.fx.record(ctx, "distribution.created", detail)
	payload := map[string]any{"event": "distribution.created"}
	for k, v := range detail {
		payload[k] = v
	}
	e.fx.publish(ctx, domain.ChannelDistributions, payload)
	e.fx.alert(ctx, notify.Alert{
		Event:  notify.EventDistributionCreated,
		Title:  "Revenue distributed",
		Entity: "distribution",
		ID:     d.ID,
		Fields: map[string]string{
			"property_id": d.PropertyID,
			"total":       fmt.Sprint(d.TotalRevenue),
			"distributed": fmt.Sprint(d.DistributedAmount),
			"unallocated": d.Unallocated.String(),
		},
	})

	e.logger.InfoContext(ctx, "distribution_engine: revenue distributed",
		slog.String("distribution_id", d.ID),
		slog.String("property_id", d.PropertyID),
		slog.Int64("total_revenue", d.TotalRevenue),
		slog.Int64("distributed", d.DistributedAmount),
		slog.String("residual", d.RoundingResidual.String()),
		slog.Int("holders", len(d.Entries)),
	)
	return d, nil
}

// GetDistribution returns a distribution with its entries.
func (e *DistributionEngine) GetDistribution(ctx context.Context, id string) (domain.RevenueDistribution, error) {
	d, err := e.distributions.GetByID(ctx, id)
	if err != nil {
		return domain.RevenueDistribution{}, fmt.Errorf("distribution_engine: get distribution %s: %w", id, err)
	}
	return d, nil
}

// ListDistributions lists the distributions of a property, newest first.
func (e *DistributionEngine) ListDistributions(ctx context.Context, propertyID string, opts domain.ListOpts) ([]domain.RevenueDistribution, error) {
	ds, err := e.distributions.ListByProperty(ctx, propertyID, opts)
	if err != nil {
		return nil, fmt.Errorf("distribution_engine: list distributions %s: %w", propertyID, err)
	}
	return ds, nil
}

// Statement opens the exported statement of a distribution. The caller
// closes the reader.
func (e *DistributionEngine) Statement(ctx context.Context, id string) (io.ReadCloser, error) {
	d, err := e.GetDistribution(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.StatementPath == "" || e.reader == nil {
		return nil, fmt.Errorf("distribution_engine: statement for %s: %w", id, domain.ErrNotFound)
	}
	rc, err := e.reader.Get(ctx, d.StatementPath)
	if err != nil {
		return nil, fmt.Errorf("distribution_engine: statement for %s: %w", id, err)
	}
	return rc, nil
}

func (e *DistributionEngine) exportStatement(ctx context.Context, d domain.RevenueDistribution) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal statement: %w", err)
	}
	return e.writer.Put(ctx, d.StatementPath, bytes.NewReader(data), "application/json")
}

func (e *DistributionEngine) dropStatement(ctx context.Context, d domain.RevenueDistribution) {
	if d.StatementPath == "" || e.reader == nil {
		return
	}
	if err := e.reader.Delete(ctx, d.StatementPath); err != nil {
		e.logger.WarnContext(ctx, "distribution_engine: orphaned statement not removed",
			slog.String("path", d.StatementPath),
			slog.String("error", err.Error()),
		)
	}
}

// StatementPath is the object key of a distribution statement.
func StatementPath(propertyID, distributionID string) string {
	return fmt.Sprintf("statements/%s/%s.json", propertyID, distributionID)
}

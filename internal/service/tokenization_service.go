package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
)

// IssuerHolderID is the receiver recorded on issuance transactions.
const IssuerHolderID = "issuer"

// TokenizationConfig holds the tunables of the lifecycle manager.
type TokenizationConfig struct {
	// ValueToleranceBps is the allowed drift of unit price × supply from
	// the declared value.
	ValueToleranceBps int
	// FallbackMultiplier scales the token value into a valuation ceiling
	// when no provider estimate is available.
	FallbackMultiplier float64
	// MinConfidence flags provider estimates below it as low confidence.
	MinConfidence float64
	// LockTTL is the property lock lease. A running issuance keeps refreshing it.
	LockTTL time.Duration
}

// TokenizationService drives a property through draft, approval, issuance,
// activity and closure.
type TokenizationService struct {
	properties   domain.PropertyStore
	valuations   domain.ValuationStore
	ledger       domain.LedgerStore
	transactions domain.TransactionStore
	network      domain.SettlementNetwork
	locks        domain.LockManager
	prices       domain.UnitPriceCache
	provider     domain.ValuationProvider
	fx           sideEffects
	cfg          TokenizationConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewTokenizationService creates a TokenizationService. Without a valuation
// provider every submission uses the fallback ceiling.
func NewTokenizationService(
	properties domain.PropertyStore,
	valuations domain.ValuationStore,
	ledger domain.LedgerStore,
	transactions domain.TransactionStore,
	network domain.SettlementNetwork,
	locks domain.LockManager,
	prices domain.UnitPriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg TokenizationConfig,
	logger *slog.Logger,
) *TokenizationService {
	if cfg.FallbackMultiplier <= 0 {
		cfg.FallbackMultiplier = 1.2
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &TokenizationService{
		properties:   properties,
		valuations:   valuations,
		ledger:       ledger,
		transactions: transactions,
		network:      network,
		locks:        locks,
		prices:       prices,
		fx:           sideEffects{bus: bus, audit: audit, logger: logger, component: "tokenization_service"},
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithValuationProvider sets the provider consulted by the valuation guard.
func (s *TokenizationService) WithValuationProvider(p domain.ValuationProvider) *TokenizationService {
	s.provider = p
	return s
}

// WithAlerter routes issuance failures to operators.
func (s *TokenizationService) WithAlerter(a Alerter) *TokenizationService {
	s.fx.alerts = a
	return s
}

// SubmitTokenization validates terms, runs the valuation guard and stores the
// property awaiting approval.
func (s *TokenizationService) SubmitTokenization(
	ctx context.Context,
	propertyRef string,
	terms domain.TokenizationTerms,
	override *domain.ValuationOverride,
) (domain.TokenizedProperty, error) {
	if err := s.validateTerms(propertyRef, terms); err != nil {
		return domain.TokenizedProperty{}, err
	}
	p := s.newProperty(propertyRef, terms, domain.PropertyPendingApproval)

	snap, err := s.checkValuation(ctx, p, override)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if err := s.properties.Create(ctx, p); err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: create property %s: %w", propertyRef, err)
	}
	s.storeSnapshot(ctx, snap)
	s.submitted(ctx, p, snap)
	return p, nil
}

// SaveDraft stores structurally valid terms as a draft. The valuation guard
// runs when the draft is submitted.
func (s *TokenizationService) SaveDraft(ctx context.Context, propertyRef string, terms domain.TokenizationTerms) (domain.TokenizedProperty, error) {
	if err := s.validateTerms(propertyRef, terms); err != nil {
		return domain.TokenizedProperty{}, err
	}
	p := s.newProperty(propertyRef, terms, domain.PropertyDraft)
	if err := s.properties.Create(ctx, p); err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: create draft %s: %w", propertyRef, err)
	}

	s.fx.record(ctx, "tokenization.draft_saved", map[string]any{
		"property_id":  p.ID,
		"property_ref": p.PropertyRef,
	})
	s.logger.InfoContext(ctx, "tokenization_service: draft saved",
		slog.String("property_id", p.ID),
		slog.String("property_ref", p.PropertyRef),
	)
	return p, nil
}

// SubmitDraft moves a draft to pending approval after the valuation guard.
func (s *TokenizationService) SubmitDraft(ctx context.Context, id string, override *domain.ValuationOverride) (domain.TokenizedProperty, error) {
	p, err := s.GetProperty(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if p.Status != domain.PropertyDraft {
		return domain.TokenizedProperty{}, transitionViolation(p, domain.PropertyPendingApproval)
	}

	snap, err := s.checkValuation(ctx, p, override)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	updated, err := s.properties.Transition(ctx, domain.PropertyTransition{
		ID:   id,
		From: domain.PropertyDraft,
		To:   domain.PropertyPendingApproval,
		At:   s.now(),
	})
	if err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: submit draft %s: %w", id, err)
	}
	s.storeSnapshot(ctx, snap)
	s.submitted(ctx, updated, snap)
	return updated, nil
}

// ApproveTokenization approves a pending property.
func (s *TokenizationService) ApproveTokenization(ctx context.Context, id string) (domain.TokenizedProperty, error) {
	p, err := s.transition(ctx, id, domain.PropertyTransition{
		From: domain.PropertyPendingApproval,
		To:   domain.PropertyApproved,
	})
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	s.changed(ctx, p, "tokenization.approved", nil)
	return p, nil
}

// RejectTokenization rejects a pending property. A reason is required.
func (s *TokenizationService) RejectTokenization(ctx context.Context, id, reason string) (domain.TokenizedProperty, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.TokenizedProperty{}, domain.Violation(domain.ErrInvalidRequest, "property", id, "rejection requires a reason")
	}
	p, err := s.transition(ctx, id, domain.PropertyTransition{
		From:            domain.PropertyPendingApproval,
		To:              domain.PropertyRejected,
		RejectionReason: reason,
	})
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	s.changed(ctx, p, "tokenization.rejected", map[string]any{"reason": reason})
	return p, nil
}

// IssueTokenization creates the asset on the settlement network, opens the
// supply ledger and marks the property issued. The property moves to issuing
// before the network call and back to approved if the call fails, so a
// retry or a crashed issuer's successor resumes with the same asset key
// instead of minting a second asset. The property lock is refreshed for as
// long as the call runs.
func (s *TokenizationService) IssueTokenization(ctx context.Context, id string) (domain.TokenizedProperty, error) {
	p, err := s.GetProperty(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if !issuable(p.Status) {
		return domain.TokenizedProperty{}, transitionViolation(p, domain.PropertyIssued)
	}

	lease, err := s.locks.Acquire(ctx, propertyLockKey(id), s.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return domain.TokenizedProperty{}, domain.Violation(domain.ErrInvalidStateTransition, "property", id,
			"issuance already in progress").WithCause(err)
	}
	if err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: lock property %s: %w", id, err)
	}
	defer lease.Release()
	stop := s.keepLease(ctx, id, lease)
	defer stop()

	// Re-read under the lock; another issuer may have finished first.
	p, err = s.GetProperty(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	switch p.Status {
	case domain.PropertyApproved:
		p, err = s.properties.Transition(ctx, domain.PropertyTransition{
			ID:   id,
			From: domain.PropertyApproved,
			To:   domain.PropertyIssuing,
			At:   s.now(),
		})
		if err != nil {
			return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: mark issuing %s: %w", id, err)
		}
	case domain.PropertyIssuing:
		s.logger.WarnContext(ctx, "tokenization_service: resuming interrupted issuance",
			slog.String("property_id", id),
		)
	default:
		return domain.TokenizedProperty{}, transitionViolation(p, domain.PropertyIssued)
	}

	assetID, err := s.network.CreateAsset(ctx, domain.AssetSpec{
		Key:         id,
		Name:        p.Name,
		Symbol:      p.Symbol,
		TotalSupply: p.TotalSupply,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "tokenization_service: create asset failed",
			slog.String("property_id", id),
			slog.String("error", err.Error()),
		)
		if _, rbErr := s.properties.Transition(ctx, domain.PropertyTransition{
			ID:   id,
			From: domain.PropertyIssuing,
			To:   domain.PropertyApproved,
			At:   s.now(),
		}); rbErr != nil {
			s.logger.ErrorContext(ctx, "tokenization_service: property left issuing",
				slog.String("property_id", id),
				slog.String("error", rbErr.Error()),
			)
		}
		s.fx.record(ctx, "tokenization.issue_failed", map[string]any{
			"property_id": id,
			"error":       err.Error(),
		})
		s.fx.alert(ctx, notify.Alert{
			Event:  notify.EventIssuanceFailed,
			Title:  "Issuance failed",
			Entity: "property",
			ID:     id,
			Fields: map[string]string{"symbol": p.Symbol, "error": err.Error()},
		})
		return domain.TokenizedProperty{}, domain.Violation(domain.ErrIssuanceFailed, "property", id,
			"create asset on settlement network").WithCause(err)
	}

	// The supply row exists before the property is purchasable.
	if err := s.ledger.OpenSupply(ctx, id, p.TotalSupply); err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: open supply %s (asset %s): %w", id, assetID, err)
	}

	now := s.now()
	issued, err := s.properties.Transition(ctx, domain.PropertyTransition{
		ID:      id,
		From:    domain.PropertyIssuing,
		To:      domain.PropertyIssued,
		AssetID: assetID,
		At:      now,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "tokenization_service: asset created but property not issued",
			slog.String("property_id", id),
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: issue property %s: %w", id, err)
	}

	tokenValue, _ := p.TokenValue()
	if err := s.transactions.Create(ctx, domain.TokenTransaction{
		ID:         uuid.NewString(),
		PropertyID: id,
		ReceiverID: IssuerHolderID,
		Units:      p.TotalSupply,
		UnitPrice:  p.UnitPrice,
		TotalValue: tokenValue,
		Kind:       domain.TxIssuance,
		Status:     domain.SettlementConfirmed,
		NetworkRef: assetID,
		CreatedAt:  now,
		UpdatedAt:  now,
		SettledAt:  &now,
	}); err != nil {
		s.logger.WarnContext(ctx, "tokenization_service: record issuance failed",
			slog.String("property_id", id),
			slog.String("error", err.Error()),
		)
	}
	if err := s.prices.SetUnitPrice(ctx, id, p.UnitPrice, now); err != nil {
		s.logger.WarnContext(ctx, "tokenization_service: seed unit price failed",
			slog.String("property_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.changed(ctx, issued, "tokenization.issued", map[string]any{"asset_id": assetID})
	return issued, nil
}

// CloseTokenization closes an issued or active property.
func (s *TokenizationService) CloseTokenization(ctx context.Context, id string) (domain.TokenizedProperty, error) {
	p, err := s.GetProperty(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if !p.Status.CanTransitionTo(domain.PropertyClosed) {
		return domain.TokenizedProperty{}, transitionViolation(p, domain.PropertyClosed)
	}
	closed, err := s.properties.Transition(ctx, domain.PropertyTransition{
		ID:   id,
		From: p.Status,
		To:   domain.PropertyClosed,
		At:   s.now(),
	})
	if err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: close property %s: %w", id, err)
	}
	s.changed(ctx, closed, "tokenization.closed", nil)
	return closed, nil
}

// MarkActive promotes an issued property after its first confirmed sale. It
// is a no-op for a property that is already active.
func (s *TokenizationService) MarkActive(ctx context.Context, id string) (domain.TokenizedProperty, error) {
	p, err := s.GetProperty(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if p.Status == domain.PropertyActive {
		return p, nil
	}
	if p.Status != domain.PropertyIssued {
		return domain.TokenizedProperty{}, transitionViolation(p, domain.PropertyActive)
	}

	active, err := s.properties.Transition(ctx, domain.PropertyTransition{
		ID:   id,
		From: domain.PropertyIssued,
		To:   domain.PropertyActive,
		At:   s.now(),
	})
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		// A concurrent confirmation won the race.
		if cur, getErr := s.GetProperty(ctx, id); getErr == nil && cur.Status == domain.PropertyActive {
			return cur, nil
		}
	}
	if err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: activate property %s: %w", id, err)
	}
	s.changed(ctx, active, "tokenization.active", nil)
	return active, nil
}

// GetProperty returns a property by id.
func (s *TokenizationService) GetProperty(ctx context.Context, id string) (domain.TokenizedProperty, error) {
	p, err := s.properties.GetByID(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: get property %s: %w", id, err)
	}
	return p, nil
}

// ListProperties lists properties, optionally filtered by status.
func (s *TokenizationService) ListProperties(ctx context.Context, status domain.PropertyStatus, opts domain.ListOpts) ([]domain.TokenizedProperty, error) {
	if status != "" && !status.Valid() {
		return nil, domain.Violation(domain.ErrInvalidRequest, "property", "", "unknown status %q", status)
	}
	props, err := s.properties.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("tokenization_service: list properties: %w", err)
	}
	return props, nil
}

// ListValuations returns the valuation snapshots of a property.
func (s *TokenizationService) ListValuations(ctx context.Context, id string) ([]domain.ValuationSnapshot, error) {
	if _, err := s.GetProperty(ctx, id); err != nil {
		return nil, err
	}
	snaps, err := s.valuations.ListByProperty(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tokenization_service: list valuations %s: %w", id, err)
	}
	return snaps, nil
}

// AuditTrail returns the audit entries recorded for a property, newest
// first: lifecycle changes, valuation overrides, settlements, holding moves
// and distributions.
func (s *TokenizationService) AuditTrail(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.GetProperty(ctx, id); err != nil {
		return nil, err
	}
	if s.fx.audit == nil {
		return nil, nil
	}
	entries, err := s.fx.audit.ListByProperty(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("tokenization_service: audit trail %s: %w", id, err)
	}
	return entries, nil
}

func (s *TokenizationService) transition(ctx context.Context, id string, t domain.PropertyTransition) (domain.TokenizedProperty, error) {
	p, err := s.GetProperty(ctx, id)
	if err != nil {
		return domain.TokenizedProperty{}, err
	}
	if p.Status != t.From {
		return domain.TokenizedProperty{}, transitionViolation(p, t.To)
	}
	t.ID = id
	t.At = s.now()
	updated, err := s.properties.Transition(ctx, t)
	if err != nil {
		return domain.TokenizedProperty{}, fmt.Errorf("tokenization_service: %s -> %s %s: %w", t.From, t.To, id, err)
	}
	return updated, nil
}

// validateTerms checks the structural rules of a tokenization request.
func (s *TokenizationService) validateTerms(propertyRef string, t domain.TokenizationTerms) error {
	invalid := func(rule string, args ...any) error {
		return domain.Violation(domain.ErrInvalidTerms, "property", propertyRef, rule, args...)
	}
	switch {
	case strings.TrimSpace(propertyRef) == "":
		return invalid("property reference is required")
	case strings.TrimSpace(t.Name) == "":
		return invalid("name is required")
	case strings.TrimSpace(t.Symbol) == "":
		return invalid("symbol is required")
	case t.TotalSupply <= 0:
		return invalid("total supply must be > 0, got %d", t.TotalSupply)
	case t.UnitPrice <= 0:
		return invalid("unit price must be > 0, got %d", t.UnitPrice)
	case t.DeclaredValue <= 0:
		return invalid("declared value must be > 0, got %d", t.DeclaredValue)
	case t.MinimumInvestment < 0:
		return invalid("minimum investment must be >= 0, got %d", t.MinimumInvestment)
	case t.MinimumInvestment > t.DeclaredValue:
		return invalid("minimum investment %d exceeds declared value %d", t.MinimumInvestment, t.DeclaredValue)
	case t.ExpectedYieldBps < 0:
		return invalid("expected yield must be >= 0 bps")
	case t.LockupDays < 0:
		return invalid("lock-up must be >= 0 days")
	case !t.DistributionFrequency.Valid():
		return invalid("unknown distribution frequency %q", t.DistributionFrequency)
	}

	tokenValue, ok := t.TokenValue()
	if !ok {
		return invalid("unit price × total supply overflows")
	}
	if !withinTolerance(tokenValue, t.DeclaredValue, s.cfg.ValueToleranceBps) {
		return invalid("unit price × total supply = %d does not match declared value %d within %d bps",
			tokenValue, t.DeclaredValue, s.cfg.ValueToleranceBps)
	}
	return nil
}

// withinTolerance reports |tokenValue − declared| × 10000 ≤ declared × bps.
func withinTolerance(tokenValue, declared int64, bps int) bool {
	diff := new(big.Int).Sub(big.NewInt(tokenValue), big.NewInt(declared))
	diff.Abs(diff).Mul(diff, big.NewInt(10000))
	limit := new(big.Int).Mul(big.NewInt(declared), big.NewInt(int64(bps)))
	return diff.Cmp(limit) <= 0
}

// checkValuation builds the snapshot for p and fails when the declared value
// exceeds the ceiling without an override.
func (s *TokenizationService) checkValuation(ctx context.Context, p domain.TokenizedProperty, override *domain.ValuationOverride) (domain.ValuationSnapshot, error) {
	tokenValue, _ := p.TokenValue()
	snap := domain.ValuationSnapshot{
		ID:            uuid.NewString(),
		PropertyID:    p.ID,
		DeclaredValue: p.DeclaredValue,
		TokenValue:    tokenValue,
		CreatedAt:     s.now(),
	}

	if s.provider != nil {
		est, err := s.provider.Estimate(ctx, p.Descriptor())
		if err == nil {
			// A low-confidence estimate still sets the ceiling; it is only flagged.
			snap.EstimatedValue = est.Value
			snap.Confidence = est.Confidence
			snap.Source = domain.ValuationFromProvider
			snap.LowConfidence = est.Confidence < s.cfg.MinConfidence
		} else {
			s.logger.WarnContext(ctx, "tokenization_service: valuation provider unavailable, using fallback",
				slog.String("property_ref", p.PropertyRef),
				slog.String("error", err.Error()),
			)
		}
	}
	if snap.Source == "" {
		snap.EstimatedValue = decimal.NewFromInt(tokenValue).
			Mul(decimal.NewFromFloat(s.cfg.FallbackMultiplier)).
			Floor().
			IntPart()
		snap.Source = domain.ValuationFromFallback
		snap.LowConfidence = true
	}

	snap.Exceeds = p.DeclaredValue > snap.EstimatedValue
	if !snap.Exceeds {
		return snap, nil
	}
	if !override.Present() {
		return domain.ValuationSnapshot{}, domain.Violation(domain.ErrValuationExceeded, "property", p.PropertyRef,
			"declared value %d exceeds %s ceiling %d", p.DeclaredValue, snap.Source, snap.EstimatedValue)
	}
	snap.OverrideJustification = strings.TrimSpace(override.Justification)
	snap.OverrideBy = override.ApprovedBy
	return snap, nil
}

func (s *TokenizationService) storeSnapshot(ctx context.Context, snap domain.ValuationSnapshot) {
	if err := s.valuations.Insert(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "tokenization_service: store valuation snapshot failed",
			slog.String("property_id", snap.PropertyID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TokenizationService) newProperty(ref string, t domain.TokenizationTerms, status domain.PropertyStatus) domain.TokenizedProperty {
	now := s.now()
	return domain.TokenizedProperty{
		ID:                    uuid.NewString(),
		PropertyRef:           strings.TrimSpace(ref),
		Name:                  strings.TrimSpace(t.Name),
		Symbol:                strings.ToUpper(strings.TrimSpace(t.Symbol)),
		TotalSupply:           t.TotalSupply,
		UnitPrice:             t.UnitPrice,
		DeclaredValue:         t.DeclaredValue,
		MinimumInvestment:     t.MinimumInvestment,
		ExpectedYieldBps:      t.ExpectedYieldBps,
		LockupDays:            t.LockupDays,
		DistributionFrequency: t.DistributionFrequency,
		Location:              t.Location,
		PropertyType:          t.PropertyType,
		AreaSqm:               t.AreaSqm,
		Status:                status,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func (s *TokenizationService) submitted(ctx context.Context, p domain.TokenizedProperty, snap domain.ValuationSnapshot) {
	detail := map[string]any{
		"source":          string(snap.Source),
		"estimated_value": snap.EstimatedValue,
		"low_confidence":  snap.LowConfidence,
		"exceeds":         snap.Exceeds,
	}
	if snap.OverrideJustification != "" {
		detail["override_justification"] = snap.OverrideJustification
		detail["override_by"] = snap.OverrideBy
		s.logger.WarnContext(ctx, "tokenization_service: valuation ceiling overridden",
			slog.String("property_id", p.ID),
			slog.Int64("declared_value", p.DeclaredValue),
			slog.Int64("ceiling", snap.EstimatedValue),
		)
	}
	s.changed(ctx, p, "tokenization.submitted", detail)
}

// changed publishes, audits and logs a property state change.
func (s *TokenizationService) changed(ctx context.Context, p domain.TokenizedProperty, event string, extra map[string]any) {
	detail := map[string]any{
		"property_id": p.ID,
		"symbol":      p.Symbol,
		"status":      string(p.Status),
	}
	for k, v := range extra {
		detail[k] = v
	}
	s.fx.record(ctx, event, detail)

	payload := map[string]any{"event": event}
	for k, v := range detail {
		payload[k] = v
	}
	s.fx.publish(ctx, domain.ChannelProperties, payload)

	s.logger.InfoContext(ctx, "tokenization_service: "+strings.TrimPrefix(event, "tokenization."),
		slog.String("property_id", p.ID),
		slog.String("status", string(p.Status)),
	)
}

func transitionViolation(p domain.TokenizedProperty, to domain.PropertyStatus) error {
	return domain.Violation(domain.ErrInvalidStateTransition, "property", p.ID, "cannot move from %s to %s", p.Status, to)
}

func issuable(st domain.PropertyStatus) bool {
	return st == domain.PropertyApproved || st == domain.PropertyIssuing
}

// keepLease refreshes lease every third of the lock TTL until stop is called
// or the lease is lost.
func (s *TokenizationService) keepLease(ctx context.Context, id string, lease domain.Lease) (stop func()) {
	every := s.cfg.LockTTL / 3
	if every < time.Millisecond {
		every = time.Millisecond
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				err := lease.Refresh(context.WithoutCancel(ctx), s.cfg.LockTTL)
				if err == nil {
					continue
				}
				s.logger.WarnContext(ctx, "tokenization_service: refresh property lock failed",
					slog.String("property_id", id),
					slog.String("error", err.Error()),
				)
				if errors.Is(err, domain.ErrLockLost) {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func propertyLockKey(id string) string {
	return "property:" + id
}

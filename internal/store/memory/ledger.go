package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

type holdingKey struct {
	propertyID string
	holderID   string
}

// LedgerStore is an in-memory domain.LedgerStore. A single mutex serializes
// every unit movement, so the supply invariant holds under any interleaving.
type LedgerStore struct {
	mu           sync.Mutex
	supply       map[string]domain.SupplyState
	holdings     map[holdingKey]domain.TokenHolding
	reservations map[string]domain.Reservation
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		supply:       make(map[string]domain.SupplyState),
		holdings:     make(map[holdingKey]domain.TokenHolding),
		reservations: make(map[string]domain.Reservation),
	}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// OpenSupply creates the supply row. A second call is a no-op.
func (s *LedgerStore) OpenSupply(_ context.Context, propertyID string, totalSupply int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.supply[propertyID]; ok {
		return nil
	}
	s.supply[propertyID] = domain.SupplyState{
		PropertyID:  propertyID,
		TotalSupply: totalSupply,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// GetSupply returns the supply row of a property.
func (s *LedgerStore) GetSupply(_ context.Context, propertyID string) (domain.SupplyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.supply[propertyID]
	if !ok {
		return domain.SupplyState{}, domain.ErrNotFound
	}
	return st, nil
}

// Reserve holds units for an in-flight purchase or resale.
func (s *LedgerStore) Reserve(_ context.Context, r domain.Reservation) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[r.ID]; ok {
		return domain.Reservation{}, domain.ErrAlreadyExists
	}

	switch r.Kind {
	case domain.ReserveIssue:
		st, ok := s.supply[r.PropertyID]
		if !ok {
			return domain.Reservation{}, domain.ErrNotFound
		}
		if r.Units > st.Available() {
			return domain.Reservation{}, domain.Violation(domain.ErrSupplyExceeded, "property", r.PropertyID,
				"requested %d, available %d", r.Units, st.Available())
		}
		st.ReservedUnits += r.Units
		st.UpdatedAt = r.CreatedAt
		s.supply[r.PropertyID] = st

	case domain.ReserveTransfer:
		key := holdingKey{r.PropertyID, r.SellerID}
		h, ok := s.holdings[key]
		if !ok || h.FreeUnits() < r.Units {
			return domain.Reservation{}, domain.Violation(domain.ErrInsufficientUnits, "holding", r.SellerID,
				"cannot lock %d units of %s", r.Units, r.PropertyID)
		}
		h.LockedUnits += r.Units
		h.UpdatedAt = r.CreatedAt
		s.holdings[key] = h

	default:
		return domain.Reservation{}, domain.Violation(domain.ErrInvalidRequest, "reservation", r.ID, "unknown kind %q", r.Kind)
	}

	r.Status = domain.ReservationHeld
	s.reservations[r.ID] = r
	return r, nil
}

// closeLocked flips a held reservation to status. Callers hold s.mu.
func (s *LedgerStore) closeLocked(id string, status domain.ReservationStatus, at time.Time) (domain.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if r.Status != domain.ReservationHeld {
		return domain.Reservation{}, domain.Violation(domain.ErrReservationClosed, "reservation", id, "status is %s", r.Status)
	}
	r.Status = status
	r.ClosedAt = &at
	s.reservations[id] = r
	return r, nil
}

// CommitReservation credits the buyer and closes the reservation.
func (s *LedgerStore) CommitReservation(_ context.Context, id string, at time.Time) (domain.TokenHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.closeLocked(id, domain.ReservationCommitted, at)
	if err != nil {
		return domain.TokenHolding{}, err
	}

	var cost int64
	switch r.Kind {
	case domain.ReserveIssue:
		st := s.supply[r.PropertyID]
		st.ReservedUnits -= r.Units
		st.IssuedUnits += r.Units
		st.UpdatedAt = at
		s.supply[r.PropertyID] = st
		cost = r.Units * r.UnitPrice

	case domain.ReserveTransfer:
		key := holdingKey{r.PropertyID, r.SellerID}
		seller := s.holdings[key]
		carried := domain.ProportionalCost(seller.CostBasis, seller.Units, r.Units)
		seller.Units -= r.Units
		seller.LockedUnits -= r.Units
		seller.CostBasis -= carried
		seller.UpdatedAt = at
		s.holdings[key] = seller
		cost = carried
		if r.UnitPrice > 0 {
			cost = r.Units * r.UnitPrice
		}
	}

	return s.creditLocked(r.PropertyID, r.HolderID, r.Account, r.Units, cost, at), nil
}

func (s *LedgerStore) creditLocked(propertyID, holderID, account string, units, cost int64, at time.Time) domain.TokenHolding {
	key := holdingKey{propertyID, holderID}
	h, ok := s.holdings[key]
	if !ok {
		h = domain.TokenHolding{PropertyID: propertyID, HolderID: holderID, AcquiredAt: at}
	}
	if account != "" {
		h.Account = account
	}
	h.Units += units
	h.CostBasis += cost
	h.UpdatedAt = at
	s.holdings[key] = h
	return h
}

// ReleaseReservation returns reserved units to where they came from.
func (s *LedgerStore) ReleaseReservation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.closeLocked(id, domain.ReservationReleased, at)
	if err != nil {
		return err
	}

	switch r.Kind {
	case domain.ReserveIssue:
		st := s.supply[r.PropertyID]
		st.ReservedUnits -= r.Units
		st.UpdatedAt = at
		s.supply[r.PropertyID] = st
	case domain.ReserveTransfer:
		key := holdingKey{r.PropertyID, r.SellerID}
		h := s.holdings[key]
		h.LockedUnits -= r.Units
		h.UpdatedAt = at
		s.holdings[key] = h
	}
	return nil
}

// GetReservation returns a reservation by ID.
func (s *LedgerStore) GetReservation(_ context.Context, id string) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

// Credit issues units from the pool straight to a holder.
func (s *LedgerStore) Credit(_ context.Context, propertyID, holderID string, units, unitPrice int64, at time.Time) (domain.TokenHolding, error) {
	cost, ok := domain.MulInt64(units, unitPrice)
	if !ok {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInvalidRequest, "holding", holderID, "cost basis overflows")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, found := s.supply[propertyID]
	if !found {
		return domain.TokenHolding{}, domain.ErrNotFound
	}
	if units > st.Available() {
		return domain.TokenHolding{}, domain.Violation(domain.ErrSupplyExceeded, "property", propertyID,
			"requested %d, available %d", units, st.Available())
	}
	st.IssuedUnits += units
	st.UpdatedAt = at
	s.supply[propertyID] = st

	return s.creditLocked(propertyID, holderID, "", units, cost, at), nil
}

// Debit removes free units from a holder and returns them to the pool.
func (s *LedgerStore) Debit(_ context.Context, propertyID, holderID string, units int64, at time.Time) (domain.TokenHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{propertyID, holderID}
	h, ok := s.holdings[key]
	if !ok || h.FreeUnits() < units {
		return domain.TokenHolding{}, domain.Violation(domain.ErrInsufficientUnits, "holding", holderID,
			"cannot debit %d units of %s", units, propertyID)
	}

	h.CostBasis -= domain.ProportionalCost(h.CostBasis, h.Units, units)
	h.Units -= units
	h.UpdatedAt = at
	s.holdings[key] = h

	st := s.supply[propertyID]
	st.IssuedUnits -= units
	st.UpdatedAt = at
	s.supply[propertyID] = st
	return h, nil
}

// GetHolding returns one holder's position in one property.
func (s *LedgerStore) GetHolding(_ context.Context, propertyID, holderID string) (domain.TokenHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[holdingKey{propertyID, holderID}]
	if !ok {
		return domain.TokenHolding{}, domain.ErrNotFound
	}
	return h, nil
}

// ListHoldings returns the non-empty holdings of a property.
func (s *LedgerStore) ListHoldings(_ context.Context, propertyID string) ([]domain.TokenHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TokenHolding
	for k, h := range s.holdings {
		if k.propertyID == propertyID && h.Units > 0 {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HolderID < out[j].HolderID })
	return out, nil
}

// ListHoldingsByHolder returns the non-empty holdings of an investor.
func (s *LedgerStore) ListHoldingsByHolder(_ context.Context, holderID string) ([]domain.TokenHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TokenHolding
	for k, h := range s.holdings {
		if k.holderID == holderID && h.Units > 0 {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out, nil
}

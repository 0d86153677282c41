package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// DistributionStore is an in-memory domain.DistributionStore.
type DistributionStore struct {
	mu    sync.Mutex
	dists map[string]domain.RevenueDistribution
}

// NewDistributionStore creates an empty DistributionStore.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{dists: make(map[string]domain.RevenueDistribution)}
}

var _ domain.DistributionStore = (*DistributionStore)(nil)

// Create stores d.
func (s *DistributionStore) Create(_ context.Context, d domain.RevenueDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dists[d.ID]; ok {
		return domain.ErrAlreadyExists
	}
	d.Entries = append([]domain.DistributionEntry(nil), d.Entries...)
	s.dists[d.ID] = d
	return nil
}

// GetByID returns a distribution with its entries.
func (s *DistributionStore) GetByID(_ context.Context, id string) (domain.RevenueDistribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dists[id]
	if !ok {
		return domain.RevenueDistribution{}, domain.ErrNotFound
	}
	return d, nil
}

// ListByProperty returns the distributions of a property, newest first.
func (s *DistributionStore) ListByProperty(_ context.Context, propertyID string, opts domain.ListOpts) ([]domain.RevenueDistribution, error) {
	out := s.filter(func(d domain.RevenueDistribution) bool {
		return d.PropertyID == propertyID && inWindow(d.CreatedAt, opts)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// ListByHolder returns one holder's entries joined with their headers.
func (s *DistributionStore) ListByHolder(_ context.Context, holderID string, opts domain.ListOpts) ([]domain.HolderDistribution, error) {
	dists := s.filter(func(d domain.RevenueDistribution) bool { return inWindow(d.CreatedAt, opts) })

	var out []domain.HolderDistribution
	for _, d := range dists {
		for _, e := range d.Entries {
			if e.HolderID != holderID {
				continue
			}
			out = append(out, domain.HolderDistribution{
				DistributionID: d.ID,
				PropertyID:     d.PropertyID,
				Kind:           d.Kind,
				Description:    d.Description,
				Units:          e.Units,
				Share:          e.Share,
				CreatedAt:      d.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// ListBefore returns distributions created before the cutoff.
func (s *DistributionStore) ListBefore(_ context.Context, before time.Time) ([]domain.RevenueDistribution, error) {
	out := s.filter(func(d domain.RevenueDistribution) bool { return d.CreatedAt.Before(before) })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *DistributionStore) filter(keep func(domain.RevenueDistribution) bool) []domain.RevenueDistribution {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RevenueDistribution
	for _, d := range s.dists {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

var _ domain.AuditStore = (*AuditStore)(nil)

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:         int64(len(s.entries) + 1),
		Event:      event,
		PropertyID: domain.AuditPropertyID(detail),
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.filter("", opts), nil
}

// ListByProperty returns one property's audit entries, newest first.
func (s *AuditStore) ListByProperty(_ context.Context, propertyID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.filter(propertyID, opts), nil
}

func (s *AuditStore) filter(propertyID string, opts domain.ListOpts) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if propertyID != "" && e.PropertyID != propertyID {
			continue
		}
		if inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts)
}

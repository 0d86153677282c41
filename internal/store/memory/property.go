// Package memory implements the domain store interfaces in process memory.
// It backs sandbox mode and service tests. All stores are safe for concurrent
// use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// PropertyStore is an in-memory domain.PropertyStore.
type PropertyStore struct {
	mu    sync.Mutex
	props map[string]domain.TokenizedProperty
}

// NewPropertyStore creates an empty PropertyStore.
func NewPropertyStore() *PropertyStore {
	return &PropertyStore{props: make(map[string]domain.TokenizedProperty)}
}

var _ domain.PropertyStore = (*PropertyStore)(nil)

// Create stores p.
func (s *PropertyStore) Create(_ context.Context, p domain.TokenizedProperty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.props[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	p.UpdatedAt = p.CreatedAt
	s.props[p.ID] = p
	return nil
}

// GetByID returns the property with id.
func (s *PropertyStore) GetByID(_ context.Context, id string) (domain.TokenizedProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[id]
	if !ok {
		return domain.TokenizedProperty{}, domain.ErrNotFound
	}
	return p, nil
}

// Transition applies t when the stored status equals t.From.
func (s *PropertyStore) Transition(_ context.Context, t domain.PropertyTransition) (domain.TokenizedProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[t.ID]
	if !ok {
		return domain.TokenizedProperty{}, domain.ErrNotFound
	}
	if p.Status != t.From {
		return domain.TokenizedProperty{}, domain.Violation(domain.ErrInvalidStateTransition,
			"property", t.ID, "status is %s, expected %s", p.Status, t.From)
	}

	p.Status = t.To
	if t.AssetID != "" {
		p.AssetID = t.AssetID
	}
	if t.RejectionReason != "" {
		p.RejectionReason = t.RejectionReason
	}
	at := t.At
	switch t.To {
	case domain.PropertyIssued:
		p.IssuedAt = &at
	case domain.PropertyClosed:
		p.ClosedAt = &at
	}
	p.UpdatedAt = at
	s.props[t.ID] = p
	return p, nil
}

// List returns properties filtered by status, newest first.
func (s *PropertyStore) List(_ context.Context, status domain.PropertyStatus, opts domain.ListOpts) ([]domain.TokenizedProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TokenizedProperty
	for _, p := range s.props {
		if status != "" && p.Status != status {
			continue
		}
		if !inWindow(p.CreatedAt, opts) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// ValuationStore is an in-memory domain.ValuationStore.
type ValuationStore struct {
	mu    sync.Mutex
	snaps []domain.ValuationSnapshot
}

// NewValuationStore creates an empty ValuationStore.
func NewValuationStore() *ValuationStore {
	return &ValuationStore{}
}

var _ domain.ValuationStore = (*ValuationStore)(nil)

// Insert appends a snapshot.
func (s *ValuationStore) Insert(_ context.Context, v domain.ValuationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, v)
	return nil
}

// ListByProperty returns the snapshots of a property, newest first.
func (s *ValuationStore) ListByProperty(_ context.Context, propertyID string) ([]domain.ValuationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ValuationSnapshot
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if s.snaps[i].PropertyID == propertyID {
			out = append(out, s.snaps[i])
		}
	}
	return out, nil
}

func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

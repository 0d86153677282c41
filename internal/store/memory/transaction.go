package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// TransactionStore is an in-memory domain.TransactionStore.
type TransactionStore struct {
	mu  sync.Mutex
	txs map[string]domain.TokenTransaction
}

// NewTransactionStore creates an empty TransactionStore.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{txs: make(map[string]domain.TokenTransaction)}
}

var _ domain.TransactionStore = (*TransactionStore)(nil)

// Create appends t.
func (s *TransactionStore) Create(_ context.Context, t domain.TokenTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	t.UpdatedAt = t.CreatedAt
	s.txs[t.ID] = t
	return nil
}

// GetByID returns a transaction.
func (s *TransactionStore) GetByID(_ context.Context, id string) (domain.TokenTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txs[id]
	if !ok {
		return domain.TokenTransaction{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *TransactionStore) pendingLocked(id string) (domain.TokenTransaction, error) {
	t, ok := s.txs[id]
	if !ok {
		return domain.TokenTransaction{}, domain.ErrNotFound
	}
	if t.Final() {
		return domain.TokenTransaction{}, domain.Violation(domain.ErrTransactionFinal, "transaction", id, "status is %s", t.Status)
	}
	return t, nil
}

// RecordAttempt bumps the attempt counter of a pending transaction.
func (s *TransactionStore) RecordAttempt(_ context.Context, id, networkRef string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.pendingLocked(id)
	if err != nil {
		return 0, err
	}
	t.Attempts++
	if networkRef != "" {
		t.NetworkRef = networkRef
	}
	t.UpdatedAt = at
	s.txs[id] = t
	return t.Attempts, nil
}

// Resolve finalizes a pending transaction exactly once.
func (s *TransactionStore) Resolve(_ context.Context, r domain.TransactionResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.pendingLocked(r.ID)
	if err != nil {
		return err
	}
	t.Status = r.Status
	if r.NetworkRef != "" {
		t.NetworkRef = r.NetworkRef
	}
	t.FailureReason = r.FailureReason
	at := r.At
	t.SettledAt = &at
	t.UpdatedAt = at
	s.txs[r.ID] = t
	return nil
}

// ListPending returns the oldest pending transactions.
func (s *TransactionStore) ListPending(_ context.Context, limit int) ([]domain.TokenTransaction, error) {
	out := s.filter(func(t domain.TokenTransaction) bool { return t.Status == domain.SettlementPending })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByHolder returns transactions where the holder is sender or receiver.
func (s *TransactionStore) ListByHolder(_ context.Context, holderID string, opts domain.ListOpts) ([]domain.TokenTransaction, error) {
	out := s.filter(func(t domain.TokenTransaction) bool {
		return (t.SenderID == holderID || t.ReceiverID == holderID) && inWindow(t.CreatedAt, opts)
	})
	return page(newestFirst(out), opts), nil
}

// ListByProperty returns the transactions of a property.
func (s *TransactionStore) ListByProperty(_ context.Context, propertyID string, opts domain.ListOpts) ([]domain.TokenTransaction, error) {
	out := s.filter(func(t domain.TokenTransaction) bool {
		return t.PropertyID == propertyID && inWindow(t.CreatedAt, opts)
	})
	return page(newestFirst(out), opts), nil
}

// ListBefore returns final transactions created before the cutoff.
func (s *TransactionStore) ListBefore(_ context.Context, before time.Time) ([]domain.TokenTransaction, error) {
	out := s.filter(func(t domain.TokenTransaction) bool {
		return t.Final() && t.CreatedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *TransactionStore) filter(keep func(domain.TokenTransaction) bool) []domain.TokenTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TokenTransaction
	for _, t := range s.txs {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func newestFirst(txs []domain.TokenTransaction) []domain.TokenTransaction {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
	return txs
}

package billing

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is the in-memory Repository used by tests.
type MemoryRepo struct {
	mu         sync.Mutex
	statements map[string]BillingStatement
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{statements: make(map[string]BillingStatement)}
}

func periodKey(accountID string, start, end time.Time) string {
	return accountID + "|" + start.UTC().Format(time.RFC3339Nano) + "|" + end.UTC().Format(time.RFC3339Nano)
}

func (r *MemoryRepo) FindByPeriod(_ context.Context, accountID string, start, end time.Time) (BillingStatement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statements[periodKey(accountID, start, end)]
	if !ok {
		return BillingStatement{}, ErrNotFound
	}
	return st, nil
}

func (r *MemoryRepo) Upsert(_ context.Context, st BillingStatement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statements[periodKey(st.AccountID, st.PeriodStart, st.PeriodEnd)] = st
	return nil
}

package ledger

import (
	"context"
	"sync"
	"time"

	"outreach-platform/internal/touch"
)

// MemoryRepo is the in-memory Repository used by tests. It enforces the same
// natural-key uniqueness the Postgres constraint provides.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []UsageLedgerEntry
	byKey   map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byKey: make(map[string]int)}
}

func naturalKey(accountID, channel, provider, refID string) string {
	return accountID + "|" + channel + "|" + provider + "|" + refID
}

func (r *MemoryRepo) Insert(_ context.Context, e UsageLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := naturalKey(e.AccountID, e.Channel, e.Provider, e.RefID)
	if _, exists := r.byKey[key]; exists {
		return ErrDuplicateEntry
	}
	r.byKey[key] = len(r.entries)
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepo) FindByNaturalKey(_ context.Context, accountID string, channel touch.Channel, provider, refID string) (UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byKey[naturalKey(accountID, string(channel), provider, refID)]
	if !ok {
		return UsageLedgerEntry{}, ErrNotFound
	}
	return r.entries[idx], nil
}

func (r *MemoryRepo) ListForPeriod(_ context.Context, accountID string, start, end time.Time) ([]UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []UsageLedgerEntry
	for _, e := range r.entries {
		if e.AccountID != accountID {
			continue
		}
		if e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len reports how many entries the store holds.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

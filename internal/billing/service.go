package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"outreach-platform/internal/ledger"

	"github.com/google/uuid"
)

// Service rolls ledger rows into billing statements.
//
// Money invariants:
// - All accumulation is in integer cents; no floating point anywhere
// - A finalized statement is never recomputed; re-finalizing returns it as-is
type Service struct {
	statements Repository
	entries    LedgerReader
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// Repository abstracts statement persistence. Upsert is keyed on
// (account_id, period_start, period_end).
type Repository interface {
	FindByPeriod(ctx context.Context, accountID string, start, end time.Time) (BillingStatement, error)
	Upsert(ctx context.Context, st BillingStatement) error
}

// LedgerReader is the slice of the usage ledger the finalizer needs.
type LedgerReader interface {
	ListForPeriod(ctx context.Context, accountID string, start, end time.Time) ([]ledger.UsageLedgerEntry, error)
}

var (
	ErrInvalidArgument = errors.New("billing: invalid argument")
	ErrNotFound        = errors.New("billing: statement not found")
)

func NewService(statements Repository, entries LedgerReader) *Service {
	return &Service{statements: statements, entries: entries, clock: time.Now}
}

// FinalizeStatement aggregates an account's ledger rows with occurred_at in
// [start, end) into a finalized snapshot. Already-finalized periods come back
// unchanged, so a retried billing job can call this repeatedly.
func (s *Service) FinalizeStatement(ctx context.Context, accountID string, start, end time.Time) (BillingStatement, error) {
	if accountID == "" {
		return BillingStatement{}, fmt.Errorf("%w: account_id required", ErrInvalidArgument)
	}
	if !end.After(start) {
		return BillingStatement{}, fmt.Errorf("%w: period end must be after start", ErrInvalidArgument)
	}

	existing, err := s.statements.FindByPeriod(ctx, accountID, start, end)
	switch {
	case err == nil:
		if existing.Status == StatusFinalized {
			return existing, nil
		}
	case !errors.Is(err, ErrNotFound):
		return BillingStatement{}, err
	}

	rows, err := s.entries.ListForPeriod(ctx, accountID, start, end)
	if err != nil {
		return BillingStatement{}, err
	}

	totals, byChannel, bySource := aggregate(rows)

	now := s.clock().UTC()
	st := BillingStatement{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
		Totals:      totals,
		ByChannel:   byChannel,
		BySource:    bySource,
		Status:      StatusFinalized,
		FinalizedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing.ID != "" {
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	}

	if err := s.statements.Upsert(ctx, st); err != nil {
		return BillingStatement{}, err
	}
	return st, nil
}

// GetStatement returns the statement for an exact period key.
func (s *Service) GetStatement(ctx context.Context, accountID string, start, end time.Time) (BillingStatement, error) {
	if accountID == "" {
		return BillingStatement{}, fmt.Errorf("%w: account_id required", ErrInvalidArgument)
	}
	return s.statements.FindByPeriod(ctx, accountID, start, end)
}

// aggregate folds the period's rows in a single pass.
func aggregate(rows []ledger.UsageLedgerEntry) (StatementTotals, []StatementLine, []StatementLine) {
	var totals StatementTotals
	channels := make(map[string]*StatementLine)
	sources := make(map[string]*StatementLine)

	for _, e := range rows {
		totals.Units += e.Units
		totals.AmountCents += e.AmountCents
		accumulate(channels, e.Channel, e)
		accumulate(sources, e.Source, e)
	}
	return totals, flatten(channels), flatten(sources)
}

func accumulate(m map[string]*StatementLine, key string, e ledger.UsageLedgerEntry) {
	line, ok := m[key]
	if !ok {
		line = &StatementLine{Key: key}
		m[key] = line
	}
	line.Units += e.Units
	line.AmountCents += e.AmountCents
}

func flatten(m map[string]*StatementLine) []StatementLine {
	out := make([]StatementLine, 0, len(m))
	for _, line := range m {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

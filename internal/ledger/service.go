package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach-platform/internal/touch"

	"github.com/google/uuid"
)

// Service records exactly-once billable provider usage.
//
// Money invariants:
// - amount_cents is always derived (units * unit_cost_cents), never supplied
// - entries are append-only; duplicates resolve to the first-written row
//
// Call discipline (caller contract): record only after the provider has
// accepted the action and handed back an identifier. ref_id from a provider
// acceptance is what makes the natural key trustworthy.
type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// Repository abstracts ledger persistence. Insert must enforce the natural
// key (account_id, channel, provider, ref_id) unique and report a duplicate
// as ErrDuplicateEntry.
type Repository interface {
	Insert(ctx context.Context, e UsageLedgerEntry) error
	FindByNaturalKey(ctx context.Context, accountID string, channel touch.Channel, provider, refID string) (UsageLedgerEntry, error)
	ListForPeriod(ctx context.Context, accountID string, start, end time.Time) ([]UsageLedgerEntry, error)
}

var (
	ErrInvalidArgument = errors.New("ledger: invalid argument")
	ErrNotFound        = errors.New("ledger: entry not found")
	ErrDuplicateEntry  = errors.New("ledger: duplicate natural key")
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// UsageEventInput is the write shape for one provider-accepted event.
type UsageEventInput struct {
	AccountID string        `json:"account_id"`
	LeadID    string        `json:"lead_id,omitempty"`
	Channel   touch.Channel `json:"channel"`
	Provider  string        `json:"provider"`
	RefID     string        `json:"ref_id"`
	Source    string        `json:"source"`

	Units         int64 `json:"units"`
	UnitCostCents int64 `json:"unit_cost_cents"`

	// OccurredAt defaults to the service clock when zero.
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// RecordUsageEvent validates and inserts one ledger entry. Calling it twice
// for the same provider event returns the first-written row both times: the
// store's unique natural key turns the second insert into a fetch. Any other
// insert failure propagates unchanged.
func (s *Service) RecordUsageEvent(ctx context.Context, in UsageEventInput) (UsageLedgerEntry, error) {
	if err := validateUsageEvent(in); err != nil {
		return UsageLedgerEntry{}, err
	}

	now := s.clock().UTC()
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	entry := UsageLedgerEntry{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		LeadID:        in.LeadID,
		Channel:       string(in.Channel),
		Provider:      in.Provider,
		RefID:         in.RefID,
		Source:        in.Source,
		Units:         in.Units,
		UnitCostCents: in.UnitCostCents,
		AmountCents:   in.Units * in.UnitCostCents,
		OccurredAt:    occurredAt.UTC(),
		Meta:          in.Meta,
		CreatedAt:     now,
	}

	err := s.repo.Insert(ctx, entry)
	if errors.Is(err, ErrDuplicateEntry) {
		return s.repo.FindByNaturalKey(ctx, in.AccountID, in.Channel, in.Provider, in.RefID)
	}
	if err != nil {
		return UsageLedgerEntry{}, err
	}
	return entry, nil
}

// ListForPeriod returns an account's entries with occurred_at in [start, end).
func (s *Service) ListForPeriod(ctx context.Context, accountID string, start, end time.Time) ([]UsageLedgerEntry, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id required", ErrInvalidArgument)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: period end must be after start", ErrInvalidArgument)
	}
	return s.repo.ListForPeriod(ctx, accountID, start, end)
}

func validateUsageEvent(in UsageEventInput) error {
	if in.AccountID == "" {
		return fmt.Errorf("%w: account_id required", ErrInvalidArgument)
	}
	if !in.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidArgument, in.Channel)
	}
	if in.Provider == "" {
		return fmt.Errorf("%w: provider required", ErrInvalidArgument)
	}
	if in.RefID == "" {
		return fmt.Errorf("%w: ref_id required", ErrInvalidArgument)
	}
	if in.Source == "" {
		return fmt.Errorf("%w: source required", ErrInvalidArgument)
	}
	if in.Units <= 0 {
		return fmt.Errorf("%w: units must be > 0", ErrInvalidArgument)
	}
	if in.UnitCostCents < 0 {
		return fmt.Errorf("%w: unit_cost_cents must be >= 0", ErrInvalidArgument)
	}
	if in.Channel == touch.ChannelVoice && in.Units > MaxVoiceUnits {
		return fmt.Errorf("%w: voice units %d exceed cap %d", ErrInvalidArgument, in.Units, MaxVoiceUnits)
	}
	return nil
}

package billing

import "time"

const (
	StatusDraft     = "draft"
	StatusFinalized = "finalized"
)

// StatementTotals is the running aggregate over one statement's ledger rows.
type StatementTotals struct {
	Units       int64 `json:"units"`
	AmountCents int64 `json:"amount_cents"`
}

// StatementLine is one grouped slice of a statement (per channel or source).
type StatementLine struct {
	Key         string `json:"key"`
	Units       int64  `json:"units"`
	AmountCents int64  `json:"amount_cents"`
}

// BillingStatement is the finalized snapshot for one account and period.
// The key (account_id, period_start, period_end) is unique in the store, and
// a finalized row is treated as immutable by everything downstream.
type BillingStatement struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	Totals    StatementTotals `json:"totals"`
	ByChannel []StatementLine `json:"by_channel"`
	BySource  []StatementLine `json:"by_source"`

	Status      string     `json:"status"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package ledger

import "time"

// UsageLedgerEntry is one immutable billed unit of provider usage.
// Rows are append-only: nothing updates or deletes them after insert, and the
// natural key (account_id, channel, provider, ref_id) is unique in the store.
type UsageLedgerEntry struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	LeadID    string `json:"lead_id,omitempty"`

	Channel  string `json:"channel"`
	Provider string `json:"provider"`

	// RefID is the provider's own acceptance identifier (message id, call id).
	// It anchors the idempotency key, so entries exist only for events the
	// provider has actually accepted.
	RefID string `json:"ref_id"`

	// Source names the internal caller that recorded the event.
	Source string `json:"source"`

	// Units is channel-specific: seconds for voice, messages otherwise.
	Units         int64 `json:"units"`
	UnitCostCents int64 `json:"unit_cost_cents"`

	// AmountCents is always derived as units * unit_cost_cents.
	AmountCents int64 `json:"amount_cents"`

	OccurredAt time.Time      `json:"occurred_at"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

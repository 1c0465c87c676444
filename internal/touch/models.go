package touch

import "time"

// TouchRun represents one scheduled or executed contact attempt with a lead.
//
// Multi-tenant invariant: AccountID is required on every row.
//
// Lifecycle invariant: status only moves queued -> executing -> {sent|canceled|failed}.
// A run never returns to queued and rows are never deleted; failed runs stay
// as audit trail and the next cadence step is a new row.
//
// Payload is written once at enqueue time and embeds a frozen snapshot of the
// fallback policy, so later campaign edits never retouch in-flight runs.
// Meta is an append-only execution trace: writers merge keys, never replace
// the whole document.
type TouchRun struct {
	ID         string `json:"id" db:"id"`
	AccountID  string `json:"account_id" db:"account_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`

	Channel      Channel `json:"channel" db:"channel"`
	Step         int     `json:"step" db:"step"`
	MessageClass string  `json:"message_class" db:"message_class"`

	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty" db:"executed_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ExecutionMS int64      `json:"execution_ms" db:"execution_ms"`

	Status     Status `json:"status" db:"status"`
	RetryCount int    `json:"retry_count" db:"retry_count"`
	MaxRetries int    `json:"max_retries" db:"max_retries"`
	Error      string `json:"error,omitempty" db:"error"`

	Payload map[string]any `json:"payload" db:"payload"`
	Meta    map[string]any `json:"meta,omitempty" db:"meta"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusSent      Status = "sent"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

type Channel string

const (
	ChannelVoice    Channel = "voice"
	ChannelWhatsapp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelVoice, ChannelWhatsapp, ChannelSMS, ChannelEmail:
		return true
	default:
		return false
	}
}

// RequiresPhone reports whether the channel delivers to a phone number.
func (c Channel) RequiresPhone() bool {
	switch c {
	case ChannelVoice, ChannelWhatsapp, ChannelSMS:
		return true
	default:
		return false
	}
}

package cadence

import (
	"fmt"
	"time"

	"outreach-platform/internal/touch"

	"github.com/google/uuid"
)

// Lead is the contactable shape of a lead. Intake, scoring and enrichment are
// external; the routing model only checks that the lead can be reached on the
// channel the cadence picked.
type Lead struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`

	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`

	DoNotContact bool `json:"do_not_contact,omitempty"`
}

// Options tunes a single render without touching the strategy.
type Options struct {
	DryRun    bool
	Variables map[string]string

	// ScheduleAt overrides the computed schedule (cooldown for next steps).
	// Zero means "use the builder's clock".
	ScheduleAt time.Time
}

// payloadExpiry bounds how long a queued touch stays eligible. Stale cadence
// entries past this horizon are noise, not outreach.
const payloadExpiry = 30 * 24 * time.Hour

// Builder synthesizes TouchRun rows from a strategy. It is the only place new
// cadence entries come from; the dispatch engine consumes rows but never
// creates them.
type Builder struct {
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{clock: time.Now}
}

// RenderPayload produces the immutable payload for one touch step.
// The fallback matrix is copied in (frozen), so campaign edits after enqueue
// never alter this touch's routing.
func (b *Builder) RenderPayload(s CampaignStrategy, lead Lead, step int, opts Options) (map[string]any, error) {
	ch, err := s.ChannelForStep(step)
	if err != nil {
		return nil, err
	}
	if err := validateRoutable(lead, ch); err != nil {
		return nil, err
	}

	now := b.clock().UTC()

	order := make([]string, len(s.Channels))
	for i, c := range s.Channels {
		order[i] = string(c)
	}
	attempts := make(map[string]int, len(s.MaxAttempts))
	for c, n := range s.MaxAttempts {
		attempts[string(c)] = n
	}
	cooldowns := make(map[string]int, len(s.CooldownMinutes))
	for c, n := range s.CooldownMinutes {
		cooldowns[string(c)] = n
	}

	variables := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"company":    lead.Company,
	}
	for k, v := range opts.Variables {
		variables[k] = v
	}

	payload := map[string]any{
		"template_key":  s.TemplateFor(ch),
		"channel":       string(ch),
		"step":          step,
		"message_class": s.MessageClass,
		"variables":     variables,
		"fallback": map[string]any{
			"order":            order,
			"max_attempts":     attempts,
			"cooldown_minutes": cooldowns,
			"stop_on_events":   append([]string(nil), s.StopOnEvents...),
		},
		"expires_at": now.Add(payloadExpiry).Format(time.RFC3339),
		"dry_run":    opts.DryRun,
	}
	return payload, nil
}

// BuildFirstTouchRun builds step 1 of a cadence, queued and immediately due.
func (b *Builder) BuildFirstTouchRun(s CampaignStrategy, lead Lead, opts Options) (touch.TouchRun, error) {
	return b.buildTouchRun(s, lead, 1, opts, true)
}

// BuildNextTouchRun builds the follow-up step after a failed or unanswered
// touch, scheduled past the next channel's cooldown window. This is the
// caller-level retry layer; the dispatch engine itself never re-queues.
func (b *Builder) BuildNextTouchRun(s CampaignStrategy, lead Lead, step int, opts Options) (touch.TouchRun, error) {
	if step < 2 {
		return touch.TouchRun{}, fmt.Errorf("%w: next step must be >= 2", ErrInvalidCampaign)
	}
	return b.buildTouchRun(s, lead, step, opts, false)
}

func (b *Builder) buildTouchRun(s CampaignStrategy, lead Lead, step int, opts Options, immediate bool) (touch.TouchRun, error) {
	if lead.ID == "" || lead.AccountID == "" {
		return touch.TouchRun{}, fmt.Errorf("%w: lead id and account_id required", ErrInvalidCampaign)
	}
	if lead.AccountID != s.AccountID {
		return touch.TouchRun{}, fmt.Errorf("%w: lead and campaign belong to different accounts", ErrInvalidCampaign)
	}
	if lead.DoNotContact {
		return touch.TouchRun{}, fmt.Errorf("%w: lead is flagged do-not-contact", ErrLeadNotRoutable)
	}

	payload, err := b.RenderPayload(s, lead, step, opts)
	if err != nil {
		return touch.TouchRun{}, err
	}
	ch, err := s.ChannelForStep(step)
	if err != nil {
		return touch.TouchRun{}, err
	}

	now := b.clock().UTC()
	scheduledAt := opts.ScheduleAt
	if scheduledAt.IsZero() {
		if immediate {
			// Slightly in the past so the run is claimable on the very next poll.
			scheduledAt = now.Add(-time.Second)
		} else {
			scheduledAt = now.Add(time.Duration(s.CooldownMinutes[ch]) * time.Minute)
		}
	}

	return touch.TouchRun{
		ID:           uuid.NewString(),
		AccountID:    lead.AccountID,
		LeadID:       lead.ID,
		CampaignID:   s.CampaignID,
		Channel:      ch,
		Step:         step,
		MessageClass: s.MessageClass,
		ScheduledAt:  scheduledAt,
		Status:       touch.StatusQueued,
		MaxRetries:   s.MaxAttempts[ch],
		Payload:      payload,
		Meta:         map[string]any{"enqueued_by": "cadence"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func validateRoutable(lead Lead, ch touch.Channel) error {
	if ch.RequiresPhone() && lead.Phone == "" {
		return fmt.Errorf("%w: %s requires a phone number", ErrLeadNotRoutable, ch)
	}
	if ch == touch.ChannelEmail && lead.Email == "" {
		return fmt.Errorf("%w: email requires an address", ErrLeadNotRoutable)
	}
	return nil
}

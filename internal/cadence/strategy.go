package cadence

import (
	"errors"
	"fmt"

	"outreach-platform/internal/touch"
)

// Campaign is the minimal campaign shape the routing model needs.
// It is provided by the campaign management collaborator; only the fields
// that influence channel fallback and rendering appear here.
type Campaign struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	MessageClass string `json:"message_class"`

	// PrimaryChannel promotes one channel to the front of the default order.
	// FallbackChannels, when set, replaces the order entirely.
	PrimaryChannel   touch.Channel   `json:"primary_channel,omitempty"`
	FallbackChannels []touch.Channel `json:"fallback_channels,omitempty"`

	// Per-channel overrides; zero values fall back to the baseline policy.
	MaxAttempts     map[touch.Channel]int `json:"max_attempts,omitempty"`
	CooldownMinutes map[touch.Channel]int `json:"cooldown_minutes,omitempty"`

	StopOnEvents []string `json:"stop_on_events,omitempty"`

	TemplateKey      string                   `json:"template_key,omitempty"`
	ChannelTemplates map[touch.Channel]string `json:"channel_templates,omitempty"`
}

// CampaignStrategy is the resolved fallback policy for one campaign.
// It is a value: renderers copy it into each payload so in-flight touches
// keep the policy they were created under.
type CampaignStrategy struct {
	CampaignID   string `json:"campaign_id"`
	AccountID    string `json:"account_id"`
	MessageClass string `json:"message_class"`

	Channels        []touch.Channel       `json:"channels"`
	MaxAttempts     map[touch.Channel]int `json:"max_attempts"`
	CooldownMinutes map[touch.Channel]int `json:"cooldown_minutes"`
	StopOnEvents    []string              `json:"stop_on_events"`

	TemplateKey      string                   `json:"template_key"`
	ChannelTemplates map[touch.Channel]string `json:"channel_templates,omitempty"`
}

var (
	ErrInvalidCampaign  = errors.New("cadence: invalid campaign")
	ErrLeadNotRoutable  = errors.New("cadence: lead not routable on channel")
	ErrCadenceExhausted = errors.New("cadence: no steps remaining")
)

// Baseline policy: voice first (a human answer beats any message), then the
// cheaper message channels in descending reply-rate order.
var (
	defaultChannelOrder = []touch.Channel{touch.ChannelVoice, touch.ChannelWhatsapp, touch.ChannelSMS, touch.ChannelEmail}

	defaultMaxAttempts = map[touch.Channel]int{
		touch.ChannelVoice:    1,
		touch.ChannelWhatsapp: 3,
		touch.ChannelSMS:      2,
		touch.ChannelEmail:    3,
	}

	defaultCooldownMinutes = map[touch.Channel]int{
		touch.ChannelVoice:    60,
		touch.ChannelWhatsapp: 240,
		touch.ChannelSMS:      120,
		touch.ChannelEmail:    1440,
	}

	defaultStopEvents = []string{"positive_reply", "appointment_booked", "do_not_contact"}
)

const defaultMessageClass = "outreach"

// DefaultTemplateKey is the message-class fallback used when a campaign
// carries no template of its own.
func DefaultTemplateKey(messageClass string) string {
	if messageClass == "" {
		messageClass = defaultMessageClass
	}
	return fmt.Sprintf("%s_default", messageClass)
}

// BuildStrategy resolves a campaign into a concrete fallback policy:
// ordered channel list, per-channel attempt caps and cooldowns, stop events
// and template key, with the baseline filling everything the campaign leaves
// unset.
func BuildStrategy(c Campaign) (CampaignStrategy, error) {
	if c.ID == "" || c.AccountID == "" {
		return CampaignStrategy{}, fmt.Errorf("%w: id and account_id required", ErrInvalidCampaign)
	}

	messageClass := c.MessageClass
	if messageClass == "" {
		messageClass = defaultMessageClass
	}

	channels, err := resolveChannelOrder(c)
	if err != nil {
		return CampaignStrategy{}, err
	}

	attempts := make(map[touch.Channel]int, len(channels))
	cooldowns := make(map[touch.Channel]int, len(channels))
	for _, ch := range channels {
		attempts[ch] = defaultMaxAttempts[ch]
		if n, ok := c.MaxAttempts[ch]; ok {
			if n <= 0 {
				return CampaignStrategy{}, fmt.Errorf("%w: max_attempts for %s must be > 0", ErrInvalidCampaign, ch)
			}
			attempts[ch] = n
		}
		cooldowns[ch] = defaultCooldownMinutes[ch]
		if n, ok := c.CooldownMinutes[ch]; ok {
			if n < 0 {
				return CampaignStrategy{}, fmt.Errorf("%w: cooldown_minutes for %s must be >= 0", ErrInvalidCampaign, ch)
			}
			cooldowns[ch] = n
		}
	}

	stopEvents := c.StopOnEvents
	if len(stopEvents) == 0 {
		stopEvents = append([]string(nil), defaultStopEvents...)
	}

	templateKey := c.TemplateKey
	if templateKey == "" {
		templateKey = DefaultTemplateKey(messageClass)
	}

	var channelTemplates map[touch.Channel]string
	if len(c.ChannelTemplates) > 0 {
		channelTemplates = make(map[touch.Channel]string, len(c.ChannelTemplates))
		for ch, key := range c.ChannelTemplates {
			channelTemplates[ch] = key
		}
	}

	return CampaignStrategy{
		CampaignID:       c.ID,
		AccountID:        c.AccountID,
		MessageClass:     messageClass,
		Channels:         channels,
		MaxAttempts:      attempts,
		CooldownMinutes:  cooldowns,
		StopOnEvents:     stopEvents,
		TemplateKey:      templateKey,
		ChannelTemplates: channelTemplates,
	}, nil
}

func resolveChannelOrder(c Campaign) ([]touch.Channel, error) {
	if len(c.FallbackChannels) > 0 {
		seen := make(map[touch.Channel]struct{}, len(c.FallbackChannels))
		out := make([]touch.Channel, 0, len(c.FallbackChannels))
		for _, ch := range c.FallbackChannels {
			if !ch.Valid() {
				return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidCampaign, ch)
			}
			if _, dup := seen[ch]; dup {
				return nil, fmt.Errorf("%w: duplicate channel %q", ErrInvalidCampaign, ch)
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
		return out, nil
	}

	order := append([]touch.Channel(nil), defaultChannelOrder...)
	if c.PrimaryChannel == "" {
		return order, nil
	}
	if !c.PrimaryChannel.Valid() {
		return nil, fmt.Errorf("%w: unknown primary channel %q", ErrInvalidCampaign, c.PrimaryChannel)
	}
	out := []touch.Channel{c.PrimaryChannel}
	for _, ch := range order {
		if ch != c.PrimaryChannel {
			out = append(out, ch)
		}
	}
	return out, nil
}

// ChannelForStep maps a 1-based cadence step onto the fallback matrix:
// each channel absorbs its max_attempts worth of steps before escalating.
func (s CampaignStrategy) ChannelForStep(step int) (touch.Channel, error) {
	if step < 1 {
		return "", fmt.Errorf("%w: step must be >= 1", ErrInvalidCampaign)
	}
	remaining := step
	for _, ch := range s.Channels {
		limit := s.MaxAttempts[ch]
		if limit <= 0 {
			limit = 1
		}
		if remaining <= limit {
			return ch, nil
		}
		remaining -= limit
	}
	return "", ErrCadenceExhausted
}

// TotalSteps is the attempt budget across the whole matrix.
func (s CampaignStrategy) TotalSteps() int {
	total := 0
	for _, ch := range s.Channels {
		limit := s.MaxAttempts[ch]
		if limit <= 0 {
			limit = 1
		}
		total += limit
	}
	return total
}

// TemplateFor returns the channel-specific template when one exists.
func (s CampaignStrategy) TemplateFor(ch touch.Channel) string {
	if key, ok := s.ChannelTemplates[ch]; ok && key != "" {
		return key
	}
	return s.TemplateKey
}

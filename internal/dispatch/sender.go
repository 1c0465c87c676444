package dispatch

import (
	"context"
	"errors"
	"fmt"

	"outreach-platform/internal/touch"
)

// Invocation is the minimal contract handed to a channel sender.
type Invocation struct {
	TouchRunID string        `json:"touch_run_id"`
	LeadID     string        `json:"lead_id"`
	AccountID  string        `json:"account_id"`
	Step       int           `json:"step"`
	Channel    touch.Channel `json:"channel"`
	DryRun     bool          `json:"dry_run"`
}

// SendResult is a sender's acceptance echo. RefID is the provider's own
// identifier for the accepted action; it anchors ledger idempotency, so a
// billable result without one is a sender bug.
type SendResult struct {
	Provider string `json:"provider"`
	RefID    string `json:"ref_id,omitempty"`

	// Billable units (seconds for voice, messages otherwise) and the rate the
	// provider quoted. Zero units means nothing billable happened.
	Units         int64 `json:"units,omitempty"`
	UnitCostCents int64 `json:"unit_cost_cents,omitempty"`

	// Raw is the provider response echo, merged into the touch meta.
	Raw map[string]any `json:"raw,omitempty"`
}

// Billable reports whether the result carries a chargeable provider event.
func (r SendResult) Billable() bool {
	return r.Units > 0 && r.RefID != ""
}

// Sender delivers one touch over one channel. Implementations own their own
// request timeouts; the engine imposes no deadline of its own.
type Sender interface {
	Send(ctx context.Context, inv Invocation) (SendResult, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, inv Invocation) (SendResult, error)

func (f SenderFunc) Send(ctx context.Context, inv Invocation) (SendResult, error) {
	return f(ctx, inv)
}

var ErrNoSender = errors.New("dispatch: no sender for channel")

// Registry maps channels to senders, with an optional default for channels
// that have no dedicated mapping.
type Registry struct {
	senders       map[touch.Channel]Sender
	defaultSender Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[touch.Channel]Sender)}
}

// Register binds a sender to a channel, replacing any previous binding.
func (r *Registry) Register(ch touch.Channel, s Sender) *Registry {
	r.senders[ch] = s
	return r
}

// RegisterDefault binds the fallback sender used for unmapped channels.
func (r *Registry) RegisterDefault(s Sender) *Registry {
	r.defaultSender = s
	return r
}

// Resolve returns the sender for a channel, falling back to the default.
func (r *Registry) Resolve(ch touch.Channel) (Sender, error) {
	if s, ok := r.senders[ch]; ok {
		return s, nil
	}
	if r.defaultSender != nil {
		return r.defaultSender, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSender, ch)
}

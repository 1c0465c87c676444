package cadence

import (
	"errors"
	"testing"

	"outreach-platform/internal/touch"
)

func TestBuildStrategy_Defaults(t *testing.T) {
	s, err := BuildStrategy(Campaign{ID: "camp-1", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := []touch.Channel{touch.ChannelVoice, touch.ChannelWhatsapp, touch.ChannelSMS, touch.ChannelEmail}
	if len(s.Channels) != len(want) {
		t.Fatalf("expected %d channels, got %d", len(want), len(s.Channels))
	}
	for i, ch := range want {
		if s.Channels[i] != ch {
			t.Fatalf("channel %d: expected %s, got %s", i, ch, s.Channels[i])
		}
	}
	if s.MaxAttempts[touch.ChannelVoice] != 1 || s.MaxAttempts[touch.ChannelWhatsapp] != 3 ||
		s.MaxAttempts[touch.ChannelSMS] != 2 || s.MaxAttempts[touch.ChannelEmail] != 3 {
		t.Fatalf("unexpected attempt caps: %+v", s.MaxAttempts)
	}
	if s.TemplateKey != "outreach_default" {
		t.Fatalf("expected message-class default template, got %q", s.TemplateKey)
	}
	if len(s.StopOnEvents) == 0 {
		t.Fatalf("expected default stop events")
	}
}

func TestBuildStrategy_PrimaryChannelPromoted(t *testing.T) {
	s, err := BuildStrategy(Campaign{ID: "camp-1", AccountID: "acct-1", PrimaryChannel: touch.ChannelSMS})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Channels[0] != touch.ChannelSMS {
		t.Fatalf("expected sms first, got %s", s.Channels[0])
	}
	if len(s.Channels) != 4 {
		t.Fatalf("expected 4 channels total, got %d", len(s.Channels))
	}
}

func TestBuildStrategy_RejectsBadOverrides(t *testing.T) {
	_, err := BuildStrategy(Campaign{
		ID:          "camp-1",
		AccountID:   "acct-1",
		MaxAttempts: map[touch.Channel]int{touch.ChannelSMS: 0},
	})
	if !errors.Is(err, ErrInvalidCampaign) {
		t.Fatalf("expected ErrInvalidCampaign, got %v", err)
	}

	_, err = BuildStrategy(Campaign{
		ID:               "camp-1",
		AccountID:        "acct-1",
		FallbackChannels: []touch.Channel{"fax"},
	})
	if !errors.Is(err, ErrInvalidCampaign) {
		t.Fatalf("expected ErrInvalidCampaign for unknown channel, got %v", err)
	}
}

func TestBuildStrategy_RequiresIdentity(t *testing.T) {
	if _, err := BuildStrategy(Campaign{AccountID: "acct-1"}); !errors.Is(err, ErrInvalidCampaign) {
		t.Fatalf("expected ErrInvalidCampaign for missing id, got %v", err)
	}
}

func TestChannelForStep_WalksAttemptBudget(t *testing.T) {
	s, err := BuildStrategy(Campaign{ID: "camp-1", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Caps: voice 1, whatsapp 3, sms 2, email 3 -> steps 1..9.
	cases := map[int]touch.Channel{
		1: touch.ChannelVoice,
		2: touch.ChannelWhatsapp,
		4: touch.ChannelWhatsapp,
		5: touch.ChannelSMS,
		6: touch.ChannelSMS,
		7: touch.ChannelEmail,
		9: touch.ChannelEmail,
	}
	for step, want := range cases {
		got, err := s.ChannelForStep(step)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if got != want {
			t.Fatalf("step %d: expected %s, got %s", step, want, got)
		}
	}

	if _, err := s.ChannelForStep(10); !errors.Is(err, ErrCadenceExhausted) {
		t.Fatalf("expected ErrCadenceExhausted past budget, got %v", err)
	}
	if s.TotalSteps() != 9 {
		t.Fatalf("expected budget 9, got %d", s.TotalSteps())
	}
}

func TestTemplateFor_PrefersChannelOverride(t *testing.T) {
	s, err := BuildStrategy(Campaign{
		ID:               "camp-1",
		AccountID:        "acct-1",
		TemplateKey:      "spring_promo",
		ChannelTemplates: map[touch.Channel]string{touch.ChannelVoice: "spring_promo_call_script"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := s.TemplateFor(touch.ChannelVoice); got != "spring_promo_call_script" {
		t.Fatalf("expected channel override, got %q", got)
	}
	if got := s.TemplateFor(touch.ChannelSMS); got != "spring_promo" {
		t.Fatalf("expected campaign template, got %q", got)
	}
}

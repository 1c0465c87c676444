package ledger

import "outreach-platform/internal/touch"

// Baseline per-unit rates in integer cents. Voice is priced per second, the
// message channels per message. Callers with provider-negotiated rates pass
// their own unit cost; these defaults cover the common provider mix.
var defaultUnitCostCents = map[touch.Channel]int64{
	touch.ChannelVoice:    2,
	touch.ChannelWhatsapp: 4,
	touch.ChannelSMS:      5,
	touch.ChannelEmail:    0,
}

// DefaultUnitCostCents returns the baseline rate for a channel. Unknown
// channels price at zero; validation elsewhere rejects them before billing.
func DefaultUnitCostCents(ch touch.Channel) int64 {
	return defaultUnitCostCents[ch]
}

// MaxVoiceUnits caps billed voice seconds per event. Two hours of billed
// audio from a single call means a malformed payload, not a real charge.
const MaxVoiceUnits = 7200

package channels

import (
	"context"
	"fmt"

	"outreach-platform/internal/dispatch"
)

// SimulatedSender fabricates a provider acceptance without touching any
// provider. It backs local development and the default sender slot in
// environments with no gateway configured. Results carry zero units, so
// nothing a simulated send does ever reaches the ledger.
type SimulatedSender struct{}

func NewSimulatedSender() *SimulatedSender {
	return &SimulatedSender{}
}

func (s *SimulatedSender) Send(_ context.Context, inv dispatch.Invocation) (dispatch.SendResult, error) {
	return dispatch.SendResult{
		Provider: "simulated",
		RefID:    fmt.Sprintf("sim-%s", inv.TouchRunID),
		Raw: map[string]any{
			"simulated": true,
			"channel":   string(inv.Channel),
			"step":      inv.Step,
		},
	}, nil
}

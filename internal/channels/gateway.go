package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outreach-platform/internal/config"
	"outreach-platform/internal/dispatch"
)

// GatewaySender delivers touches through the provider gateway's HTTP API.
// One gateway fronts all channels; the channel rides in the request path.
//
// Rules:
// - No provider SDK calls outside channel adapters.
// - The gateway's own request timeout is the only deadline on a send.
type GatewaySender struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewGatewaySender(cfg config.ProviderConfig) *GatewaySender {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewaySender{
		baseURL: cfg.GatewayBaseURL,
		apiKey:  cfg.GatewayAPIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type gatewayResponse struct {
	Provider      string         `json:"provider"`
	RefID         string         `json:"ref_id"`
	Units         int64          `json:"units"`
	UnitCostCents int64          `json:"unit_cost_cents"`
	Raw           map[string]any `json:"raw,omitempty"`

	Error string `json:"error,omitempty"`
}

// Send posts the invocation to POST <base>/v1/send/<channel>. A non-2xx
// response is a sender error; the body's error text is preserved when the
// gateway provides one.
func (s *GatewaySender) Send(ctx context.Context, inv dispatch.Invocation) (dispatch.SendResult, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return dispatch.SendResult{}, fmt.Errorf("channels: marshal invocation: %w", err)
	}

	url := fmt.Sprintf("%s/v1/send/%s", s.baseURL, inv.Channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dispatch.SendResult{}, fmt.Errorf("channels: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return dispatch.SendResult{}, fmt.Errorf("channels: gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dispatch.SendResult{}, fmt.Errorf("channels: read gateway response: %w", err)
	}

	var gw gatewayResponse
	if len(raw) > 0 {
		// A malformed body on a 2xx is still a failure; the engine needs the
		// ref_id to trust the send happened.
		if jsonErr := json.Unmarshal(raw, &gw); jsonErr != nil && resp.StatusCode < 300 {
			return dispatch.SendResult{}, fmt.Errorf("channels: decode gateway response: %w", jsonErr)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if gw.Error != "" {
			return dispatch.SendResult{}, fmt.Errorf("channels: gateway rejected send: %s", gw.Error)
		}
		return dispatch.SendResult{}, fmt.Errorf("channels: gateway returned status %d", resp.StatusCode)
	}

	return dispatch.SendResult{
		Provider:      gw.Provider,
		RefID:         gw.RefID,
		Units:         gw.Units,
		UnitCostCents: gw.UnitCostCents,
		Raw:           gw.Raw,
	}, nil
}

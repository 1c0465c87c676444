package cadence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StrategyCache keeps built strategies warm per campaign. It is a pure
// read-through optimization: a miss or a Redis outage falls back to
// BuildStrategy, never to a dispatch failure. Frozen payload snapshots mean a
// stale cached strategy only affects touches not yet built.
type StrategyCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStrategyCache(rdb *redis.Client, ttl time.Duration) *StrategyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StrategyCache{rdb: rdb, ttl: ttl}
}

func strategyKey(campaignID string) string {
	return "cadence:strategy:" + campaignID
}

// Get returns the cached strategy for a campaign, if present.
func (c *StrategyCache) Get(ctx context.Context, campaignID string) (CampaignStrategy, bool, error) {
	if c.rdb == nil || campaignID == "" {
		return CampaignStrategy{}, false, nil
	}
	raw, err := c.rdb.Get(ctx, strategyKey(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CampaignStrategy{}, false, nil
	}
	if err != nil {
		return CampaignStrategy{}, false, fmt.Errorf("strategy cache get: %w", err)
	}
	var s CampaignStrategy
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt entry is treated as a miss; the next Set repairs it.
		return CampaignStrategy{}, false, nil
	}
	return s, true, nil
}

// Set stores a built strategy under its campaign id.
func (c *StrategyCache) Set(ctx context.Context, s CampaignStrategy) error {
	if c.rdb == nil {
		return nil
	}
	if s.CampaignID == "" {
		return fmt.Errorf("%w: campaign_id required", ErrInvalidCampaign)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("strategy cache marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, strategyKey(s.CampaignID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("strategy cache set: %w", err)
	}
	return nil
}

// Invalidate drops a campaign's cached strategy after a policy edit.
func (c *StrategyCache) Invalidate(ctx context.Context, campaignID string) error {
	if c.rdb == nil || campaignID == "" {
		return nil
	}
	return c.rdb.Del(ctx, strategyKey(campaignID)).Err()
}

// Resolve returns the campaign's strategy, building and caching on miss.
func (c *StrategyCache) Resolve(ctx context.Context, campaign Campaign) (CampaignStrategy, error) {
	if s, ok, err := c.Get(ctx, campaign.ID); err == nil && ok {
		return s, nil
	}
	s, err := BuildStrategy(campaign)
	if err != nil {
		return CampaignStrategy{}, err
	}
	// Cache write failures are not fatal; the strategy is already in hand.
	_ = c.Set(ctx, s)
	return s, nil
}

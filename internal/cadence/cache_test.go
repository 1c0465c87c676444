package cadence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testCache(t *testing.T) (*StrategyCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStrategyCache(rdb, time.Minute), mr
}

func TestStrategyCache_SetGet(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	s := testStrategy(t)

	if _, ok, err := cache.Get(ctx, s.CampaignID); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, s); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := cache.Get(ctx, s.CampaignID)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.CampaignID != s.CampaignID || got.TemplateKey != s.TemplateKey {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.MaxAttempts["whatsapp"] != 3 {
		t.Fatalf("attempt caps lost in cache: %v", got.MaxAttempts)
	}
}

func TestStrategyCache_CorruptEntryIsMiss(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	mr.Set(strategyKey("camp-1"), "{not json")

	if _, ok, err := cache.Get(ctx, "camp-1"); err != nil || ok {
		t.Fatalf("corrupt entry should read as miss, got ok=%v err=%v", ok, err)
	}
}

func TestStrategyCache_Invalidate(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()
	s := testStrategy(t)

	if err := cache.Set(ctx, s); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.Invalidate(ctx, s.CampaignID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, s.CampaignID); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestStrategyCache_ResolveBuildsAndCaches(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	campaign := Campaign{ID: "camp-9", AccountID: "acct-1", TemplateKey: "renewal"}

	s, err := cache.Resolve(ctx, campaign)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.TemplateKey != "renewal" {
		t.Fatalf("unexpected template: %q", s.TemplateKey)
	}

	// Second resolve must hit the cache even if the campaign record changed.
	campaign.TemplateKey = "renewal_v2"
	again, err := cache.Resolve(ctx, campaign)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again.TemplateKey != "renewal" {
		t.Fatalf("expected cached strategy, got %q", again.TemplateKey)
	}

	if err := cache.Invalidate(ctx, campaign.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	fresh, err := cache.Resolve(ctx, campaign)
	if err != nil {
		t.Fatalf("resolve fresh: %v", err)
	}
	if fresh.TemplateKey != "renewal_v2" {
		t.Fatalf("expected rebuilt strategy after invalidate, got %q", fresh.TemplateKey)
	}
}

func TestStrategyCache_NilClientFallsThrough(t *testing.T) {
	cache := NewStrategyCache(nil, 0)
	ctx := context.Background()

	s, err := cache.Resolve(ctx, Campaign{ID: "camp-1", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("resolve without redis: %v", err)
	}
	if s.CampaignID != "camp-1" {
		t.Fatalf("unexpected strategy: %+v", s)
	}
}

package marketdata

import (
	"testing"
	"time"

	"tradingcore/pkg/types"
)

func TestSnapshotCacheHitWithinTTL(t *testing.T) {
	t.Parallel()
	c := NewSnapshotCache(time.Minute)
	now := time.Now()

	c.Put("BTCUSDT:15m", types.MarketSnapshot{Symbol: "BTCUSDT"}, now)

	got, ok := c.Get("BTCUSDT:15m", now.Add(30*time.Second))
	if !ok {
		t.Fatal("expected cache hit within TTL")
	}
	if got.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", got.Symbol)
	}
}

func TestSnapshotCacheMissAfterTTL(t *testing.T) {
	t.Parallel()
	c := NewSnapshotCache(time.Minute)
	now := time.Now()

	c.Put("BTCUSDT:15m", types.MarketSnapshot{Symbol: "BTCUSDT"}, now)

	if _, ok := c.Get("BTCUSDT:15m", now.Add(2*time.Minute)); ok {
		t.Error("expected cache miss after TTL expiry")
	}
}

func TestSnapshotCacheHitRateTracksLookups(t *testing.T) {
	t.Parallel()
	c := NewSnapshotCache(time.Minute)
	now := time.Now()

	c.Put("k", types.MarketSnapshot{}, now)
	c.Get("k", now)         // hit
	c.Get("missing", now)   // miss

	if rate := c.HitRate(); rate != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", rate)
	}
}

func TestSnapshotCacheHitRateZeroWithNoLookups(t *testing.T) {
	t.Parallel()
	c := NewSnapshotCache(time.Minute)
	if rate := c.HitRate(); rate != 0 {
		t.Errorf("HitRate() = %v, want 0", rate)
	}
}

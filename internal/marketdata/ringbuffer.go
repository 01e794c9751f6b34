// Package marketdata owns candle history, tick ingestion, indicator
// computation, and the immutable per-cycle MarketSnapshot every other
// component reads (spec §4.3). The ring buffer's RWMutex-guarded
// snapshot-replace pattern is grounded on the teacher's market.Book
// (internal/market/book.go): readers never block writers for long, and a
// snapshot is always a consistent point-in-time copy, never a partial
// update observed mid-write.
package marketdata

import (
	"sync"
	"time"

	"tradingcore/pkg/types"
)

// RingBuffer holds the most recent candles for one symbol/timeframe, up to
// a fixed capacity (spec §4.3: warmup_candles, default 200).
type RingBuffer struct {
	mu       sync.RWMutex
	capacity int
	candles  []types.Candle // oldest first; len <= capacity
}

// NewRingBuffer creates a buffer holding at most capacity candles.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &RingBuffer{capacity: capacity, candles: make([]types.Candle, 0, capacity)}
}

// Append adds a new candle, evicting the oldest if at capacity. If the new
// candle shares OpenTime with the current last candle, it replaces it
// instead of appending (an in-progress bar being updated by WS ticks).
func (r *RingBuffer) Append(c types.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.candles); n > 0 && r.candles[n-1].OpenTime.Equal(c.OpenTime) {
		r.candles[n-1] = c
		return
	}

	r.candles = append(r.candles, c)
	if len(r.candles) > r.capacity {
		r.candles = r.candles[len(r.candles)-r.capacity:]
	}
}

// Snapshot returns a copy of all held candles, oldest first.
func (r *RingBuffer) Snapshot() []types.Candle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Candle, len(r.candles))
	copy(out, r.candles)
	return out
}

// Len returns the number of candles currently held.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candles)
}

// Last returns the most recent candle and whether one exists.
func (r *RingBuffer) Last() (types.Candle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.candles) == 0 {
		return types.Candle{}, false
	}
	return r.candles[len(r.candles)-1], true
}

// GapSince reports the duration between the last candle's close and now,
// used to detect feed gaps (spec §4.3 gap_pause_minutes/gap_alert_minutes).
func (r *RingBuffer) GapSince(now time.Time) (time.Duration, bool) {
	last, ok := r.Last()
	if !ok {
		return 0, false
	}
	return now.Sub(last.ExchangeTimestamp), true
}

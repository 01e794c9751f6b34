// service.go wires ring buffers, the WebSocket tick feed, REST backfill,
// and the snapshot cache into the Market Data Service (spec §4.3). One
// Service instance serves every configured symbol.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/config"
	"tradingcore/internal/errkind"
	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

// Service owns one RingBuffer per symbol and produces the immutable
// MarketSnapshot the advisor prompt builder and risk manager read from.
type Service struct {
	cfg     config.MarketDataConfig
	wsStale time.Duration
	oiStale time.Duration

	gw     exchange.Gateway
	ws     *exchange.WSFeed
	cache  *SnapshotCache
	alerts alert.Emitter
	logger *slog.Logger

	buffersMu sync.RWMutex
	buffers   map[string]*RingBuffer

	oiMu         sync.RWMutex
	openInterest map[string]decimal.Decimal
	fundingRate  map[string]decimal.Decimal
	oiFetchedAt  map[string]time.Time

	lastTickMu sync.RWMutex
	lastTick   map[string]exchange.Tick
}

// NewService builds a Market Data Service. gw serves REST backfill reads;
// ws streams live ticks/fills (tick ingestion is wired via
// RunTickIngestion).
func NewService(cfg config.MarketDataConfig, wsStalenessMaxSec int, gw exchange.Gateway, ws *exchange.WSFeed, alerts alert.Emitter, logger *slog.Logger) *Service {
	return &Service{
		cfg:          cfg,
		wsStale:      time.Duration(wsStalenessMaxSec) * time.Second,
		oiStale:      time.Duration(cfg.OIFundingStaleMin * float64(time.Minute)),
		gw:           gw,
		ws:           ws,
		cache:        NewSnapshotCache(cfg.CacheTTL),
		alerts:       alerts,
		logger:       logger.With("component", "marketdata"),
		buffers:      make(map[string]*RingBuffer),
		openInterest: make(map[string]decimal.Decimal),
		fundingRate:  make(map[string]decimal.Decimal),
		oiFetchedAt:  make(map[string]time.Time),
		lastTick:     make(map[string]exchange.Tick),
	}
}

func (s *Service) bufferFor(symbol string) *RingBuffer {
	s.buffersMu.Lock()
	defer s.buffersMu.Unlock()

	rb, ok := s.buffers[symbol]
	if !ok {
		rb = NewRingBuffer(s.cfg.WarmupCandles)
		s.buffers[symbol] = rb
	}
	return rb
}

// Warmup backfills symbol's ring buffer via REST so indicators aren't
// warming_up from a cold start (spec §4.3 warmup_candles).
func (s *Service) Warmup(ctx context.Context, symbol string) error {
	candles, err := s.gw.GetOHLCV(ctx, symbol, s.cfg.Timeframe, s.cfg.WarmupCandles)
	if err != nil {
		return errkind.New(errkind.Transient, "marketdata.warmup", err)
	}

	rb := s.bufferFor(symbol)
	for _, c := range candles {
		if !c.Valid() {
			s.logger.Warn("dropping invalid candle during warmup", "symbol", symbol, "open_time", c.OpenTime)
			continue
		}
		rb.Append(c)
	}
	return nil
}

// RunTickIngestion consumes s.ws.Ticks() until ctx is cancelled, folding
// each tick into the in-progress candle for its symbol's timeframe.
func (s *Service) RunTickIngestion(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-s.ws.Ticks():
			if !ok {
				return
			}
			s.ingestTick(tick)
		}
	}
}

func (s *Service) ingestTick(tick exchange.Tick) {
	s.lastTickMu.Lock()
	s.lastTick[tick.Symbol] = tick
	s.lastTickMu.Unlock()

	rb := s.bufferFor(tick.Symbol)
	bucket := bucketStart(tick.Timestamp, s.cfg.Timeframe)

	last, ok := rb.Last()
	if ok && last.OpenTime.Equal(bucket) {
		updated := last
		if tick.Price.GreaterThan(updated.High) {
			updated.High = tick.Price
		}
		if tick.Price.LessThan(updated.Low) {
			updated.Low = tick.Price
		}
		updated.Close = tick.Price
		updated.ExchangeTimestamp = tick.Timestamp
		rb.Append(updated)
		return
	}

	rb.Append(types.Candle{
		Symbol:            tick.Symbol,
		Timeframe:         s.cfg.Timeframe,
		OpenTime:          bucket,
		Open:              tick.Price,
		High:              tick.Price,
		Low:               tick.Price,
		Close:             tick.Price,
		Volume:            decimal.Zero,
		ExchangeTimestamp: tick.Timestamp,
	})
}

// bucketStart floors t to the start of its timeframe bucket. Only minute-
// granularity timeframes ("1m".."240m"/"1h" style) are supported, matching
// spec §4.3's configured timeframe (typically "15m").
func bucketStart(t time.Time, timeframe string) time.Time {
	d := parseTimeframe(timeframe)
	if d <= 0 {
		return t.Truncate(time.Minute)
	}
	return t.Truncate(d)
}

func parseTimeframe(tf string) time.Duration {
	d, err := time.ParseDuration(tf)
	if err == nil {
		return d
	}
	// fall back to "15m"/"1h"-style exchange notation
	var n int
	var unit string
	if _, err := fmt.Sscanf(tf, "%d%s", &n, &unit); err != nil {
		return 0
	}
	switch unit {
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	default:
		return 0
	}
}

// RefreshOpenInterestFunding polls the REST open-interest/funding endpoint
// for symbol. Called on a slower cadence than ticks since this data moves
// far less frequently (spec §4.3 oi_funding_stale_min).
func (s *Service) RefreshOpenInterestFunding(ctx context.Context, symbol string) error {
	oi, funding, err := s.gw.GetOpenInterestFunding(ctx, symbol)
	if err != nil {
		return errkind.New(errkind.Transient, "marketdata.refresh_oi_funding", err)
	}

	s.oiMu.Lock()
	s.openInterest[symbol] = oi
	s.fundingRate[symbol] = funding
	s.oiFetchedAt[symbol] = time.Now()
	s.oiMu.Unlock()
	return nil
}

// Snapshot builds (or returns the cached) immutable MarketSnapshot for
// symbol as of now. It never blocks on network I/O — all inputs come from
// already-ingested buffers/cache.
func (s *Service) Snapshot(symbol string, now time.Time) types.MarketSnapshot {
	key := symbol + ":" + s.cfg.Timeframe
	if cached, ok := s.cache.Get(key, now); ok {
		return cached
	}

	rb := s.bufferFor(symbol)
	candles := rb.Snapshot()

	closes := make([]decimal.Decimal, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	indicators := ComputeIndicators(closes)
	if len(closes) > 20 {
		closes = closes[len(closes)-20:]
	}

	var current types.Candle
	if last, ok := rb.Last(); ok {
		current = last
	}

	snapshot := types.MarketSnapshot{
		Symbol:        symbol,
		Timeframe:     s.cfg.Timeframe,
		GeneratedAt:   now,
		Closes:        closes,
		CurrentCandle: current,
		Indicators:    indicators,
	}

	s.attachOpenInterestFunding(symbol, now, &snapshot)
	s.attachDataQuality(symbol, now, rb, &snapshot)

	s.cache.Put(key, snapshot, now)
	return snapshot
}

func (s *Service) attachOpenInterestFunding(symbol string, now time.Time, snap *types.MarketSnapshot) {
	s.oiMu.RLock()
	defer s.oiMu.RUnlock()

	snap.OpenInterest = s.openInterest[symbol]
	snap.FundingRate = s.fundingRate[symbol]

	fetchedAt, ok := s.oiFetchedAt[symbol]
	stale := !ok || now.Sub(fetchedAt) > s.oiStale
	snap.OIStale = stale
	snap.FundingStale = stale
}

func (s *Service) attachDataQuality(symbol string, now time.Time, rb *RingBuffer, snap *types.MarketSnapshot) {
	var warnings []types.DataQualityWarning

	if s.ws != nil && s.ws.LastMessageAge() > s.wsStale {
		warnings = append(warnings, types.WarnStaleWS)
		snap.StalenessAge = s.ws.LastMessageAge()
	}

	if gap, ok := rb.GapSince(now); ok {
		pauseThreshold := time.Duration(s.cfg.GapPauseMinutes * float64(time.Minute))
		alertThreshold := time.Duration(s.cfg.GapAlertMinutes * float64(time.Minute))
		if gap > alertThreshold {
			s.alerts.Emit(alert.Warning("market_data_gap", fmt.Sprintf("%s candle gap of %s exceeds alert threshold", symbol, gap), map[string]any{
				"symbol": symbol,
				"gap":    gap.String(),
			}))
		}
		if gap > pauseThreshold {
			warnings = append(warnings, types.WarnGap)
		}
	}

	if snap.Indicators.Status == types.IndicatorWarmingUp {
		warnings = append(warnings, types.WarnWarmingUp)
	}
	if snap.OIStale {
		warnings = append(warnings, types.WarnStaleOI)
	}
	if snap.FundingStale {
		warnings = append(warnings, types.WarnStaleFunding)
	}

	snap.DataQuality = warnings
}

// CacheHitRate exposes the snapshot cache's rolling hit rate for the
// cache_hit_rate metric (spec §4.8).
func (s *Service) CacheHitRate() float64 {
	return s.cache.HitRate()
}

// Package scheduler drives the fixed-cadence cycle loop that the rest of
// the trading core runs inside (spec §4.1). It generalizes the teacher's
// engine.manageMarkets select-loop: instead of reacting to scanner results
// and kill signals, it reacts to cron ticks and hands each tick a bounded
// deadline context, enforces single-flight (a slow cycle never overlaps
// the next), and runs a daily reset job at 00:00 UTC.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// CycleFunc is invoked once per tick. It must respect ctx's deadline and
// return promptly after ctx is done even if work is incomplete.
type CycleFunc func(ctx context.Context, cycleID string)

// DailyResetFunc runs once per day at 00:00 UTC, independent of the
// trading cycle cadence (spec §4.1: "daily loss counters reset at UTC
// midnight").
type DailyResetFunc func(ctx context.Context)

// Scheduler runs CycleFunc on a fixed interval with a bounded deadline,
// skipping a tick outright if the previous one is still running rather
// than queuing or overlapping it.
type Scheduler struct {
	interval time.Duration
	deadline time.Duration
	cycle    CycleFunc
	onReset  DailyResetFunc
	logger   *slog.Logger

	cron *cron.Cron

	running  atomic.Bool
	cycleSeq atomic.Uint64

	skipped func(reason string) // hook for metrics, optional

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option customizes Scheduler construction.
type Option func(*Scheduler)

// WithSkipHook registers a callback invoked whenever a tick is skipped,
// e.g. to increment a cycles-skipped metric labeled by reason.
func WithSkipHook(fn func(reason string)) Option {
	return func(s *Scheduler) { s.skipped = fn }
}

// New builds a Scheduler that invokes cycle every interval, each run
// bounded by deadline, and onReset once per day at 00:00 UTC.
func New(interval, deadline time.Duration, cycle CycleFunc, onReset DailyResetFunc, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: interval,
		deadline: deadline,
		cycle:    cycle,
		onReset:  onReset,
		logger:   logger.With("component", "scheduler"),
		cron:     cron.New(cron.WithLocation(time.UTC)),
		skipped:  func(string) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, firing cycles aligned to wall-clock boundaries of the
// configured interval (spec §4.1: ticks "aligned to wall-clock boundaries
// — e.g. 00, 03, 06 minute marks when interval=180s") and the daily
// reset job at UTC midnight, until ctx is cancelled. On return all
// in-flight cycle goroutines have been drained.
func (s *Scheduler) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if s.onReset != nil {
		if _, err := s.cron.AddFunc("0 0 * * *", func() {
			resetCtx, resetCancel := context.WithTimeout(runCtx, s.deadline)
			defer resetCancel()
			s.onReset(resetCtx)
		}); err != nil {
			s.logger.Error("failed to register daily reset job", "error", err)
		}
	}

	// The cadence itself rides the same cron scheduler whenever the
	// interval divides evenly into minute marks (the common case — e.g.
	// 180s -> "*/3 * * * *" fires at :00, :03, :06, ...). A cron
	// expression carries no sub-minute resolution, so finer intervals
	// fall back to a ticker explicitly aligned to the next wall-clock
	// boundary.
	if expr, ok := cronExprForInterval(s.interval); ok {
		if _, err := s.cron.AddFunc(expr, func() { s.tick(runCtx) }); err != nil {
			s.logger.Error("failed to register cycle cadence cron job, falling back to an aligned ticker", "error", err, "expr", expr)
			go s.runAligned(runCtx)
		}
	} else {
		go s.runAligned(runCtx)
	}

	s.cron.Start()
	defer s.cron.Stop()

	<-runCtx.Done()
	s.wg.Wait()
}

// runAligned drives the cycle cadence with a plain ticker for intervals a
// standard 5-field cron expression can't express (anything finer than a
// whole, hour-dividing number of minutes), first sleeping until the next
// wall-clock boundary so ticks still land on aligned marks rather than an
// arbitrary offset from process start.
func (s *Scheduler) runAligned(ctx context.Context) {
	now := time.Now().UTC()
	next := now.Truncate(s.interval).Add(s.interval)
	timer := time.NewTimer(next.Sub(now))

	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// cronExprForInterval computes the standard 5-field cron expression that
// fires every interval, aligned to UTC minute marks (e.g. "*/3 * * * *"
// for a 180s interval), or ok=false if interval isn't a whole number of
// minutes that evenly divides an hour.
func cronExprForInterval(interval time.Duration) (expr string, ok bool) {
	if interval <= 0 || interval%time.Minute != 0 {
		return "", false
	}
	minutes := int(interval / time.Minute)
	if minutes <= 0 || minutes > 59 || 60%minutes != 0 {
		return "", false
	}
	return fmt.Sprintf("*/%d * * * *", minutes), true
}

// tick starts one cycle if the previous one has already finished,
// otherwise skips it (spec §4.1 "never run cycles concurrently").
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("skipping cycle, previous cycle still running")
		s.skipped("previous_cycle_running")
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.deadline)
	cycleID := s.nextCycleID()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.running.Store(false)

		start := time.Now()
		s.cycle(cycleCtx, cycleID)

		if cycleCtx.Err() == context.DeadlineExceeded {
			s.logger.Warn("cycle exceeded deadline", "cycle_id", cycleID, "elapsed", time.Since(start))
			s.skipped("deadline_exceeded")
		}
	}()
}

func (s *Scheduler) nextCycleID() string {
	n := s.cycleSeq.Add(1)
	return time.Now().UTC().Format("20060102T150405") + "-" + itoa(n)
}

// Stop cancels the run loop. Run's caller should prefer cancelling the
// ctx passed to Run; Stop exists for callers that only hold the
// Scheduler reference.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

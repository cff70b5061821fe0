// Package tick implements C4, the tick engine: a scheduler driving two
// periodic tasks, each serial with itself, that never overlap with their own
// previous run (spec §4.4, §5). The broadcast task advances every
// instrument through the Price Simulator and hands one immutable Snapshot to
// a Dispatcher; the sweep task expires stale subscriptions.
package tick

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/catalog"
	"github.com/brokerx/market-service/internal/quote"
	"github.com/brokerx/market-service/internal/simulate"
	"github.com/brokerx/market-service/internal/subscription"
)

// Snapshot is the immutable output of one broadcast tick: every instrument's
// quote as of that tick, sharing one timestamp (spec §3, Snapshot).
type Snapshot struct {
	Quotes    map[string]quote.Quote
	Timestamp time.Time
}

// Dispatcher is what the tick engine hands a finished Snapshot to. It is
// satisfied by internal/fanout.Dispatcher; the engine never imports fanout
// directly so that the Catalog/Simulator/Index core has no dependency on the
// delivery layer.
type Dispatcher interface {
	DispatchTick(ctx context.Context, snap Snapshot)
}

// Engine owns the two periodic tasks. Each runs its own goroutine using a
// fixed-delay timer (reset after the run completes, not a fixed-rate
// time.Ticker) so a slow tick is never immediately followed by a queued one.
type Engine struct {
	catalog    *catalog.Catalog
	index      *subscription.Index
	dispatcher Dispatcher
	rng        simulate.RNG
	volatility float64
	logger     *zap.Logger

	tickPeriod  time.Duration
	sweepPeriod time.Duration

	now func() time.Time

	wg   sync.WaitGroup
	stop chan struct{}
}

// Config bundles the Engine's periods and the simulation parameters.
type Config struct {
	Volatility  float64
	TickPeriod  time.Duration
	SweepPeriod time.Duration
}

// New builds an Engine. rng is the simulator's randomness source and is
// accessed only from the broadcast goroutine, so it need not be thread-safe
// (spec §5).
func New(cat *catalog.Catalog, idx *subscription.Index, dispatcher Dispatcher, rng simulate.RNG, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		catalog:     cat,
		index:       idx,
		dispatcher:  dispatcher,
		rng:         rng,
		volatility:  cfg.Volatility,
		tickPeriod:  cfg.TickPeriod,
		sweepPeriod: cfg.SweepPeriod,
		logger:      logger,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

// Start launches both periodic tasks. They run until ctx is cancelled or
// Stop is called; an in-flight tick completes before either goroutine
// returns, per spec §5's cancellation contract.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.loop(ctx, e.tickPeriod, e.runBroadcastTick)
	go e.loop(ctx, e.sweepPeriod, e.runSweep)
}

// Stop cancels both tasks and waits for any in-flight run to finish.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// loop runs fn every period, never starting the next run until the previous
// one returns. The initial delay equals period, matching spec §4.4.
func (e *Engine) loop(ctx context.Context, period time.Duration, fn func(context.Context)) {
	defer e.wg.Done()
	timer := time.NewTimer(period)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-timer.C:
			e.runGuarded(ctx, fn)
			timer.Reset(period)
		}
	}
}

// runGuarded recovers a panicking tick callback so the scheduler keeps
// firing subsequent ticks (spec §4.8: "a tick callback throws" is logged,
// never fatal).
func (e *Engine) runGuarded(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick task panicked", zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// runBroadcastTick is one invocation of the broadcast task (spec §4.4).
func (e *Engine) runBroadcastTick(ctx context.Context) {
	before := e.catalog.Snapshot()
	if len(before) == 0 {
		return
	}

	now := e.now()
	quotes := make(map[string]quote.Quote, len(before))
	for symbol := range before {
		next, ok := e.catalog.Mutate(symbol, func(q quote.Quote) quote.Quote {
			return simulate.Next(q, e.rng, e.volatility, now)
		})
		if !ok {
			continue
		}
		quotes[symbol] = next
	}

	snap := Snapshot{Quotes: quotes, Timestamp: now}
	e.dispatcher.DispatchTick(ctx, snap)
}

// runSweep is one invocation of the expiry sweep task (spec §4.4).
func (e *Engine) runSweep(ctx context.Context) {
	n := e.index.SweepExpired()
	if n > 0 {
		e.logger.Info("expiry sweep removed subscriptions", zap.Int("count", n))
	}
}

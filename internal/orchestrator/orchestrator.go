// Package orchestrator is the process-wide control surface: lifecycle,
// config updates, the execution pipeline, and the query API over the
// detection core.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamsturg/sturgtrader-sub001/internal/config"
	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/engine"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
	"github.com/jamsturg/sturgtrader-sub001/internal/feed"
	"github.com/jamsturg/sturgtrader-sub001/internal/planner"
)

// Orchestrator composes the feed manager, engine, and planner behind a
// single lifecycle. Stop and shutdown are cooperative: they prevent new
// work from starting and never interrupt an execution already past the
// DETECTED -> EXECUTING transition.
type Orchestrator struct {
	live           *config.Live
	feeds          *feed.Manager
	engine         *engine.Engine
	planner        *planner.Planner
	advisor        domain.Advisor
	advisorTimeout time.Duration
	bus            *events.Bus
	logger         *slog.Logger

	mu          sync.Mutex
	initialized bool
	running     bool
	exchanges   []domain.Exchange
	pairs       []domain.TradingPair
	runCancel   context.CancelFunc
	group       *errgroup.Group

	shutdownOnce sync.Once
}

// New creates an Orchestrator. Advisor may be nil, in which case the
// execution pipeline skips the optimization step entirely.
func New(
	live *config.Live,
	feeds *feed.Manager,
	eng *engine.Engine,
	plan *planner.Planner,
	advisor domain.Advisor,
	advisorTimeout time.Duration,
	bus *events.Bus,
	logger *slog.Logger,
) *Orchestrator {
	if advisorTimeout <= 0 {
		advisorTimeout = 3 * time.Second
	}
	return &Orchestrator{
		live:           live,
		feeds:          feeds,
		engine:         eng,
		planner:        plan,
		advisor:        advisor,
		advisorTimeout: advisorTimeout,
		bus:            bus,
		logger:         logger.With(slog.String("component", "orchestrator")),
	}
}

// Initialize registers exchange and pair reference data. It is the
// prerequisite for Start and is idempotent: repeat calls replace the
// reference data with a warning.
func (o *Orchestrator) Initialize(exchanges []domain.Exchange, pairs []domain.TradingPair) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		o.logger.Warn("initialize called again, replacing reference data")
	}
	o.exchanges = exchanges
	o.pairs = pairs
	o.engine.Register(exchanges)
	o.initialized = true
	o.logger.Info("initialized",
		slog.Int("exchanges", len(exchanges)),
		slog.Int("pairs", len(pairs)),
	)
	return nil
}

// Start applies an optional config override, opens all feed subscriptions,
// and starts the detection path. A second Start while running is a warned
// no-op.
func (o *Orchestrator) Start(ctx context.Context, override *config.ArbitrageConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return domain.ErrNotInitialized
	}
	if o.running {
		o.logger.Warn("start called while already running")
		return nil
	}
	if override != nil {
		o.live.Set(*override)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	o.runCancel = cancel
	o.group = g

	for _, ex := range o.exchanges {
		pairs := ex.Pairs
		if len(pairs) == 0 {
			pairs = o.pairs
		}
		if err := o.feeds.Subscribe(gctx, ex.ID, pairs); err != nil {
			cancel()
			o.runCancel = nil
			o.group = nil
			return err
		}
	}

	g.Go(func() error {
		err := o.engine.Run(gctx)
		if err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		o.autoExecuteLoop(gctx)
		return nil
	})

	o.running = true
	o.logger.Info("started")
	return nil
}

// Stop halts acceptance of new detection and execution work. In-flight
// executions past the atomic transition run to their terminal state. A
// second Stop is a warned no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		o.logger.Warn("stop called while not running")
		return
	}
	cancel := o.runCancel
	group := o.group
	o.runCancel = nil
	o.group = nil
	o.running = false
	o.mu.Unlock()

	// Waiting outside the lock lets the auto-execute loop observe the
	// stopped state and drain instead of deadlocking on o.mu.
	cancel()
	_ = group.Wait()
	o.logger.Info("stopped")
}

// Shutdown stops if running and releases all feed connections. Safe to call
// more than once; only the first call does work.
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		running := o.running
		o.mu.Unlock()
		if running {
			o.Stop()
		}
		o.feeds.CloseAll()
		o.logger.Info("shutdown complete")
	})
}

// UpdateConfig merges a partial update into the live config atomically. It
// is visible to subsequent detection and validation cycles, never
// retroactive to in-flight plans.
func (o *Orchestrator) UpdateConfig(patch config.Patch) {
	o.live.Apply(patch)
	o.logger.Info("config updated")
}

// ExecuteOpportunity runs the full pipeline for one registry entry:
// strategy selection, plan generation, time-boxed advisory optimization,
// the final profitability gate, then submission through the engine. It
// returns false with zero side effects on any pre-submission failure.
func (o *Orchestrator) ExecuteOpportunity(ctx context.Context, id string) bool {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		o.logger.Warn("execute rejected: orchestrator not running", slog.String("opp_id", id))
		return false
	}

	opp, ok := o.engine.GetOpportunity(id)
	if !ok {
		o.logger.Warn("execute rejected: unknown opportunity", slog.String("opp_id", id))
		return false
	}
	if opp.Status != domain.StatusDetected {
		return false
	}

	strategy := o.planner.DetermineStrategy(opp)
	plan := o.planner.GenerateExecutionPlan(opp, strategy)
	o.optimize(ctx, opp, plan)

	if !o.planner.ValidateProfitability(opp, plan) {
		return false
	}
	return o.engine.ExecuteOpportunity(ctx, id, plan)
}

// optimize runs the advisory call under a hard deadline and folds the
// result into the plan. Timeout or error means the unmodified plan is used.
func (o *Orchestrator) optimize(ctx context.Context, opp domain.ArbitrageOpportunity, plan *domain.ExecutionPlan) {
	if o.advisor == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, o.advisorTimeout)
	defer cancel()

	res, err := o.advisor.Optimize(actx, domain.AdvisoryRequest{
		Opportunity: opp,
		Plan:        *plan,
		MarketContext: map[string]float64{
			"spread_pct": opp.SpreadPct,
			"max_size":   opp.MaxSize,
		},
	})
	if err != nil {
		o.logger.Warn("advisory skipped", slog.String("error", err.Error()))
		return
	}
	o.planner.ApplyAdvisorOptimization(plan, res)
}

// autoExecuteLoop drives executions from detection events when auto-execute
// is enabled in the live config at the time each event arrives.
func (o *Orchestrator) autoExecuteLoop(ctx context.Context) {
	ch, unsub := o.bus.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != domain.EventOpportunityDetected || ev.Opportunity == nil {
				continue
			}
			if !o.live.Get().AutoExecute {
				continue
			}
			o.ExecuteOpportunity(ctx, ev.Opportunity.ID)
		}
	}
}

// GetOpportunities returns the current registry view.
func (o *Orchestrator) GetOpportunities() []domain.ArbitrageOpportunity {
	return o.engine.GetOpportunities()
}

// GetStats returns the aggregate counters.
func (o *Orchestrator) GetStats() domain.Stats {
	return o.engine.GetStats()
}

// GetSupportedExchanges returns the registered exchange reference data.
func (o *Orchestrator) GetSupportedExchanges() []domain.Exchange {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Exchange, len(o.exchanges))
	copy(out, o.exchanges)
	return out
}

// GetSupportedPairs returns the registered global pair list.
func (o *Orchestrator) GetSupportedPairs() []domain.TradingPair {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.TradingPair, len(o.pairs))
	copy(out, o.pairs)
	return out
}

// IsActive reports whether the orchestrator is started and not stopped.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// legOutcome pairs a plan leg with its submission result.
type legOutcome struct {
	leg    domain.PlanLeg
	result domain.OrderResult
	err    error
}

func (o legOutcome) filled() bool {
	return o.err == nil && o.result.Filled()
}

// ExecuteOpportunity submits the plan's legs for the given opportunity id.
//
// It fails fast with no side effects when the id is unknown, the entry is
// not DETECTED, or the concurrent-execution cap is reached. The DETECTED ->
// EXECUTING transition happens atomically under the registry lock together
// with the cap check, so concurrent calls for the same id can never both
// proceed.
func (e *Engine) ExecuteOpportunity(ctx context.Context, id string, plan *domain.ExecutionPlan) bool {
	cfg := e.live.Get()

	e.mu.Lock()
	opp, ok := e.opps[id]
	if !ok {
		e.mu.Unlock()
		e.logger.Warn("execute rejected: unknown opportunity", slog.String("opp_id", id))
		return false
	}
	if opp.Status != domain.StatusDetected {
		e.mu.Unlock()
		e.logger.Warn("execute rejected: wrong status",
			slog.String("opp_id", id),
			slog.String("status", string(opp.Status)),
		)
		return false
	}
	if e.executing >= cfg.MaxConcurrentTrades {
		e.mu.Unlock()
		e.logger.Warn("execute rejected: concurrency cap reached",
			slog.String("opp_id", id),
			slog.Int("max_concurrent_trades", cfg.MaxConcurrentTrades),
		)
		return false
	}
	opp.Status = domain.StatusExecuting
	e.executing++
	started := *opp
	e.mu.Unlock()

	e.bus.Publish(domain.Event{Type: domain.EventExecutionStarted, Opportunity: &started})
	e.logger.Info("execution started",
		slog.String("opp_id", id),
		slog.String("strategy", string(plan.Strategy)),
		slog.Int("legs", len(plan.Legs)),
	)

	// Past the atomic transition the legs must reach a terminal state on
	// their own: a cooperative stop cancels the caller's context but never
	// an execution already in flight. Only the plan deadline bounds the
	// legs from here.
	execCtx := context.WithoutCancel(ctx)
	if !plan.Deadline.IsZero() {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(execCtx, plan.Deadline)
		defer cancel()
	}

	outcomes := e.submitLegs(execCtx, plan)

	allFilled := len(outcomes) == len(plan.Legs)
	for _, o := range outcomes {
		if !o.filled() {
			allFilled = false
		}
	}

	if allFilled {
		e.finishExecuted(id, outcomes)
		return true
	}
	e.finishFailed(execCtx, id, cfg.Compensation, outcomes)
	return false
}

// submitLegs places the plan's legs according to its strategy. For
// simultaneous plans both legs go out concurrently; for sequential plans
// each leg waits for the previous fill, bounded by the plan's max leg gap.
func (e *Engine) submitLegs(ctx context.Context, plan *domain.ExecutionPlan) []legOutcome {
	if plan.Strategy == domain.StrategySimultaneous {
		outcomes := make([]legOutcome, len(plan.Legs))
		g, gctx := errgroup.WithContext(ctx)
		for i, leg := range plan.Legs {
			g.Go(func() error {
				outcomes[i] = e.placeLeg(gctx, leg)
				return nil
			})
		}
		_ = g.Wait()
		return outcomes
	}

	outcomes := make([]legOutcome, 0, len(plan.Legs))
	for i, leg := range plan.Legs {
		legCtx := ctx
		if i > 0 && plan.MaxLegGap > 0 {
			var cancel context.CancelFunc
			legCtx, cancel = context.WithTimeout(ctx, plan.MaxLegGap)
			defer cancel()
		}
		out := e.placeLeg(legCtx, leg)
		outcomes = append(outcomes, out)
		if !out.filled() {
			// Later legs are never submitted after a failure.
			break
		}
	}
	return outcomes
}

// placeLeg submits one leg to its venue connector. A missing connector or a
// timed-out call is a leg failure, not a process error.
func (e *Engine) placeLeg(ctx context.Context, leg domain.PlanLeg) legOutcome {
	conn, ok := e.orders[leg.Exchange]
	if !ok {
		return legOutcome{leg: leg, err: fmt.Errorf("engine: no order connector for %s: %w", leg.Exchange, domain.ErrUnknownExchange)}
	}
	req := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Exchange:      leg.Exchange,
		Pair:          leg.Pair,
		Side:          leg.Side,
		LimitPrice:    leg.LimitPrice,
		Size:          leg.Size,
	}
	res, err := conn.PlaceOrder(ctx, req)
	if err != nil {
		return legOutcome{leg: leg, result: res, err: err}
	}
	return legOutcome{leg: leg, result: res}
}

// finishExecuted transitions the opportunity to EXECUTED and applies the
// realized profit to the stats.
func (e *Engine) finishExecuted(id string, outcomes []legOutcome) {
	realized := realizedProfit(outcomes)
	now := time.Now().UTC()

	e.mu.Lock()
	opp := e.opps[id]
	opp.Status = domain.StatusExecuted
	opp.ExecutedAt = &now
	opp.RealizedProfitUSD = realized
	delete(e.active, opp.DirectionKey())
	e.terminalAt[id] = now
	e.executing--
	e.stats.Executed++
	e.stats.TotalProfitUSD += realized
	done := *opp
	e.mu.Unlock()

	e.logger.Info("execution completed",
		slog.String("opp_id", id),
		slog.Float64("realized_profit_usd", realized),
	)
	e.bus.Publish(domain.Event{Type: domain.EventExecutionCompleted, Opportunity: &done})
	e.persist(func(sctx context.Context) error { return e.store.UpdateOutcome(sctx, done) })
}

// finishFailed runs the compensation policy for filled legs, records the
// failure reason for audit, transitions to FAILED, and emits
// execution_failed exactly once.
func (e *Engine) finishFailed(ctx context.Context, id, policy string, outcomes []legOutcome) {
	var reasons []string
	var filled []legOutcome
	for _, o := range outcomes {
		if o.filled() {
			filled = append(filled, o)
			continue
		}
		switch {
		case o.err != nil:
			reasons = append(reasons, fmt.Sprintf("%s %s: %v", o.leg.Exchange, o.leg.Side, o.err))
		case o.result.Message != "":
			reasons = append(reasons, fmt.Sprintf("%s %s: %s", o.leg.Exchange, o.leg.Side, o.result.Message))
		default:
			reasons = append(reasons, fmt.Sprintf("%s %s: %s", o.leg.Exchange, o.leg.Side, o.result.Status))
		}
	}
	reason := strings.Join(reasons, "; ")
	if reason == "" {
		reason = "execution aborted"
	}

	attempted := false
	compensated := false
	if len(filled) > 0 && policy == "reverse" {
		attempted = true
		compensated = e.compensate(ctx, filled)
	}

	now := time.Now().UTC()
	e.mu.Lock()
	opp := e.opps[id]
	opp.Status = domain.StatusFailed
	opp.FailureReason = reason
	opp.CompensationAttempted = attempted
	opp.CompensationDone = compensated
	delete(e.active, opp.DirectionKey())
	e.terminalAt[id] = now
	e.executing--
	e.stats.Failed++
	failed := *opp
	e.mu.Unlock()

	e.logger.Error("execution failed",
		slog.String("opp_id", id),
		slog.String("reason", reason),
		slog.Bool("compensated", compensated),
	)
	e.bus.Publish(domain.Event{Type: domain.EventExecutionFailed, Opportunity: &failed, Reason: reason})
	e.persist(func(sctx context.Context) error { return e.store.UpdateOutcome(sctx, failed) })
}

// compensate flattens each filled leg with an opposing order at the filled
// price. Best-effort: a failed reversal is reported through the return
// value, never retried.
func (e *Engine) compensate(ctx context.Context, filled []legOutcome) bool {
	// Shutdown must not strand a half-executed position; give the
	// compensating orders their own deadline when ctx is already gone.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	ok := true
	for _, o := range filled {
		rev := domain.OrderRequest{
			ClientOrderID: uuid.NewString(),
			Exchange:      o.leg.Exchange,
			Pair:          o.leg.Pair,
			Side:          o.leg.Side.Opposite(),
			LimitPrice:    o.result.FilledPrice,
			Size:          o.result.FilledSize,
		}
		conn, found := e.orders[rev.Exchange]
		if !found {
			ok = false
			continue
		}
		res, err := conn.PlaceOrder(ctx, rev)
		if err != nil || !res.Filled() {
			e.logger.Warn("compensating order failed",
				slog.String("exchange", rev.Exchange),
				slog.String("side", string(rev.Side)),
			)
			ok = false
		}
	}
	return ok
}

// realizedProfit sums sell revenue minus buy cost minus fees across legs.
func realizedProfit(outcomes []legOutcome) float64 {
	var revenue, cost, fees float64
	for _, o := range outcomes {
		notional := o.result.FilledPrice * o.result.FilledSize
		if o.leg.Side == domain.OrderSideBuy {
			cost += notional
		} else {
			revenue += notional
		}
		fees += o.result.FeeUSD
	}
	return revenue - cost - fees
}

// Package planner turns detected opportunities into validated execution
// plans: strategy selection, price bounds, sizing, timing, and the final
// profitability gate before submission.
package planner

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamsturg/sturgtrader-sub001/internal/config"
	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// Planner builds and validates execution plans from live config parameters.
type Planner struct {
	live   *config.Live
	logger *slog.Logger
}

// New creates a Planner.
func New(live *config.Live, logger *slog.Logger) *Planner {
	return &Planner{
		live:   live,
		logger: logger.With(slog.String("component", "strategy_planner")),
	}
}

// simultaneousCutoff returns the minimum confidence at which both legs are
// submitted concurrently. A conservative risk level demands more confidence
// before giving up the sequential safety of a confirmed buy leg.
func simultaneousCutoff(riskLevel string) float64 {
	switch strings.ToLower(riskLevel) {
	case "low":
		return 0.8
	case "high":
		return 0.5
	default:
		return 0.65
	}
}

// DetermineStrategy classifies an opportunity into simultaneous or
// sequential execution based on its confidence score and the configured
// risk level.
func (p *Planner) DetermineStrategy(opp domain.ArbitrageOpportunity) domain.StrategyType {
	cfg := p.live.Get()
	if opp.Confidence >= simultaneousCutoff(cfg.RiskLevel) {
		return domain.StrategySimultaneous
	}
	return domain.StrategySequential
}

// GenerateExecutionPlan produces the ordered legs for one execution attempt.
// Limit prices get a tolerance band derived from the observed spread, capped
// by the configured slippage bound; size is capped by both the opportunity's
// visible size and the balance-derived notional cap. Sequential plans place
// the buy leg first.
func (p *Planner) GenerateExecutionPlan(opp domain.ArbitrageOpportunity, strategy domain.StrategyType) *domain.ExecutionPlan {
	cfg := p.live.Get()

	// Tolerance as a fraction of price: a quarter of the observed spread,
	// never beyond the slippage cap.
	tolPct := opp.SpreadPct / 4
	if cap := cfg.MaxSlippageBps / 100; tolPct > cap {
		tolPct = cap
	}
	tol := tolPct / 100

	buyLimit := opp.BuyPrice * (1 + tol)
	sellLimit := opp.SellPrice * (1 - tol)

	size := opp.MaxSize
	if opp.BuyPrice > 0 {
		capSize := cfg.MaxTradeNotionalUSD * (1 - cfg.BalanceReservePct/100) / opp.BuyPrice
		if capSize < size {
			size = capSize
		}
	}

	plan := &domain.ExecutionPlan{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Strategy:      strategy,
		Legs: []domain.PlanLeg{
			{Exchange: opp.BuyExchange, Pair: opp.Pair, Side: domain.OrderSideBuy, LimitPrice: buyLimit, Size: size},
			{Exchange: opp.SellExchange, Pair: opp.Pair, Side: domain.OrderSideSell, LimitPrice: sellLimit, Size: size},
		},
		MaxLegGap:         cfg.MaxLegGap.Duration,
		Deadline:          time.Now().UTC().Add(cfg.MaxExecutionTime.Duration),
		ExpectedProfitUSD: (sellLimit - buyLimit) * size,
	}
	return plan
}

// ValidateProfitability recomputes expected net profit from the plan's price
// bounds minus the fee and slippage allowance. It is the last gate before
// submission: prices may have moved since detection, and a plan that no
// longer clears the configured minimum must not reach the venues.
func (p *Planner) ValidateProfitability(opp domain.ArbitrageOpportunity, plan *domain.ExecutionPlan) bool {
	cfg := p.live.Get()

	buy := plan.Leg(domain.OrderSideBuy)
	sell := plan.Leg(domain.OrderSideSell)
	if buy == nil || sell == nil || buy.LimitPrice <= 0 || buy.Size <= 0 {
		return false
	}

	grossPct := (sell.LimitPrice - buy.LimitPrice) / buy.LimitPrice * 100
	feePct := (p.feeBps(cfg, buy.Exchange) + p.feeBps(cfg, sell.Exchange)) / 100
	slipPct := cfg.MaxSlippageBps / 100
	netPct := grossPct - feePct - slipPct

	if netPct <= 0 || netPct < cfg.MinProfitPct {
		p.logger.Info("plan rejected by profitability gate",
			slog.String("opp_id", opp.ID),
			slog.Float64("net_pct", netPct),
			slog.Float64("min_profit_pct", cfg.MinProfitPct),
		)
		return false
	}

	plan.ExpectedProfitUSD = buy.Size * buy.LimitPrice * netPct / 100
	return true
}

// ApplyAdvisorOptimization folds an advisory result into the plan, clamped
// to the planner's own bounds: sizes only shrink, the leg gap only tightens,
// and leg reordering applies only to simultaneous plans where order carries
// no sequencing semantics.
func (p *Planner) ApplyAdvisorOptimization(plan *domain.ExecutionPlan, res domain.AdvisoryResult) {
	if res.SizeScale > 0 && res.SizeScale < 1 {
		for i := range plan.Legs {
			plan.Legs[i].Size *= res.SizeScale
		}
		plan.ExpectedProfitUSD *= res.SizeScale
	}
	if res.MaxLegGap > 0 && res.MaxLegGap < plan.MaxLegGap {
		plan.MaxLegGap = res.MaxLegGap
	}
	if res.SellFirst && plan.Strategy == domain.StrategySimultaneous && len(plan.Legs) == 2 {
		if plan.Legs[0].Side == domain.OrderSideBuy {
			plan.Legs[0], plan.Legs[1] = plan.Legs[1], plan.Legs[0]
		}
	}
}

// feeBps mirrors the engine's venue fee lookup: the live override when
// present, otherwise zero (reference fees are the engine's concern; the
// planner only sees the config allowance).
func (p *Planner) feeBps(cfg config.ArbitrageConfig, exchange string) float64 {
	if v, ok := cfg.PerVenueFeeBps[exchange]; ok {
		return v
	}
	return 0
}

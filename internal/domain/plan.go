package domain

import "time"

// StrategyType selects how the two legs of an arbitrage are submitted.
type StrategyType string

const (
	// StrategySimultaneous submits both legs concurrently. Used when both
	// venues fill reliably and confidence is high.
	StrategySimultaneous StrategyType = "simultaneous"
	// StrategySequential confirms the buy leg before submitting the sell
	// leg. Used under higher uncertainty or venue rate limits.
	StrategySequential StrategyType = "sequential"
)

// PlanLeg is one side of an arbitrage execution on one exchange.
type PlanLeg struct {
	Exchange   string
	Pair       TradingPair
	Side       OrderSide
	LimitPrice float64
	Size       float64
}

// ExecutionPlan is the validated, time-bounded trade plan for one
// opportunity. It is created per execution attempt and discarded after the
// terminal outcome.
type ExecutionPlan struct {
	ID            string
	OpportunityID string
	Strategy      StrategyType
	Legs          []PlanLeg
	// MaxLegGap bounds how long the second leg may lag the first.
	MaxLegGap time.Duration
	// Deadline bounds the whole execution attempt.
	Deadline time.Time
	// ExpectedProfitUSD is the planner's net estimate at plan time.
	ExpectedProfitUSD float64
}

// Leg returns the first leg with the given side, or nil.
func (p *ExecutionPlan) Leg(side OrderSide) *PlanLeg {
	for i := range p.Legs {
		if p.Legs[i].Side == side {
			return &p.Legs[i]
		}
	}
	return nil
}

package domain

import "time"

// OpportunityStatus is the lifecycle state of an arbitrage opportunity.
//
// Transitions: DETECTED -> EXECUTING -> {EXECUTED, FAILED} and
// DETECTED -> EXPIRED. EXECUTING can be entered at most once per id; all
// transitions are one-way.
type OpportunityStatus string

const (
	StatusDetected  OpportunityStatus = "detected"
	StatusExecuting OpportunityStatus = "executing"
	StatusExecuted  OpportunityStatus = "executed"
	StatusFailed    OpportunityStatus = "failed"
	StatusExpired   OpportunityStatus = "expired"
)

// Terminal reports whether the status is an end state.
func (s OpportunityStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// ArbitrageOpportunity is a detected cross-exchange price discrepancy:
// buy on BuyExchange at BuyPrice, sell on SellExchange at SellPrice.
type ArbitrageOpportunity struct {
	ID           string
	Pair         TradingPair
	BuyExchange  string
	SellExchange string
	BuyPrice     float64
	SellPrice    float64

	// SpreadPct is (SellPrice - BuyPrice) / BuyPrice * 100.
	SpreadPct float64
	// ProfitPct is the spread net of the estimated per-venue fee allowance.
	ProfitPct float64
	// ProfitUSD is ProfitPct applied to MaxSize notional.
	ProfitUSD float64
	// MaxSize is the smaller of the two venues' available sizes, in base units.
	MaxSize float64
	// Confidence is the detection confidence in [0, 1].
	Confidence float64

	Status      OpportunityStatus
	DetectedAt  time.Time
	RefreshedAt time.Time
	ExecutedAt  *time.Time

	// Failure audit, populated on StatusFailed.
	FailureReason         string
	CompensationAttempted bool
	CompensationDone      bool

	// RealizedProfitUSD is set after a fully successful execution.
	RealizedProfitUSD float64
}

// DirectionKey identifies the (pair, buy, sell) direction the opportunity
// was detected for. At most one non-terminal opportunity exists per key.
func (o ArbitrageOpportunity) DirectionKey() string {
	return o.Pair.Symbol() + "|" + o.BuyExchange + "|" + o.SellExchange
}

// Stats are the engine's aggregate counters. They are mutated only under
// the engine's registry lock.
type Stats struct {
	Detected       int64
	Executed       int64
	Failed         int64
	Expired        int64
	TotalProfitUSD float64
	Active         int
	Executing      int
}

// AvgProfitUSD returns the mean realized profit per executed trade.
func (s Stats) AvgProfitUSD() float64 {
	if s.Executed == 0 {
		return 0
	}
	return s.TotalProfitUSD / float64(s.Executed)
}

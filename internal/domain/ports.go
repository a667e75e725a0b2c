package domain

import (
	"context"
	"time"
)

// FeedConnector streams raw market data for one exchange. Stream returns a
// channel of venue ticks; the channel is closed when the transport fails or
// ctx is cancelled, which is the connector's explicit disconnect signal.
type FeedConnector interface {
	Exchange() string
	Stream(ctx context.Context, pairs []TradingPair) (<-chan VenueTick, error)
}

// OrderConnector submits and cancels orders on one exchange. PlaceOrder
// blocks until the venue reports a terminal status or ctx expires.
type OrderConnector interface {
	Exchange() string
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// AdvisoryRequest is the payload sent to the AI advisory collaborator.
type AdvisoryRequest struct {
	Opportunity   ArbitrageOpportunity `json:"opportunity"`
	Plan          ExecutionPlan        `json:"current_plan"`
	MarketContext map[string]float64   `json:"market_context"`
}

// AdvisoryResult is the collaborator's response. All fields are advisory;
// the planner clamps them to previously computed safety bounds.
type AdvisoryResult struct {
	// SizeScale in (0, 1] scales leg sizes down. Values > 1 are ignored.
	SizeScale float64 `json:"size_scale"`
	// MaxLegGap replaces the plan's inter-leg bound only when tighter.
	MaxLegGap time.Duration `json:"-"`
	// SellFirst suggests submitting the sell leg before the buy leg.
	SellFirst bool `json:"sell_first"`
	// Confidence is the advisor's confidence in its own recommendation.
	Confidence float64 `json:"confidence"`
	Analysis   string  `json:"analysis"`
}

// Advisor is the black-box plan-optimization collaborator. Implementations
// must respect ctx deadlines; callers treat any error as "skip advisory".
type Advisor interface {
	Optimize(ctx context.Context, req AdvisoryRequest) (AdvisoryResult, error)
}

// OpportunityStore persists opportunities for audit and later query. All
// writes are best-effort from the engine's point of view.
type OpportunityStore interface {
	Insert(ctx context.Context, opp ArbitrageOpportunity) error
	UpdateOutcome(ctx context.Context, opp ArbitrageOpportunity) error
	ListRecent(ctx context.Context, limit int) ([]ArbitrageOpportunity, error)
}

// OpportunityArchiver receives terminal opportunities as they are pruned
// from the live registry after the retention window.
type OpportunityArchiver interface {
	Archive(ctx context.Context, opps []ArbitrageOpportunity) error
}

// SnapshotCache mirrors the feed manager's latest snapshots to an external
// cache for out-of-process consumers.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap PriceSnapshot) error
	GetSnapshot(ctx context.Context, exchange string, pair TradingPair) (PriceSnapshot, error)
}

// SignalBus publishes raw payloads to external channels (e.g. Redis
// pub/sub) for dashboards and other listeners outside the process.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

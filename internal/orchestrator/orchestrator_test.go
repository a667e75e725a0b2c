package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/config"
	"github.com/jamsturg/sturgtrader-sub001/internal/connector"
	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/engine"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
	"github.com/jamsturg/sturgtrader-sub001/internal/feed"
	"github.com/jamsturg/sturgtrader-sub001/internal/planner"
)

var btcUSD = domain.NewTradingPair("BTC", "USD")

type fakeFeed struct {
	id    string
	ticks chan domain.VenueTick
}

func (f *fakeFeed) Exchange() string { return f.id }

func (f *fakeFeed) Stream(ctx context.Context, pairs []domain.TradingPair) (<-chan domain.VenueTick, error) {
	return f.ticks, nil
}

type recordingAdvisor struct {
	called chan struct{}
	result domain.AdvisoryResult
	block  bool
}

func (a *recordingAdvisor) Optimize(ctx context.Context, req domain.AdvisoryRequest) (domain.AdvisoryResult, error) {
	select {
	case a.called <- struct{}{}:
	default:
	}
	if a.block {
		<-ctx.Done()
		return domain.AdvisoryResult{}, ctx.Err()
	}
	return a.result, nil
}

type orchHarness struct {
	orch  *Orchestrator
	live  *config.Live
	alpha *fakeFeed
	beta  *fakeFeed
}

func newOrchHarness(t *testing.T, adv domain.Advisor, orders map[string]domain.OrderConnector, mutate func(*config.ArbitrageConfig)) *orchHarness {
	t.Helper()

	cfg := config.Defaults().Arbitrage
	cfg.MaxSlippageBps = 5 // keep the final profitability gate open for ~0.9% spreads
	if mutate != nil {
		mutate(&cfg)
	}
	live := config.NewLive(cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(64, logger)

	alpha := &fakeFeed{id: "alpha", ticks: make(chan domain.VenueTick, 16)}
	beta := &fakeFeed{id: "beta", ticks: make(chan domain.VenueTick, 16)}

	man := feed.NewManager(feed.ManagerConfig{
		ReconnectMaxAttempts: 3,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    5 * time.Millisecond,
		BufferSize:           64,
	}, []domain.FeedConnector{alpha, beta}, feed.NewNormalizer(nil), bus, nil, logger)

	if orders == nil {
		orders = map[string]domain.OrderConnector{
			"alpha": connector.NewPaper(connector.PaperConfig{Exchange: "alpha"}),
			"beta":  connector.NewPaper(connector.PaperConfig{Exchange: "beta"}),
		}
	}

	eng := engine.New(live, man, orders, bus, nil, nil, logger)
	plan := planner.New(live, logger)
	orch := New(live, man, eng, plan, adv, 50*time.Millisecond, bus, logger)

	t.Cleanup(func() {
		orch.Shutdown()
		bus.Close()
	})

	return &orchHarness{orch: orch, live: live, alpha: alpha, beta: beta}
}

func (h *orchHarness) initialize(t *testing.T) {
	t.Helper()
	exchanges := []domain.Exchange{
		{ID: "alpha", Name: "Alpha", Pairs: []domain.TradingPair{btcUSD}},
		{ID: "beta", Name: "Beta", Pairs: []domain.TradingPair{btcUSD}},
	}
	if err := h.orch.Initialize(exchanges, []domain.TradingPair{btcUSD}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func (h *orchHarness) quoteSpread() {
	now := time.Now().UTC()
	h.alpha.ticks <- domain.VenueTick{Symbol: "BTC-USD", Bid: "100.00", Ask: "100.10", BidSize: "5", AskSize: "5", Timestamp: now}
	h.beta.ticks <- domain.VenueTick{Symbol: "BTC-USD", Bid: "101.00", Ask: "101.10", BidSize: "5", AskSize: "5", Timestamp: now}
}

func (h *orchHarness) waitDetected(t *testing.T) domain.ArbitrageOpportunity {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, opp := range h.orch.GetOpportunities() {
			if opp.Status == domain.StatusDetected {
				return opp
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no opportunity detected")
	return domain.ArbitrageOpportunity{}
}

func TestStartRequiresInitialize(t *testing.T) {
	h := newOrchHarness(t, nil, nil, nil)
	err := h.orch.Start(context.Background(), nil)
	if !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestLifecycleStartStopIdempotence(t *testing.T) {
	h := newOrchHarness(t, nil, nil, nil)
	h.initialize(t)

	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.orch.IsActive() {
		t.Fatal("not active after start")
	}
	// Second start is a warned no-op.
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("second start: %v", err)
	}

	h.orch.Stop()
	if h.orch.IsActive() {
		t.Fatal("still active after stop")
	}
	// Second stop is a warned no-op, not a panic or error.
	h.orch.Stop()

	h.orch.Shutdown()
	h.orch.Shutdown() // idempotent
}

func TestQuerySurface(t *testing.T) {
	h := newOrchHarness(t, nil, nil, nil)
	h.initialize(t)

	exs := h.orch.GetSupportedExchanges()
	if len(exs) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(exs))
	}
	pairs := h.orch.GetSupportedPairs()
	if len(pairs) != 1 || pairs[0] != btcUSD {
		t.Fatalf("pairs = %v, want [BTC/USD]", pairs)
	}
}

func TestExecutePipelineEndToEnd(t *testing.T) {
	h := newOrchHarness(t, nil, nil, nil)
	h.initialize(t)
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.quoteSpread()
	opp := h.waitDetected(t)

	if !h.orch.ExecuteOpportunity(context.Background(), opp.ID) {
		t.Fatal("pipeline execution failed")
	}
	stats := h.orch.GetStats()
	if stats.Executed != 1 {
		t.Fatalf("executed = %d, want 1", stats.Executed)
	}
	if stats.TotalProfitUSD <= 0 {
		t.Fatalf("total profit = %v, want > 0", stats.TotalProfitUSD)
	}
}

func TestExecuteRejectedWhenNotRunning(t *testing.T) {
	h := newOrchHarness(t, nil, nil, nil)
	h.initialize(t)

	if h.orch.ExecuteOpportunity(context.Background(), "any") {
		t.Fatal("execution accepted while stopped")
	}
}

func TestAdvisorTimeoutSkipsOptimization(t *testing.T) {
	adv := &recordingAdvisor{called: make(chan struct{}, 1), block: true}
	h := newOrchHarness(t, adv, nil, nil)
	h.initialize(t)
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.quoteSpread()
	opp := h.waitDetected(t)

	start := time.Now()
	if !h.orch.ExecuteOpportunity(context.Background(), opp.ID) {
		t.Fatal("execution failed; advisory timeout must not abort the plan")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("execution took %v; advisory deadline not enforced", elapsed)
	}

	select {
	case <-adv.called:
	default:
		t.Fatal("advisor was never consulted")
	}
}

func TestAdvisorRecommendationScalesPlan(t *testing.T) {
	adv := &recordingAdvisor{
		called: make(chan struct{}, 1),
		result: domain.AdvisoryResult{SizeScale: 0.5, Confidence: 0.9},
	}
	h := newOrchHarness(t, adv, nil, nil)
	h.initialize(t)
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.quoteSpread()
	opp := h.waitDetected(t)

	if !h.orch.ExecuteOpportunity(context.Background(), opp.ID) {
		t.Fatal("execution failed")
	}

	full := newOrchHarness(t, nil, nil, nil)
	full.initialize(t)
	if err := full.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	full.quoteSpread()
	ref := full.waitDetected(t)
	if !full.orch.ExecuteOpportunity(context.Background(), ref.ID) {
		t.Fatal("reference execution failed")
	}

	scaled := h.orch.GetStats().TotalProfitUSD
	unscaled := full.orch.GetStats().TotalProfitUSD
	if scaled >= unscaled {
		t.Fatalf("scaled profit %v not below unscaled %v", scaled, unscaled)
	}
}

func TestValidationGateAbortsBeforeSubmission(t *testing.T) {
	h := newOrchHarness(t, nil, nil, nil)
	h.initialize(t)
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.quoteSpread()
	opp := h.waitDetected(t)

	// Tighten the minimum after detection: the pre-submission re-check must
	// now reject the plan with zero side effects.
	min := 5.0
	h.orch.UpdateConfig(config.Patch{MinProfitPct: &min})

	if h.orch.ExecuteOpportunity(context.Background(), opp.ID) {
		t.Fatal("execution passed a failing profitability re-check")
	}
	got := h.orch.GetStats()
	if got.Executed != 0 || got.Failed != 0 {
		t.Fatalf("stats mutated: %+v", got)
	}
	for _, o := range h.orch.GetOpportunities() {
		if o.ID == opp.ID && o.Status != domain.StatusDetected {
			t.Fatalf("status = %v, want detected", o.Status)
		}
	}
}

type slowConn struct {
	id    string
	delay time.Duration
}

func (c *slowConn) Exchange() string { return c.id }

func (c *slowConn) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	select {
	case <-time.After(c.delay):
		return domain.OrderResult{
			OrderID:     "slow",
			Status:      domain.OrderStatusFilled,
			FilledPrice: req.LimitPrice,
			FilledSize:  req.Size,
		}, nil
	case <-ctx.Done():
		return domain.OrderResult{Status: domain.OrderStatusTimedOut}, ctx.Err()
	}
}

func (c *slowConn) CancelOrder(ctx context.Context, orderID string) error { return nil }

func TestStopWaitsForInFlightExecution(t *testing.T) {
	orders := map[string]domain.OrderConnector{
		"alpha": &slowConn{id: "alpha", delay: 300 * time.Millisecond},
		"beta":  &slowConn{id: "beta", delay: 300 * time.Millisecond},
	}
	h := newOrchHarness(t, nil, orders, func(cfg *config.ArbitrageConfig) {
		cfg.AutoExecute = true
	})
	h.initialize(t)
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.quoteSpread()

	deadline := time.Now().Add(2 * time.Second)
	for h.orch.GetStats().Executing != 1 {
		if time.Now().After(deadline) {
			t.Fatal("auto-execute never entered EXECUTING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Stop must let the slow legs fill rather than cancelling them.
	h.orch.Stop()

	stats := h.orch.GetStats()
	if stats.Executed != 1 || stats.Failed != 0 {
		t.Fatalf("stats after stop = %+v, want the in-flight execution completed", stats)
	}
	for _, opp := range h.orch.GetOpportunities() {
		if opp.Status == domain.StatusFailed {
			t.Fatalf("execution failed during stop: %q", opp.FailureReason)
		}
	}
}

func TestAutoExecuteDrivenByLiveConfig(t *testing.T) {
	h := newOrchHarness(t, nil, nil, func(cfg *config.ArbitrageConfig) {
		cfg.AutoExecute = true
	})
	h.initialize(t)
	if err := h.orch.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.quoteSpread()

	deadline := time.Now().Add(2 * time.Second)
	for h.orch.GetStats().Executed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("auto-execute never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

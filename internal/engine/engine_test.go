package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/config"
	"github.com/jamsturg/sturgtrader-sub001/internal/connector"
	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
	"github.com/jamsturg/sturgtrader-sub001/internal/feed"
)

var (
	btcUSD = domain.NewTradingPair("BTC", "USD")
	ethUSD = domain.NewTradingPair("ETH", "USD")
)

type fakeFeed struct {
	id    string
	ticks chan domain.VenueTick
}

func (f *fakeFeed) Exchange() string { return f.id }

func (f *fakeFeed) Stream(ctx context.Context, pairs []domain.TradingPair) (<-chan domain.VenueTick, error) {
	return f.ticks, nil
}

type blockingConn struct {
	id      string
	release chan struct{}
}

func (b *blockingConn) Exchange() string { return b.id }

func (b *blockingConn) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	select {
	case <-b.release:
		return domain.OrderResult{
			OrderID:     "blk",
			Status:      domain.OrderStatusFilled,
			FilledPrice: req.LimitPrice,
			FilledSize:  req.Size,
		}, nil
	case <-ctx.Done():
		return domain.OrderResult{Status: domain.OrderStatusTimedOut}, ctx.Err()
	}
}

func (b *blockingConn) CancelOrder(ctx context.Context, orderID string) error { return nil }

type harness struct {
	eng   *Engine
	man   *feed.Manager
	bus   *events.Bus
	live  *config.Live
	alpha *fakeFeed
	beta  *fakeFeed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness starts a two-venue engine (alpha, beta) quoting BTC/USD and
// ETH/USD with zero fees. Orders defaults to immediate paper fills; the
// archiver may be nil.
func newHarness(t *testing.T, orders map[string]domain.OrderConnector, archiver domain.OpportunityArchiver, mutate func(*config.ArbitrageConfig)) *harness {
	t.Helper()

	cfg := config.Defaults().Arbitrage
	if mutate != nil {
		mutate(&cfg)
	}
	live := config.NewLive(cfg)
	logger := testLogger()
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

	eng := New(live, man, orders, bus, nil, archiver, logger)
	eng.Register([]domain.Exchange{
		{ID: "alpha", Name: "Alpha", Pairs: []domain.TradingPair{btcUSD, ethUSD}},
		{ID: "beta", Name: "Beta", Pairs: []domain.TradingPair{btcUSD, ethUSD}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	pairs := []domain.TradingPair{btcUSD, ethUSD}
	if err := man.Subscribe(ctx, "alpha", pairs); err != nil {
		t.Fatalf("subscribe alpha: %v", err)
	}
	if err := man.Subscribe(ctx, "beta", pairs); err != nil {
		t.Fatalf("subscribe beta: %v", err)
	}
	go eng.Run(ctx)

	t.Cleanup(func() {
		cancel()
		man.CloseAll()
		bus.Close()
	})

	return &harness{eng: eng, man: man, bus: bus, live: live, alpha: alpha, beta: beta}
}

func tick(symbol, bid, ask, size string) domain.VenueTick {
	return domain.VenueTick{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		BidSize:   size,
		AskSize:   size,
		Timestamp: time.Now().UTC(),
	}
}

// quoteScenarioA publishes the alpha 100.00/100.10 vs beta 101.00/101.10
// books for the given symbol: buying alpha's ask and selling beta's bid is
// a 0.898% spread.
func (h *harness) quoteScenarioA(symbol string) {
	h.alpha.ticks <- tick(symbol, "100.00", "100.10", "5")
	h.beta.ticks <- tick(symbol, "101.00", "101.10", "5")
}

func (h *harness) waitDetected(t *testing.T, pair domain.TradingPair) domain.ArbitrageOpportunity {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, opp := range h.eng.GetOpportunities() {
			if opp.Pair == pair && opp.Status == domain.StatusDetected {
				return opp
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no detected opportunity for %s", pair.Symbol())
	return domain.ArbitrageOpportunity{}
}

func TestDetectsCrossExchangeSpread(t *testing.T) {
	h := newHarness(t, nil, nil, nil) // min_profit_pct 0.5

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)

	if opp.BuyExchange != "alpha" || opp.SellExchange != "beta" {
		t.Fatalf("wrong direction: buy %s sell %s", opp.BuyExchange, opp.SellExchange)
	}
	if opp.BuyPrice != 100.10 || opp.SellPrice != 101.00 {
		t.Fatalf("wrong prices: buy %.2f sell %.2f", opp.BuyPrice, opp.SellPrice)
	}
	if opp.SpreadPct < 0.89 || opp.SpreadPct > 0.91 {
		t.Fatalf("spread = %.4f, want ~0.898", opp.SpreadPct)
	}
	if opp.SpreadPct < h.live.Get().MinProfitPct {
		t.Fatalf("detected entry below min profit: %.4f", opp.SpreadPct)
	}
	if opp.MaxSize != 5 {
		t.Fatalf("max size = %v, want 5", opp.MaxSize)
	}

	stats := h.eng.GetStats()
	if stats.Detected != 1 || stats.Active != 1 {
		t.Fatalf("stats = %+v, want 1 detected, 1 active", stats)
	}
}

func TestSpreadBelowMinimumIgnored(t *testing.T) {
	h := newHarness(t, nil, nil, func(cfg *config.ArbitrageConfig) {
		cfg.MinProfitPct = 1.0
	})

	h.quoteScenarioA("BTC-USD") // 0.898% < 1.0%
	time.Sleep(200 * time.Millisecond)

	if opps := h.eng.GetOpportunities(); len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0", len(opps))
	}
}

func TestConfigUpdateAffectsNextDetection(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	min := 2.0
	h.live.Apply(config.Patch{MinProfitPct: &min})

	h.quoteScenarioA("BTC-USD")
	time.Sleep(200 * time.Millisecond)

	if opps := h.eng.GetOpportunities(); len(opps) != 0 {
		t.Fatalf("detection used stale config: %d opportunities", len(opps))
	}
}

func simultaneousPlan(opp domain.ArbitrageOpportunity, size float64) *domain.ExecutionPlan {
	return &domain.ExecutionPlan{
		ID:            "plan-" + opp.ID,
		OpportunityID: opp.ID,
		Strategy:      domain.StrategySimultaneous,
		Legs: []domain.PlanLeg{
			{Exchange: opp.BuyExchange, Pair: opp.Pair, Side: domain.OrderSideBuy, LimitPrice: opp.BuyPrice, Size: size},
			{Exchange: opp.SellExchange, Pair: opp.Pair, Side: domain.OrderSideSell, LimitPrice: opp.SellPrice, Size: size},
		},
	}
}

func TestExecuteBothLegsFill(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)

	ok := h.eng.ExecuteOpportunity(context.Background(), opp.ID, simultaneousPlan(opp, 2))
	if !ok {
		t.Fatal("execution failed, want success")
	}

	got, found := h.eng.GetOpportunity(opp.ID)
	if !found || got.Status != domain.StatusExecuted {
		t.Fatalf("status = %v, want executed", got.Status)
	}
	want := (101.00 - 100.10) * 2 // zero fees
	if got.RealizedProfitUSD < want-1e-9 || got.RealizedProfitUSD > want+1e-9 {
		t.Fatalf("realized = %v, want %v", got.RealizedProfitUSD, want)
	}

	stats := h.eng.GetStats()
	if stats.Executed != 1 {
		t.Fatalf("executed count = %d, want 1", stats.Executed)
	}
	if stats.TotalProfitUSD != got.RealizedProfitUSD {
		t.Fatalf("total profit = %v, want %v", stats.TotalProfitUSD, got.RealizedProfitUSD)
	}
}

func TestExecutePartialFailureCompensates(t *testing.T) {
	alphaOrd := connector.NewPaper(connector.PaperConfig{Exchange: "alpha"})
	betaOrd := connector.NewPaper(connector.PaperConfig{Exchange: "beta"})
	orders := map[string]domain.OrderConnector{"alpha": alphaOrd, "beta": betaOrd}
	h := newHarness(t, orders, nil, nil)

	failedEvents, unsub := h.bus.Subscribe()
	defer unsub()

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)

	betaOrd.FailNextOrder() // sell leg fails, buy leg fills

	ok := h.eng.ExecuteOpportunity(context.Background(), opp.ID, simultaneousPlan(opp, 2))
	if ok {
		t.Fatal("execution succeeded, want failure")
	}

	got, found := h.eng.GetOpportunity(opp.ID)
	if !found || got.Status != domain.StatusFailed {
		t.Fatalf("status = %v, want failed", got.Status)
	}
	if !got.CompensationAttempted || !got.CompensationDone {
		t.Fatalf("compensation attempted=%v done=%v, want both true", got.CompensationAttempted, got.CompensationDone)
	}
	if !strings.Contains(got.FailureReason, "beta") {
		t.Fatalf("failure reason %q does not name the failed venue", got.FailureReason)
	}

	// execution_failed must be emitted exactly once.
	count := 0
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case ev := <-failedEvents:
			if ev.Type == domain.EventExecutionFailed {
				count++
			}
		case <-timeout:
			break drain
		default:
			if count > 0 {
				break drain
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	if count != 1 {
		t.Fatalf("execution_failed emitted %d times, want 1", count)
	}

	if stats := h.eng.GetStats(); stats.Failed != 1 || stats.Executed != 0 {
		t.Fatalf("stats = %+v, want 1 failed, 0 executed", stats)
	}
}

func TestExecuteUnknownIDNoSideEffects(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)
	before := h.eng.GetStats()

	if h.eng.ExecuteOpportunity(context.Background(), "no-such-id", simultaneousPlan(opp, 1)) {
		t.Fatal("execution of unknown id succeeded")
	}

	after := h.eng.GetStats()
	if before != after {
		t.Fatalf("stats changed: before %+v after %+v", before, after)
	}
	got, _ := h.eng.GetOpportunity(opp.ID)
	if got.Status != domain.StatusDetected {
		t.Fatalf("registry entry mutated: %v", got.Status)
	}
}

func TestConcurrentExecutionCap(t *testing.T) {
	release := make(chan struct{})
	orders := map[string]domain.OrderConnector{
		"alpha": &blockingConn{id: "alpha", release: release},
		"beta":  &blockingConn{id: "beta", release: release},
	}
	h := newHarness(t, orders, nil, func(cfg *config.ArbitrageConfig) {
		cfg.MaxConcurrentTrades = 1
	})

	h.quoteScenarioA("BTC-USD")
	h.quoteScenarioA("ETH-USD")
	first := h.waitDetected(t, btcUSD)
	second := h.waitDetected(t, ethUSD)

	done := make(chan bool, 1)
	go func() {
		done <- h.eng.ExecuteOpportunity(context.Background(), first.ID, simultaneousPlan(first, 1))
	}()

	// Wait until the first execution holds the slot.
	deadline := time.Now().Add(time.Second)
	for h.eng.GetStats().Executing != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first execution never entered EXECUTING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if h.eng.ExecuteOpportunity(context.Background(), second.ID, simultaneousPlan(second, 1)) {
		t.Fatal("second execution exceeded the concurrency cap")
	}
	got, _ := h.eng.GetOpportunity(second.ID)
	if got.Status != domain.StatusDetected {
		t.Fatalf("rejected execution mutated status: %v", got.Status)
	}

	close(release)
	if ok := <-done; !ok {
		t.Fatal("first execution failed after release")
	}
	if h.eng.GetStats().Executing != 0 {
		t.Fatal("executing count not released")
	}
}

func TestCallerCancellationDoesNotAbortInFlightExecution(t *testing.T) {
	release := make(chan struct{})
	orders := map[string]domain.OrderConnector{
		"alpha": &blockingConn{id: "alpha", release: release},
		"beta":  &blockingConn{id: "beta", release: release},
	}
	h := newHarness(t, orders, nil, nil)

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- h.eng.ExecuteOpportunity(ctx, opp.ID, simultaneousPlan(opp, 1))
	}()

	// Wait until the execution is past the atomic transition, then cancel
	// the caller's context the way a cooperative stop does.
	deadline := time.Now().Add(time.Second)
	for h.eng.GetStats().Executing != 1 {
		if time.Now().After(deadline) {
			t.Fatal("execution never entered EXECUTING")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	time.Sleep(50 * time.Millisecond) // the cancellation must not reach the legs
	close(release)

	if ok := <-done; !ok {
		t.Fatal("in-flight execution aborted by caller cancellation")
	}
	got, _ := h.eng.GetOpportunity(opp.ID)
	if got.Status != domain.StatusExecuted {
		t.Fatalf("status = %v (reason %q), want executed", got.Status, got.FailureReason)
	}
	if got.CompensationAttempted {
		t.Fatal("compensation fired for a successful execution")
	}
}

type captureArchiver struct {
	mu    sync.Mutex
	batch []domain.ArbitrageOpportunity
}

func (c *captureArchiver) Archive(ctx context.Context, opps []domain.ArbitrageOpportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batch = append(c.batch, opps...)
	return nil
}

func (c *captureArchiver) archived() []domain.ArbitrageOpportunity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ArbitrageOpportunity, len(c.batch))
	copy(out, c.batch)
	return out
}

func TestRetentionPrunesAndArchivesTerminalEntries(t *testing.T) {
	arch := &captureArchiver{}
	h := newHarness(t, nil, arch, nil)

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)
	if !h.eng.ExecuteOpportunity(context.Background(), opp.ID, simultaneousPlan(opp, 1)) {
		t.Fatal("execution failed")
	}

	// Inside the 15m retention window the terminal entry stays queryable.
	h.eng.Scan(context.Background(), time.Now().UTC().Add(time.Minute))
	if got, ok := h.eng.GetOpportunity(opp.ID); !ok || got.Status != domain.StatusExecuted {
		t.Fatalf("terminal entry gone inside retention window: ok=%v status=%v", ok, got.Status)
	}

	// Past the window it is pruned and handed to the archiver.
	h.eng.Scan(context.Background(), time.Now().UTC().Add(16*time.Minute))
	if _, ok := h.eng.GetOpportunity(opp.ID); ok {
		t.Fatal("terminal entry still in registry past retention window")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if got := arch.archived(); len(got) > 0 {
			if len(got) != 1 || got[0].ID != opp.ID || got[0].Status != domain.StatusExecuted {
				t.Fatalf("archived batch = %+v, want the executed entry", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pruned entry never reached the archiver")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConfidencePenalizesDisagreeingMids(t *testing.T) {
	cfg := config.Defaults().Arbitrage
	agree := confidence(1.0, 5,
		domain.PriceSnapshot{BestBid: 99.90, BestAsk: 100.00},
		domain.PriceSnapshot{BestBid: 101.00, BestAsk: 101.10},
		cfg,
	)
	disagree := confidence(1.0, 5,
		domain.PriceSnapshot{BestBid: 100.40, BestAsk: 100.60},
		domain.PriceSnapshot{BestBid: 100.45, BestAsk: 100.50},
		cfg,
	)
	if disagree >= agree {
		t.Fatalf("confidence %v not below %v for disagreeing mids", disagree, agree)
	}
}

func TestStaleOpportunityExpires(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.quoteScenarioA("BTC-USD")
	opp := h.waitDetected(t, btcUSD)

	// Well past the 30s staleness window.
	h.eng.Scan(context.Background(), time.Now().UTC().Add(time.Minute))

	for _, got := range h.eng.GetOpportunities() {
		if got.ID == opp.ID {
			t.Fatalf("expired opportunity still visible with status %v", got.Status)
		}
	}
	if stats := h.eng.GetStats(); stats.Expired != 1 || stats.Active != 0 {
		t.Fatalf("stats = %+v, want 1 expired, 0 active", stats)
	}

	// Expired entries cannot be executed.
	if h.eng.ExecuteOpportunity(context.Background(), opp.ID, simultaneousPlan(opp, 1)) {
		t.Fatal("executed an expired opportunity")
	}
}

func TestRefreshKeepsSingleEntryPerDirection(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.quoteScenarioA("BTC-USD")
	first := h.waitDetected(t, btcUSD)

	// Same direction, wider spread: must refresh in place, not duplicate.
	h.alpha.ticks <- tick("BTC-USD", "100.00", "100.10", "5")
	h.beta.ticks <- tick("BTC-USD", "102.00", "102.10", "5")

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := h.eng.GetOpportunity(first.ID)
		if got.SellPrice == 102.00 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entry never refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := len(h.eng.GetOpportunities()); n != 1 {
		t.Fatalf("%d entries for one direction, want 1", n)
	}
	if h.eng.GetStats().Detected != 1 {
		t.Fatal("refresh incremented the detected counter")
	}
}

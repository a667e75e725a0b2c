package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamsturg/sturgtrader-sub001/internal/advisor"
	"github.com/jamsturg/sturgtrader-sub001/internal/config"
	"github.com/jamsturg/sturgtrader-sub001/internal/connector"
	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/engine"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
	"github.com/jamsturg/sturgtrader-sub001/internal/feed"
	"github.com/jamsturg/sturgtrader-sub001/internal/notify"
	"github.com/jamsturg/sturgtrader-sub001/internal/orchestrator"
	"github.com/jamsturg/sturgtrader-sub001/internal/planner"
)

// defaultBasePrices seeds the paper venues' random walks for common pairs.
var defaultBasePrices = map[string]float64{
	"BTC/USD": 65000,
	"ETH/USD": 3200,
	"SOL/USD": 150,
}

// LiveMode streams live market data over websockets. Order routing goes
// through the simulated connector: real venue order APIs are deployed as a
// separate collaborator, so in-process execution fills at the plan's limit
// prices with the configured taker fee.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode (simulated order routing)")

	feeds := make([]domain.FeedConnector, 0, len(a.cfg.Exchanges))
	orders := make(map[string]domain.OrderConnector, len(a.cfg.Exchanges))
	for _, ex := range a.cfg.Exchanges {
		feeds = append(feeds, connector.NewWSConnector(connector.WSConfig{
			Exchange: ex.ID,
			URL:      ex.WSURL,
		}, a.logger))
		orders[ex.ID] = connector.NewPaper(connector.PaperConfig{
			Exchange:    ex.ID,
			TakerFeeBps: ex.TakerFeeBps,
		})
	}

	return a.runCore(ctx, deps, feeds, orders)
}

// PaperMode runs entirely against simulated venues: random-walk market data
// with per-venue drift so cross-exchange spreads appear, and immediate fills.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	basePrices := make(map[string]float64, len(a.cfg.Pairs))
	for _, sym := range a.cfg.Pairs {
		if p, ok := defaultBasePrices[sym]; ok {
			basePrices[sym] = p
		} else {
			basePrices[sym] = 100
		}
	}

	feeds := make([]domain.FeedConnector, 0, len(a.cfg.Exchanges))
	orders := make(map[string]domain.OrderConnector, len(a.cfg.Exchanges))
	for i, ex := range a.cfg.Exchanges {
		// Alternate the drift sign so venues diverge and produce spreads.
		drift := 0.0003
		if i%2 == 1 {
			drift = -drift
		}
		paper := connector.NewPaper(connector.PaperConfig{
			Exchange:    ex.ID,
			BasePrices:  basePrices,
			SpreadBps:   10,
			Drift:       drift,
			TakerFeeBps: ex.TakerFeeBps,
		})
		feeds = append(feeds, paper)
		orders[ex.ID] = paper
	}

	return a.runCore(ctx, deps, feeds, orders)
}

// MonitorMode streams live market data and detects opportunities but never
// executes: no order connectors are wired and auto-execute is forced off.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	a.cfg.Arbitrage.AutoExecute = false

	feeds := make([]domain.FeedConnector, 0, len(a.cfg.Exchanges))
	for _, ex := range a.cfg.Exchanges {
		feeds = append(feeds, connector.NewWSConnector(connector.WSConfig{
			Exchange: ex.ID,
			URL:      ex.WSURL,
		}, a.logger))
	}

	return a.runCore(ctx, deps, feeds, map[string]domain.OrderConnector{})
}

// runCore assembles the detection and execution core around the given
// connectors, starts it, and blocks until ctx is cancelled.
func (a *App) runCore(
	ctx context.Context,
	deps *Dependencies,
	feedConns []domain.FeedConnector,
	orderConns map[string]domain.OrderConnector,
) error {
	exchanges, pairs := a.referenceData()

	live := config.NewLive(a.cfg.Arbitrage)
	bus := events.NewBus(a.cfg.Feed.BufferSize, a.logger)
	defer bus.Close()

	symbolMaps := make(map[string]map[string]string, len(a.cfg.Exchanges))
	for _, ex := range a.cfg.Exchanges {
		if len(ex.SymbolMap) > 0 {
			symbolMaps[ex.ID] = ex.SymbolMap
		}
	}

	manager := feed.NewManager(feed.ManagerConfig{
		ReconnectMaxAttempts: a.cfg.Feed.ReconnectMaxAttempts,
		ReconnectBaseDelay:   a.cfg.Feed.ReconnectBaseDelay.Duration,
		ReconnectMaxDelay:    a.cfg.Feed.ReconnectMaxDelay.Duration,
		BufferSize:           a.cfg.Feed.BufferSize,
	}, feedConns, feed.NewNormalizer(symbolMaps), bus, deps.Snapshots, a.logger)

	eng := engine.New(live, manager, orderConns, bus, deps.Store, deps.Archiver, a.logger)
	plan := planner.New(live, a.logger)

	// The disabled-advisor fallback is the identity advisor, so the
	// execution pipeline is the same shape in every deployment.
	var adv domain.Advisor = advisor.Noop{}
	advisorTimeout := a.cfg.Advisor.Timeout.Duration
	if a.cfg.Advisor.Enabled {
		adv = advisor.NewAgentZero(advisor.AgentZeroConfig{
			URL:     a.cfg.Advisor.URL,
			APIKey:  a.cfg.Advisor.APIKey,
			Timeout: advisorTimeout,
		}, a.logger)
	}

	orch := orchestrator.New(live, manager, eng, plan, adv, advisorTimeout, bus, a.logger)
	if err := orch.Initialize(exchanges, pairs); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if deps.SignalBus != nil {
		repub := events.NewRepublisher(bus, deps.SignalBus, "arbd.events", a.logger)
		g.Go(func() error {
			if err := repub.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	if deps.Notifier != nil {
		listener := notify.NewListener(bus, deps.Notifier)
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := orch.Start(gctx, nil); err != nil {
		orch.Shutdown()
		return err
	}

	g.Go(func() error {
		statsTicker := time.NewTicker(time.Minute)
		defer statsTicker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-statsTicker.C:
				s := orch.GetStats()
				a.logger.Info("stats",
					slog.Int64("detected", s.Detected),
					slog.Int64("executed", s.Executed),
					slog.Int64("failed", s.Failed),
					slog.Int64("expired", s.Expired),
					slog.Int("active", s.Active),
					slog.Float64("total_profit_usd", s.TotalProfitUSD),
					slog.Float64("avg_profit_usd", s.AvgProfitUSD()),
				)
			}
		}
	})

	<-gctx.Done()
	orch.Shutdown()
	return g.Wait()
}

// referenceData builds the exchange and pair reference sets from the config.
func (a *App) referenceData() ([]domain.Exchange, []domain.TradingPair) {
	pairs := make([]domain.TradingPair, 0, len(a.cfg.Pairs))
	for _, sym := range a.cfg.Pairs {
		if p, ok := domain.ParsePair(sym); ok {
			pairs = append(pairs, p)
		}
	}

	exchanges := make([]domain.Exchange, 0, len(a.cfg.Exchanges))
	for _, ex := range a.cfg.Exchanges {
		var exPairs []domain.TradingPair
		if len(ex.Pairs) == 0 {
			exPairs = pairs
		} else {
			for _, sym := range ex.Pairs {
				if p, ok := domain.ParsePair(sym); ok {
					exPairs = append(exPairs, p)
				}
			}
		}
		exchanges = append(exchanges, domain.Exchange{
			ID:          ex.ID,
			Name:        ex.Name,
			Pairs:       exPairs,
			TakerFeeBps: ex.TakerFeeBps,
			WSURL:       ex.WSURL,
		})
	}
	return exchanges, pairs
}

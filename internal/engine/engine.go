// Package engine implements the opportunity engine: it turns normalized
// price updates into a consistent registry of actionable cross-exchange
// opportunities and executes approved ones against the order connectors.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamsturg/sturgtrader-sub001/internal/config"
	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
	"github.com/jamsturg/sturgtrader-sub001/internal/feed"
)

// Engine consumes price updates from the feed manager, maintains the live
// opportunity registry, expires stale entries, and executes approved
// opportunities. The registry and stats are the only broadly shared mutable
// state in the core; every mutation goes through e.mu.
type Engine struct {
	live     *config.Live
	feeds    *feed.Manager
	orders   map[string]domain.OrderConnector
	bus      *events.Bus
	store    domain.OpportunityStore    // optional
	archiver domain.OpportunityArchiver // optional
	logger   *slog.Logger

	mu         sync.RWMutex
	exchanges  []domain.Exchange
	refFeeBps  map[string]float64
	opps       map[string]*domain.ArbitrageOpportunity
	active     map[string]string // direction key -> id of the non-terminal entry
	terminalAt map[string]time.Time
	executing  int
	stats      domain.Stats

	scanInterval time.Duration
}

// New creates an Engine. Store and archiver may be nil; all writes to them
// are best-effort and never gate detection or execution.
func New(
	live *config.Live,
	feeds *feed.Manager,
	orders map[string]domain.OrderConnector,
	bus *events.Bus,
	store domain.OpportunityStore,
	archiver domain.OpportunityArchiver,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		live:         live,
		feeds:        feeds,
		orders:       orders,
		bus:          bus,
		store:        store,
		archiver:     archiver,
		logger:       logger.With(slog.String("component", "opportunity_engine")),
		refFeeBps:    make(map[string]float64),
		opps:         make(map[string]*domain.ArbitrageOpportunity),
		active:       make(map[string]string),
		terminalAt:   make(map[string]time.Time),
		scanInterval: time.Second,
	}
}

// Register sets the exchange reference data used for pairwise detection.
func (e *Engine) Register(exchanges []domain.Exchange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exchanges = exchanges
	for _, ex := range exchanges {
		e.refFeeBps[ex.ID] = ex.TakerFeeBps
	}
}

// Run consumes the update stream and drives the periodic expiry scan. It
// returns when ctx is cancelled or the feed manager closes its stream.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started")
	defer e.logger.Info("engine stopped")

	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()

	updates := e.feeds.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			e.HandleUpdate(ctx, snap)
		case <-ticker.C:
			e.Scan(ctx, time.Now().UTC())
		}
	}
}

// HandleUpdate recomputes spreads for every other healthy exchange that
// quotes the updated pair, in both directions.
func (e *Engine) HandleUpdate(ctx context.Context, snap domain.PriceSnapshot) {
	if !snap.Valid() {
		return
	}

	e.mu.RLock()
	exchanges := e.exchanges
	e.mu.RUnlock()

	for _, other := range exchanges {
		if other.ID == snap.Exchange || !other.Supports(snap.Pair) {
			continue
		}
		if !e.feeds.IsHealthy(other.ID) {
			continue
		}
		peer, ok := e.feeds.GetSnapshot(other.ID, snap.Pair)
		if !ok || !peer.Valid() {
			continue
		}
		e.evaluate(ctx, snap, peer)
		e.evaluate(ctx, peer, snap)
	}
}

// evaluate computes the buy-on-buySnap / sell-on-sellSnap direction and
// upserts an opportunity when the net spread clears the configured minimum.
// The min-profit filter runs before insertion, never after.
func (e *Engine) evaluate(ctx context.Context, buySnap, sellSnap domain.PriceSnapshot) {
	buyPrice := buySnap.BestAsk
	sellPrice := sellSnap.BestBid
	if buyPrice <= 0 || sellPrice <= buyPrice {
		return
	}

	cfg := e.live.Get()
	spreadPct := (sellPrice - buyPrice) / buyPrice * 100
	feePct := (e.feeBps(cfg, buySnap.Exchange) + e.feeBps(cfg, sellSnap.Exchange)) / 100
	profitPct := spreadPct - feePct
	if profitPct < cfg.MinProfitPct {
		return
	}

	maxSize := buySnap.AskSize
	if sellSnap.BidSize < maxSize {
		maxSize = sellSnap.BidSize
	}
	profitUSD := maxSize * buyPrice * profitPct / 100

	now := time.Now().UTC()
	opp := domain.ArbitrageOpportunity{
		Pair:         buySnap.Pair,
		BuyExchange:  buySnap.Exchange,
		SellExchange: sellSnap.Exchange,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
		SpreadPct:    spreadPct,
		ProfitPct:    profitPct,
		ProfitUSD:    profitUSD,
		MaxSize:      maxSize,
		Confidence:   confidence(profitPct, maxSize, buySnap, sellSnap, cfg),
		Status:       domain.StatusDetected,
		DetectedAt:   now,
		RefreshedAt:  now,
	}

	e.upsert(ctx, opp, cfg)
}

// upsert refreshes the existing DETECTED entry for the direction in place,
// or inserts a new one and emits detection events.
func (e *Engine) upsert(ctx context.Context, opp domain.ArbitrageOpportunity, cfg config.ArbitrageConfig) {
	key := opp.DirectionKey()

	e.mu.Lock()
	if id, ok := e.active[key]; ok {
		cur := e.opps[id]
		if cur.Status != domain.StatusDetected {
			// Executing: leave the record to the execution path.
			e.mu.Unlock()
			return
		}
		cur.BuyPrice = opp.BuyPrice
		cur.SellPrice = opp.SellPrice
		cur.SpreadPct = opp.SpreadPct
		cur.ProfitPct = opp.ProfitPct
		cur.ProfitUSD = opp.ProfitUSD
		cur.MaxSize = opp.MaxSize
		cur.Confidence = opp.Confidence
		cur.RefreshedAt = opp.RefreshedAt
		e.mu.Unlock()
		return
	}

	opp.ID = uuid.NewString()
	stored := opp
	e.opps[opp.ID] = &stored
	e.active[key] = opp.ID
	e.stats.Detected++
	e.mu.Unlock()

	e.logger.Info("opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.Pair.Symbol()),
		slog.String("buy", opp.BuyExchange),
		slog.String("sell", opp.SellExchange),
		slog.Float64("spread_pct", opp.SpreadPct),
		slog.Float64("profit_usd", opp.ProfitUSD),
	)

	detected := opp
	e.bus.Publish(domain.Event{Type: domain.EventOpportunityDetected, Opportunity: &detected})
	if opp.ProfitPct >= cfg.HighProfitPct {
		high := opp
		e.bus.Publish(domain.Event{Type: domain.EventHighProfitOpportunity, Opportunity: &high})
	}

	e.persist(func(sctx context.Context) error { return e.store.Insert(sctx, opp) })
}

// Scan expires unrefreshed DETECTED entries and prunes terminal entries
// past the retention window, archiving them when an archiver is wired.
func (e *Engine) Scan(ctx context.Context, now time.Time) {
	cfg := e.live.Get()

	var archived []domain.ArbitrageOpportunity

	e.mu.Lock()
	for key, id := range e.active {
		opp := e.opps[id]
		if opp.Status != domain.StatusDetected {
			continue
		}
		if now.Sub(opp.RefreshedAt) <= cfg.StalenessWindow.Duration {
			continue
		}
		// Stale entries expire silently; they are never executed and never
		// surfaced as errors.
		opp.Status = domain.StatusExpired
		e.stats.Expired++
		delete(e.active, key)
		delete(e.opps, id)
		archived = append(archived, *opp)
	}
	for id, opp := range e.opps {
		if !opp.Status.Terminal() {
			continue
		}
		at, ok := e.terminalAt[id]
		if !ok || now.Sub(at) <= cfg.RetentionWindow.Duration {
			continue
		}
		delete(e.opps, id)
		delete(e.terminalAt, id)
		archived = append(archived, *opp)
	}
	e.mu.Unlock()

	if len(archived) == 0 {
		return
	}
	e.logger.Debug("registry pruned", slog.Int("count", len(archived)))
	if e.archiver != nil {
		batch := archived
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.archiver.Archive(actx, batch); err != nil {
				e.logger.Warn("archive failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// GetOpportunities returns a copy of every registry entry that has not
// expired: live detections, in-flight executions, and terminal outcomes
// still inside the retention window. It never blocks detection.
func (e *Engine) GetOpportunities() []domain.ArbitrageOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ArbitrageOpportunity, 0, len(e.opps))
	for _, opp := range e.opps {
		out = append(out, *opp)
	}
	return out
}

// GetOpportunity returns one entry by id.
func (e *Engine) GetOpportunity(id string) (domain.ArbitrageOpportunity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	opp, ok := e.opps[id]
	if !ok {
		return domain.ArbitrageOpportunity{}, false
	}
	return *opp, true
}

// GetStats returns the aggregate counters.
func (e *Engine) GetStats() domain.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	s.Active = len(e.active)
	s.Executing = e.executing
	return s
}

// feeBps returns the fee allowance for one venue: the live config override
// when present, otherwise the exchange reference fee.
func (e *Engine) feeBps(cfg config.ArbitrageConfig, exchange string) float64 {
	if v, ok := cfg.PerVenueFeeBps[exchange]; ok {
		return v
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.refFeeBps[exchange]
}

// persist runs a best-effort store write off the hot path.
func (e *Engine) persist(fn func(ctx context.Context) error) {
	if e.store == nil {
		return
	}
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(sctx); err != nil {
			e.logger.Warn("store write failed", slog.String("error", err.Error()))
		}
	}()
}

// confidence scores a detection in [0, 1]: the base grows with net profit
// relative to the high-profit threshold and is damped when no size is
// visible on either book or when the venues' mid prices disagree with the
// direction.
func confidence(profitPct, maxSize float64, buy, sell domain.PriceSnapshot, cfg config.ArbitrageConfig) float64 {
	score := 0.5
	if cfg.HighProfitPct > 0 {
		score += 0.4 * profitPct / cfg.HighProfitPct
	}
	if maxSize <= 0 {
		score -= 0.25
	}
	// A spread that exists only at the touch, with the sell venue's mid at
	// or below the buy venue's, is likelier stale quote noise than a real
	// dislocation.
	if sell.Mid() <= buy.Mid() {
		score -= 0.15
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

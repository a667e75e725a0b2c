package connector

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// PaperConfig configures a simulated venue.
type PaperConfig struct {
	Exchange string
	// BasePrices seeds the random walk per canonical pair symbol.
	BasePrices map[string]float64
	// SpreadBps is the simulated bid-ask spread around mid.
	SpreadBps float64
	// Drift skews the walk so venues diverge and produce spreads.
	Drift        float64
	TickInterval time.Duration
	TakerFeeBps  float64
	// Seed makes the walk reproducible; 0 seeds from the clock.
	Seed int64
}

// Paper is a simulated venue implementing both the feed and order ports.
// Prices follow a random walk around the configured base prices and orders
// fill immediately at their limit price.
type Paper struct {
	cfg PaperConfig

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
	// failNext, when set, fails the next PlaceOrder call. Used to exercise
	// partial-failure handling in paper mode.
	failNext bool
}

// NewPaper creates a simulated venue.
func NewPaper(cfg PaperConfig) *Paper {
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 10
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prices := make(map[string]float64, len(cfg.BasePrices))
	for sym, p := range cfg.BasePrices {
		prices[sym] = p
	}
	return &Paper{
		cfg:    cfg,
		prices: prices,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Exchange returns the simulated venue id.
func (p *Paper) Exchange() string {
	return p.cfg.Exchange
}

// Stream emits one tick per pair per interval until ctx is cancelled.
func (p *Paper) Stream(ctx context.Context, pairs []domain.TradingPair) (<-chan domain.VenueTick, error) {
	out := make(chan domain.VenueTick, 64)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, pair := range pairs {
					tick, ok := p.nextTick(pair)
					if !ok {
						continue
					}
					select {
					case out <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// nextTick advances the walk for one pair and renders a raw tick.
func (p *Paper) nextTick(pair domain.TradingPair) (domain.VenueTick, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sym := pair.Symbol()
	mid, ok := p.prices[sym]
	if !ok {
		return domain.VenueTick{}, false
	}
	step := mid * (p.cfg.Drift + (p.rng.Float64()-0.5)*0.002)
	mid += step
	if mid <= 0 {
		mid = p.cfg.BasePrices[sym]
	}
	p.prices[sym] = mid

	half := mid * p.cfg.SpreadBps / 2 / 10000
	return domain.VenueTick{
		Symbol:    sym,
		Bid:       strconv.FormatFloat(mid-half, 'f', -1, 64),
		Ask:       strconv.FormatFloat(mid+half, 'f', -1, 64),
		BidSize:   strconv.FormatFloat(1+p.rng.Float64()*4, 'f', 4, 64),
		AskSize:   strconv.FormatFloat(1+p.rng.Float64()*4, 'f', 4, 64),
		Timestamp: time.Now().UTC(),
	}, true
}

// PlaceOrder fills the order at its limit price and charges the configured
// taker fee. FailNextOrder can force a venue error for drill runs.
func (p *Paper) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusTimedOut}, err
	}

	p.mu.Lock()
	fail := p.failNext
	p.failNext = false
	p.mu.Unlock()
	if fail {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Message: "simulated venue error"},
			fmt.Errorf("paper: %s: simulated venue error", p.cfg.Exchange)
	}

	notional := req.LimitPrice * req.Size
	return domain.OrderResult{
		OrderID:     uuid.NewString(),
		Status:      domain.OrderStatusFilled,
		FilledPrice: req.LimitPrice,
		FilledSize:  req.Size,
		FeeUSD:      notional * p.cfg.TakerFeeBps / 10000,
	}, nil
}

// CancelOrder is a no-op: paper orders fill immediately.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

// FailNextOrder makes the next PlaceOrder call return a venue error.
func (p *Paper) FailNextOrder() {
	p.mu.Lock()
	p.failNext = true
	p.mu.Unlock()
}

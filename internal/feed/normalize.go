// Package feed implements the feed manager: one live subscription per
// exchange, venue message normalization at the boundary, and a single
// authoritative price view per (exchange, pair).
package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// Normalizer converts venue-specific ticks into the internal snapshot
// schema. All venue symbol and decimal quirks are isolated here; the engine
// and planner never see raw venue payloads.
type Normalizer struct {
	// symbolMaps maps exchange id -> venue symbol -> canonical pair.
	symbolMaps map[string]map[string]domain.TradingPair
}

// NewNormalizer builds a Normalizer from per-exchange symbol maps keyed by
// venue symbol with canonical "BASE/QUOTE" values.
func NewNormalizer(symbolMaps map[string]map[string]string) *Normalizer {
	n := &Normalizer{symbolMaps: make(map[string]map[string]domain.TradingPair, len(symbolMaps))}
	for exchange, m := range symbolMaps {
		pairs := make(map[string]domain.TradingPair, len(m))
		for venueSym, canonical := range m {
			if pair, ok := domain.ParsePair(canonical); ok {
				pairs[strings.ToUpper(venueSym)] = pair
			}
		}
		n.symbolMaps[exchange] = pairs
	}
	return n
}

// Normalize maps a raw tick from the given exchange into a PriceSnapshot
// (without a sequence number, which the manager assigns). It returns an
// error for unknown symbols or unparsable decimals.
func (n *Normalizer) Normalize(exchange string, tick domain.VenueTick) (domain.PriceSnapshot, error) {
	pair, err := n.mapSymbol(exchange, tick.Symbol)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}

	bid, err := parseDecimal(tick.Bid)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("feed: %s %s bid: %w", exchange, tick.Symbol, err)
	}
	ask, err := parseDecimal(tick.Ask)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("feed: %s %s ask: %w", exchange, tick.Symbol, err)
	}
	bidSize, _ := parseDecimal(tick.BidSize)
	askSize, _ := parseDecimal(tick.AskSize)

	ts := tick.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return domain.PriceSnapshot{
		Exchange:  exchange,
		Pair:      pair,
		BestBid:   bid,
		BestAsk:   ask,
		BidSize:   bidSize,
		AskSize:   askSize,
		Timestamp: ts,
	}, nil
}

// mapSymbol resolves a venue symbol via the configured map, then falls back
// to common separator conventions ("BTC-USD", "BTC_USD", "BTC/USD").
func (n *Normalizer) mapSymbol(exchange, symbol string) (domain.TradingPair, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if m, ok := n.symbolMaps[exchange]; ok {
		if pair, ok := m[sym]; ok {
			return pair, nil
		}
	}
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(sym, sep); ok && base != "" && quote != "" {
			return domain.NewTradingPair(base, quote), nil
		}
	}
	return domain.TradingPair{}, fmt.Errorf("feed: %s: unmapped symbol %q", exchange, symbol)
}

// parseDecimal parses a venue decimal string. Empty strings parse to 0,
// which callers treat as "size unknown" for size fields.
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return f, nil
}

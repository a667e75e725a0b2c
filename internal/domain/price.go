package domain

import "time"

// VenueTick is the raw shape delivered by a feed connector before
// normalization. Symbols and decimals are venue-specific; only the feed
// layer may consume this type.
type VenueTick struct {
	Symbol    string // venue-specific, e.g. "XBTUSD" or "BTC-USD"
	Bid       string
	Ask       string
	BidSize   string
	AskSize   string
	Timestamp time.Time
}

// PriceSnapshot is the latest normalized best bid/ask for one
// (exchange, pair). It is owned by the feed manager and overwritten on each
// update; Sequence increases monotonically per (exchange, pair).
type PriceSnapshot struct {
	Exchange  string
	Pair      TradingPair
	BestBid   float64
	BestAsk   float64
	BidSize   float64
	AskSize   float64
	Sequence  uint64
	Timestamp time.Time
}

// Valid reports whether the snapshot carries a usable two-sided quote.
func (s PriceSnapshot) Valid() bool {
	return s.BestBid > 0 && s.BestAsk > 0 && s.BestAsk >= s.BestBid
}

// Mid returns the mid price, or 0 when the snapshot is one-sided.
func (s PriceSnapshot) Mid() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return (s.BestBid + s.BestAsk) / 2
}

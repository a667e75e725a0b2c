// Package domain contains the core types and port interfaces of the
// arbitrage subsystem. It is dependency-free; all third-party integrations
// live in adapter packages that implement the interfaces defined here.
package domain

import "strings"

// TradingPair is an immutable base/quote symbol pair, e.g. BTC/USD.
type TradingPair struct {
	Base  string
	Quote string
}

// NewTradingPair builds a pair from upper-cased base and quote symbols.
func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// Symbol returns the canonical "BASE/QUOTE" representation.
func (p TradingPair) Symbol() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p TradingPair) IsZero() bool {
	return p.Base == "" || p.Quote == ""
}

// ParsePair parses a canonical "BASE/QUOTE" symbol. The second return value
// is false when the symbol is malformed.
func ParsePair(symbol string) (TradingPair, bool) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return TradingPair{}, false
	}
	return NewTradingPair(base, quote), true
}

// Exchange is the reference data for one trading venue. Exchanges are
// registered at initialization and never removed at runtime; liveness is
// tracked separately by the feed layer.
type Exchange struct {
	ID          string
	Name        string
	Pairs       []TradingPair
	TakerFeeBps float64
	WSURL       string
}

// Supports reports whether the exchange quotes the given pair.
func (e Exchange) Supports(pair TradingPair) bool {
	for _, p := range e.Pairs {
		if p == pair {
			return true
		}
	}
	return false
}

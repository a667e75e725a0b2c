package feed

import (
	"testing"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

func TestNormalizeSymbolMap(t *testing.T) {
	n := NewNormalizer(map[string]map[string]string{
		"kraken": {"XBTUSD": "BTC/USD"},
	})

	snap, err := n.Normalize("kraken", domain.VenueTick{
		Symbol: "xbtusd", // case-insensitive
		Bid:    "100.1",
		Ask:    "100.2",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if snap.Pair != domain.NewTradingPair("BTC", "USD") {
		t.Fatalf("pair = %v, want BTC/USD", snap.Pair)
	}
}

func TestNormalizeSeparatorFallback(t *testing.T) {
	n := NewNormalizer(nil)
	for _, sym := range []string{"ETH/USD", "ETH-USD", "ETH_USD"} {
		snap, err := n.Normalize("alpha", domain.VenueTick{Symbol: sym, Bid: "1", Ask: "2"})
		if err != nil {
			t.Fatalf("%s: %v", sym, err)
		}
		if snap.Pair.Symbol() != "ETH/USD" {
			t.Fatalf("%s mapped to %s", sym, snap.Pair.Symbol())
		}
	}
}

func TestNormalizeUnknownSymbol(t *testing.T) {
	n := NewNormalizer(nil)
	if _, err := n.Normalize("alpha", domain.VenueTick{Symbol: "XBTUSD", Bid: "1", Ask: "2"}); err == nil {
		t.Fatal("unmapped symbol accepted")
	}
}

func TestNormalizeBadDecimalRejected(t *testing.T) {
	n := NewNormalizer(nil)
	if _, err := n.Normalize("alpha", domain.VenueTick{Symbol: "BTC-USD", Bid: "1,00", Ask: "2"}); err == nil {
		t.Fatal("bad decimal accepted")
	}
}

func TestNormalizeEmptySizesAreZero(t *testing.T) {
	n := NewNormalizer(nil)
	snap, err := n.Normalize("alpha", domain.VenueTick{Symbol: "BTC-USD", Bid: "1", Ask: "2"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if snap.BidSize != 0 || snap.AskSize != 0 {
		t.Fatalf("sizes = %v/%v, want 0/0", snap.BidSize, snap.AskSize)
	}
	if snap.Timestamp.IsZero() {
		t.Fatal("missing timestamp not defaulted")
	}
}

func TestNormalizeKeepsVenueTimestamp(t *testing.T) {
	n := NewNormalizer(nil)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap, err := n.Normalize("alpha", domain.VenueTick{Symbol: "BTC-USD", Bid: "1", Ask: "2", Timestamp: ts})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !snap.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", snap.Timestamp, ts)
	}
}

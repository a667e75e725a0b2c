// Package connector provides venue adapters implementing the feed and
// order ports: a websocket streaming connector for live venues and a paper
// connector for simulated trading.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// WSConfig configures a websocket feed connector for one exchange.
type WSConfig struct {
	Exchange string
	URL      string
	// SymbolSeparator joins base and quote for the venue's subscribe
	// message, e.g. "-" for "BTC-USD". Defaults to "-".
	SymbolSeparator  string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
}

// WSConnector streams ticker updates over a websocket connection. Each
// Stream call owns one connection; the returned channel closes when the
// transport fails, which is the explicit disconnect signal the feed manager
// reconnects on.
type WSConnector struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWSConnector creates a websocket connector for the given venue.
func NewWSConnector(cfg WSConfig, logger *slog.Logger) *WSConnector {
	if cfg.SymbolSeparator == "" {
		cfg.SymbolSeparator = "-"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &WSConnector{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With(
			slog.String("component", "ws_connector"),
			slog.String("exchange", cfg.Exchange),
		),
	}
}

// Exchange returns the venue id this connector serves.
func (c *WSConnector) Exchange() string {
	return c.cfg.Exchange
}

// subscribeMessage is the outbound subscription request.
type subscribeMessage struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// tickerMessage is the inbound ticker shape. Prices and sizes arrive as
// strings; decimal normalization happens at the feed manager boundary.
type tickerMessage struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	BidSize string `json:"bid_size"`
	AskSize string `json:"ask_size"`
	TS      int64  `json:"ts"` // unix milliseconds
}

// Stream dials the venue, subscribes to the ticker channel for the given
// pairs, and returns the raw tick stream. The channel is closed on any read
// error or when ctx is cancelled.
func (c *WSConnector) Stream(ctx context.Context, pairs []domain.TradingPair) (<-chan domain.VenueTick, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", c.cfg.URL, err)
	}

	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, p.Base+c.cfg.SymbolSeparator+p.Quote)
	}
	sub := subscribeMessage{Op: "subscribe", Channel: "ticker", Symbols: symbols}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ws: subscribe %s: %w", c.cfg.Exchange, err)
	}

	out := make(chan domain.VenueTick, 64)
	go c.readLoop(ctx, conn, out)
	return out, nil
}

// readLoop consumes messages until the connection drops or ctx is
// cancelled, then closes both the connection and the tick channel.
func (c *WSConnector) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.VenueTick) {
	defer close(out)
	defer conn.Close()

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	pinger := time.NewTicker(c.cfg.PingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-pinger.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("read failed", slog.String("error", err.Error()))
			}
			return
		}

		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("unparsable message skipped", slog.Int("len", len(data)))
			continue
		}
		if msg.Channel != "" && !strings.EqualFold(msg.Channel, "ticker") {
			continue
		}
		if msg.Symbol == "" {
			continue
		}

		tick := domain.VenueTick{
			Symbol:    msg.Symbol,
			Bid:       msg.Bid,
			Ask:       msg.Ask,
			BidSize:   msg.BidSize,
			AskSize:   msg.AskSize,
			Timestamp: time.UnixMilli(msg.TS),
		}
		if msg.TS == 0 {
			tick.Timestamp = time.Now().UTC()
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
	}
}

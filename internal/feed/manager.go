package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
)

// ManagerConfig holds reconnect and buffering parameters.
type ManagerConfig struct {
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	BufferSize           int
}

type snapKey struct {
	exchange string
	pair     domain.TradingPair
}

// Manager keeps one live subscription per exchange, normalizes inbound
// ticks, maintains the latest snapshot per (exchange, pair), and republishes
// normalized updates on a single internal channel. Per-(exchange, pair)
// arrival order is preserved; there is no cross-pair ordering guarantee.
type Manager struct {
	cfg        ManagerConfig
	connectors map[string]domain.FeedConnector
	norm       *Normalizer
	bus        *events.Bus
	mirror     domain.SnapshotCache // optional, best-effort
	logger     *slog.Logger

	mu        sync.RWMutex
	snapshots map[snapKey]domain.PriceSnapshot
	healthy   map[string]bool

	out       chan domain.PriceSnapshot
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a Manager over the given connectors. The mirror cache
// may be nil.
func NewManager(
	cfg ManagerConfig,
	connectors []domain.FeedConnector,
	norm *Normalizer,
	bus *events.Bus,
	mirror domain.SnapshotCache,
	logger *slog.Logger,
) *Manager {
	byID := make(map[string]domain.FeedConnector, len(connectors))
	for _, c := range connectors {
		byID[c.Exchange()] = c
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	return &Manager{
		cfg:        cfg,
		connectors: byID,
		norm:       norm,
		bus:        bus,
		mirror:     mirror,
		logger:     logger.With(slog.String("component", "feed_manager")),
		snapshots:  make(map[snapKey]domain.PriceSnapshot),
		healthy:    make(map[string]bool),
		out:        make(chan domain.PriceSnapshot, cfg.BufferSize),
		done:       make(chan struct{}),
	}
}

// Updates returns the normalized update stream. The channel is closed by
// CloseAll after all read loops have stopped.
func (m *Manager) Updates() <-chan domain.PriceSnapshot {
	return m.out
}

// Subscribe opens the persistent subscription for one exchange and starts
// its read loop. It returns an error for unknown exchanges; transport
// failures are handled inside the loop via reconnect-with-backoff.
func (m *Manager) Subscribe(ctx context.Context, exchange string, pairs []domain.TradingPair) error {
	conn, ok := m.connectors[exchange]
	if !ok {
		return fmt.Errorf("feed: subscribe %s: %w", exchange, domain.ErrUnknownExchange)
	}
	m.wg.Add(1)
	go m.run(ctx, conn, pairs)
	return nil
}

// run is the per-exchange read loop: connect, consume ticks, reconnect with
// exponential backoff on failure. After the attempt ceiling is reached it
// emits max_reconnect_attempts_reached, marks the exchange unhealthy, and
// exits without affecting other exchanges.
func (m *Manager) run(ctx context.Context, conn domain.FeedConnector, pairs []domain.TradingPair) {
	defer m.wg.Done()

	exchange := conn.Exchange()
	log := m.logger.With(slog.String("exchange", exchange))
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		stream, err := conn.Stream(ctx, pairs)
		if err != nil {
			attempts++
			if attempts >= m.cfg.ReconnectMaxAttempts {
				log.Error("reconnect attempts exhausted",
					slog.Int("attempts", attempts),
					slog.String("error", err.Error()),
				)
				m.setHealthy(exchange, false)
				m.bus.Publish(domain.Event{
					Type:     domain.EventMaxReconnectAttemptsReached,
					Exchange: exchange,
					Reason:   err.Error(),
				})
				return
			}
			delay := m.backoff(attempts)
			log.Warn("feed connect failed, retrying",
				slog.Int("attempt", attempts),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempts = 0
		m.setHealthy(exchange, true)
		log.Info("feed connected", slog.Int("pairs", len(pairs)))

		if !m.consume(ctx, exchange, stream) {
			return
		}
		// Stream closed: explicit disconnect signal from the connector.
		m.setHealthy(exchange, false)
		log.Warn("feed disconnected, reconnecting")
	}
}

// consume drains one connection's tick stream. It returns false when the
// manager is shutting down.
func (m *Manager) consume(ctx context.Context, exchange string, stream <-chan domain.VenueTick) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-m.done:
			return false
		case tick, ok := <-stream:
			if !ok {
				return true
			}
			m.handleTick(ctx, exchange, tick)
		}
	}
}

// handleTick normalizes a tick, updates the snapshot table, and publishes
// exactly one update downstream.
func (m *Manager) handleTick(ctx context.Context, exchange string, tick domain.VenueTick) {
	snap, err := m.norm.Normalize(exchange, tick)
	if err != nil {
		m.logger.Debug("tick dropped",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		return
	}

	key := snapKey{exchange: exchange, pair: snap.Pair}
	m.mu.Lock()
	snap.Sequence = m.snapshots[key].Sequence + 1
	m.snapshots[key] = snap
	m.mu.Unlock()

	if m.mirror != nil {
		if err := m.mirror.SetSnapshot(ctx, snap); err != nil {
			m.logger.Debug("snapshot mirror failed", slog.String("error", err.Error()))
		}
	}

	select {
	case m.out <- snap:
	case <-m.done:
	case <-ctx.Done():
	}
}

// GetSnapshot returns the latest snapshot for (exchange, pair). The second
// return value is false when no update has been received or the exchange is
// currently unhealthy.
func (m *Manager) GetSnapshot(exchange string, pair domain.TradingPair) (domain.PriceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.healthy[exchange] {
		return domain.PriceSnapshot{}, false
	}
	snap, ok := m.snapshots[snapKey{exchange: exchange, pair: pair}]
	return snap, ok
}

// IsHealthy reports whether the exchange's feed is currently connected.
func (m *Manager) IsHealthy(exchange string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy[exchange]
}

func (m *Manager) setHealthy(exchange string, ok bool) {
	m.mu.Lock()
	m.healthy[exchange] = ok
	m.mu.Unlock()
}

// CloseAll terminates all read loops and closes the update channel. It is
// idempotent and safe to call from error paths during shutdown.
func (m *Manager) CloseAll() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		close(m.out)
		m.logger.Info("all feeds closed")
	})
}

// backoff returns the exponential reconnect delay for the given attempt.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMaxDelay {
			return m.cfg.ReconnectMaxDelay
		}
	}
	return delay
}

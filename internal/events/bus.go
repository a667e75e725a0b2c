// Package events provides the in-process fan-out bus for domain events.
// The event type set is fixed and enumerated in the domain package;
// subscribers receive every published event on their own buffered channel.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// Bus fans events out to all subscribers. Publish never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// counted, so a slow listener cannot stall detection or execution.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan domain.Event
	nextID  int
	buffer  int
	closed  bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a Bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan domain.Event),
		buffer: buffer,
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a new listener and returns its channel together with
// an unsubscribe function. The channel is closed on unsubscribe or when the
// bus is closed.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, unsub
}

// Publish stamps the event and delivers it to every subscriber.
func (b *Bus) Publish(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Concurrent publishers share the RLock, so the counter must
			// be atomic.
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, event dropped",
				slog.String("event", string(ev.Type)),
			)
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish becomes a no-op. Safe to
// call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Republisher forwards bus events to an external signal bus as JSON, both
// on a shared channel and on a per-type channel. Used to expose the event
// surface to out-of-process listeners.
type Republisher struct {
	bus     *Bus
	signal  domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewRepublisher creates a Republisher that publishes to channel and
// channel+"."+<event type>.
func NewRepublisher(bus *Bus, signal domain.SignalBus, channel string, logger *slog.Logger) *Republisher {
	return &Republisher{
		bus:     bus,
		signal:  signal,
		channel: channel,
		logger:  logger.With(slog.String("component", "event_republisher")),
	}
}

// Run forwards events until ctx is cancelled or the bus closes. Publish
// failures are logged and skipped; the external bus is best-effort.
func (r *Republisher) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := r.signal.Publish(ctx, r.channel, payload); err != nil {
				r.logger.Warn("republish failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
				continue
			}
			_ = r.signal.Publish(ctx, r.channel+"."+string(ev.Type), payload)
		}
	}
}

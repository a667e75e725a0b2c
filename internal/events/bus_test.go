package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOutToAllSubscribers(t *testing.T) {
	b := NewBus(4, testLogger())
	defer b.Close()

	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(domain.Event{Type: domain.EventOpportunityDetected})

	for i, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != domain.EventOpportunityDetected {
				t.Fatalf("subscriber %d got %s", i, ev.Type)
			}
			if ev.At.IsZero() {
				t.Fatalf("subscriber %d: event not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(1, testLogger())
	defer b.Close()

	_, unsub := b.Subscribe() // never read
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(domain.Event{Type: domain.EventExecutionStarted})
		b.Publish(domain.Event{Type: domain.EventExecutionStarted})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if b.Dropped() == 0 {
		t.Fatal("overflow not counted")
	}
}

func TestConcurrentPublishersCountEveryDrop(t *testing.T) {
	b := NewBus(1, testLogger())
	defer b.Close()

	_, unsub := b.Subscribe() // never read; one event fills the buffer
	defer unsub()

	const publishers = 4
	const perPublisher = 500
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(domain.Event{Type: domain.EventExecutionStarted})
			}
		}()
	}
	wg.Wait()

	// Everything except the single buffered event is dropped.
	if got, want := b.Dropped(), uint64(publishers*perPublisher-1); got != want {
		t.Fatalf("dropped = %d, want %d", got, want)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(4, testLogger())
	defer b.Close()

	ch, unsub := b.Subscribe()
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(domain.Event{Type: domain.EventExecutionFailed})
}

func TestCloseIdempotentAndTerminal(t *testing.T) {
	b := NewBus(4, testLogger())
	ch, _ := b.Subscribe()

	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after bus close")
	}

	// Subscribe after close yields a closed channel.
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("late subscription not closed")
	}
	b.Publish(domain.Event{Type: domain.EventExecutionFailed}) // no-op
}

type memorySignalBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (m *memorySignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payloads == nil {
		m.payloads = make(map[string][][]byte)
	}
	m.payloads[channel] = append(m.payloads[channel], payload)
	return nil
}

func (m *memorySignalBus) count(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads[channel])
}

func TestRepublisherForwardsJSON(t *testing.T) {
	b := NewBus(4, testLogger())
	defer b.Close()

	signal := &memorySignalBus{}
	r := NewRepublisher(b, signal, "arbd.events", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Give the republisher time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	b.Publish(domain.Event{Type: domain.EventHighProfitOpportunity, Reason: "test"})

	deadline := time.Now().Add(time.Second)
	for signal.count("arbd.events") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never republished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if signal.count("arbd.events.high_profit_opportunity") == 0 {
		t.Fatal("per-type channel not published")
	}

	signal.mu.Lock()
	payload := signal.payloads["arbd.events"][0]
	signal.mu.Unlock()
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if ev.Type != domain.EventHighProfitOpportunity {
		t.Fatalf("payload type = %s", ev.Type)
	}
}

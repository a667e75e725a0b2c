package notify

import (
	"context"
	"fmt"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
	"github.com/jamsturg/sturgtrader-sub001/internal/events"
)

// Listener consumes the in-process event bus and renders each event into an
// operator-facing notification. Delivery failures are logged by the
// Notifier and never fed back into the pipeline.
type Listener struct {
	bus      *events.Bus
	notifier *Notifier
}

// NewListener creates a Listener over the given bus and notifier.
func NewListener(bus *events.Bus, notifier *Notifier) *Listener {
	return &Listener{bus: bus, notifier: notifier}
}

// Run forwards events until ctx is cancelled or the bus closes.
func (l *Listener) Run(ctx context.Context) error {
	ch, unsub := l.bus.Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			title, message := render(ev)
			_ = l.notifier.Notify(ctx, string(ev.Type), title, message)
		}
	}
}

// render formats one event as a title and body.
func render(ev domain.Event) (string, string) {
	if ev.Opportunity == nil && ev.Type != domain.EventMaxReconnectAttemptsReached {
		return string(ev.Type), ev.Reason
	}
	switch ev.Type {
	case domain.EventOpportunityDetected:
		o := ev.Opportunity
		return "Opportunity detected",
			fmt.Sprintf("%s: buy %s @ %.4f, sell %s @ %.4f (%.2f%% net, $%.2f)",
				o.Pair.Symbol(), o.BuyExchange, o.BuyPrice, o.SellExchange, o.SellPrice, o.ProfitPct, o.ProfitUSD)
	case domain.EventHighProfitOpportunity:
		o := ev.Opportunity
		return "High-profit opportunity",
			fmt.Sprintf("%s: %.2f%% net buying %s / selling %s ($%.2f potential)",
				o.Pair.Symbol(), o.ProfitPct, o.BuyExchange, o.SellExchange, o.ProfitUSD)
	case domain.EventExecutionStarted:
		o := ev.Opportunity
		return "Execution started",
			fmt.Sprintf("%s %s -> %s", o.Pair.Symbol(), o.BuyExchange, o.SellExchange)
	case domain.EventExecutionCompleted:
		o := ev.Opportunity
		return "Execution completed",
			fmt.Sprintf("%s realized $%.2f", o.Pair.Symbol(), o.RealizedProfitUSD)
	case domain.EventExecutionFailed:
		o := ev.Opportunity
		compensated := "not compensated"
		if o.CompensationDone {
			compensated = "compensated"
		}
		return "Execution FAILED",
			fmt.Sprintf("%s %s -> %s: %s (%s)",
				o.Pair.Symbol(), o.BuyExchange, o.SellExchange, ev.Reason, compensated)
	case domain.EventMaxReconnectAttemptsReached:
		return "Feed down",
			fmt.Sprintf("%s: reconnect attempts exhausted (%s)", ev.Exchange, ev.Reason)
	default:
		return string(ev.Type), ev.Reason
	}
}

package domain

import "time"

// EventType enumerates the domain events published by the subsystem. The
// set is fixed; listeners switch on it rather than registering per-type
// callbacks.
type EventType string

const (
	EventOpportunityDetected         EventType = "opportunity_detected"
	EventHighProfitOpportunity       EventType = "high_profit_opportunity"
	EventExecutionStarted            EventType = "execution_started"
	EventExecutionCompleted          EventType = "execution_completed"
	EventExecutionFailed             EventType = "execution_failed"
	EventMaxReconnectAttemptsReached EventType = "max_reconnect_attempts_reached"
)

// Event is the typed payload carried on the event bus. Exchange is set for
// feed events, Opportunity for detection/execution events.
type Event struct {
	Type        EventType             `json:"type"`
	Exchange    string                `json:"exchange,omitempty"`
	Opportunity *ArbitrageOpportunity `json:"opportunity,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	At          time.Time             `json:"at"`
}

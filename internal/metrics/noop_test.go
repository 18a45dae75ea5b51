package metrics

import (
	"testing"
	"time"
)

// Both sinks must satisfy the Sink interface.
var (
	_ Sink = (*NoopSink)(nil)
	_ Sink = (*PrometheusSink)(nil)
)

func TestNoopSinkDoesNothing(t *testing.T) {
	// Every method must be safe to call.
	n := NewNoopSink()
	n.EventProcessed("ok", time.Second)
	n.EventsInFlightIncr()
	n.EventsInFlightDecr()
	n.BranchSkipped("Observation")
	n.DeliveryAttemptCompleted(1, StatusClass2xx, time.Millisecond)
	n.DeliveryOutcome(OutcomeSuccess)
	n.RetryAttempt()
	n.SeenSetSize(0)
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}

	// Re-registering on the same registry must not panic either.
	dup := NewPrometheusSink(reg)
	if dup == nil {
		t.Fatal("duplicate NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_EventProcessed(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EventProcessed("ok", 200*time.Millisecond)
	sink.EventProcessed("ok", 100*time.Millisecond)
	sink.EventProcessed("error", time.Second)

	if got := getCounterVecValue(t, reg, "fhirproxy_events_total", map[string]string{"status": "ok"}); got != 2 {
		t.Errorf("expected 2 ok events, got %v", got)
	}
	if got := getCounterVecValue(t, reg, "fhirproxy_events_total", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("expected 1 error event, got %v", got)
	}
}

func TestPrometheusSink_EventsInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EventsInFlightIncr()
	sink.EventsInFlightIncr()
	sink.EventsInFlightDecr()

	if got := getGaugeValue(t, reg, "fhirproxy_events_in_flight"); got != 1 {
		t.Errorf("expected 1 in flight, got %v", got)
	}
}

func TestPrometheusSink_DeliveryAttempts(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryAttemptCompleted(1, StatusClass2xx, 50*time.Millisecond)
	sink.DeliveryAttemptCompleted(2, StatusClass5xx, 50*time.Millisecond)
	sink.DeliveryAttemptCompleted(2, StatusClass5xx, 50*time.Millisecond)

	got := getCounterVecValue(t, reg, "fhirproxy_delivery_attempts_total",
		map[string]string{"attempt": "2", "status_class": "5xx"})
	if got != 2 {
		t.Errorf("expected 2 second attempts with 5xx, got %v", got)
	}
}

func TestPrometheusSink_RetryAndOutcomes(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RetryAttempt()
	sink.RetryAttempt()
	sink.DeliveryOutcome(OutcomeSuccess)
	sink.DeliveryOutcome(OutcomeFailed)

	if got := getCounterValue(t, reg, "fhirproxy_retry_attempts_total"); got != 2 {
		t.Errorf("expected 2 retries, got %v", got)
	}
	if got := getCounterVecValue(t, reg, "fhirproxy_delivery_outcomes_total", map[string]string{"outcome": "failed"}); got != 1 {
		t.Errorf("expected 1 failed outcome, got %v", got)
	}
}

func TestPrometheusSink_BranchSkipsAndSeenSize(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BranchSkipped("Condition")
	sink.SeenSetSize(42)

	if got := getCounterVecValue(t, reg, "fhirproxy_branch_skips_total", map[string]string{"resource_type": "Condition"}); got != 1 {
		t.Errorf("expected 1 Condition skip, got %v", got)
	}
	if got := getGaugeValue(t, reg, "fhirproxy_seen_event_ids"); got != 42 {
		t.Errorf("expected seen size 42, got %v", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		err    error
		want   string
	}{
		{"success", 200, nil, StatusClass2xx},
		{"created", 201, nil, StatusClass2xx},
		{"client error", 404, nil, StatusClass4xx},
		{"server error", 502, nil, StatusClass5xx},
		{"zero status", 0, nil, StatusClassOtherError},
		{"timeout", 0, errors.New("context deadline exceeded"), StatusClassTimeout},
		{"refused", 0, errors.New("dial tcp: connection refused"), StatusClassConnectionError},
		{"other", 0, errors.New("mystery"), StatusClassOtherError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStatus(tc.status, tc.err); got != tc.want {
				t.Errorf("ClassifyStatus(%d, %v) = %s, want %s", tc.status, tc.err, got, tc.want)
			}
		})
	}
}

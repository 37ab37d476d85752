package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"aqualedger/core/events"
)

func TestLedgerMetricsCountsCreditsAndSpends(t *testing.T) {
	m := LedgerMetrics()
	beforeEvent := testutil.ToFloat64(m.credited.WithLabelValues("event_completion"))
	beforeSpent := testutil.ToFloat64(m.debited)
	beforeDup := testutil.ToFloat64(m.operations.WithLabelValues("CreditEventCompletion", "duplicate_event"))

	m.ObserveOperation("CreditEventCompletion", "ok", 1855, time.Millisecond)
	m.ObserveOperation("CreditEventCompletion", "duplicate_event", 0, time.Millisecond)
	m.ObserveOperation("Spend", "ok", 100, time.Millisecond)
	m.ObserveOperation("Spend", "insufficient_balance", 2000, time.Millisecond)

	if got := testutil.ToFloat64(m.credited.WithLabelValues("event_completion")) - beforeEvent; got != 1855 {
		t.Fatalf("expected 1855 credited, got %v", got)
	}
	if got := testutil.ToFloat64(m.debited) - beforeSpent; got != 100 {
		t.Fatalf("failed spends must not count, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("CreditEventCompletion", "duplicate_event")) - beforeDup; got != 1 {
		t.Fatalf("expected one duplicate, got %v", got)
	}
}

func TestEventsCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeLedgerSpent))
	var emitter events.Emitter = m
	emitter.Emit(events.LedgerSpent{Participant: "p", Amount: 1})
	if got := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeLedgerSpent)) - before; got != 1 {
		t.Fatalf("expected one spent event, got %v", got)
	}
}

func TestHTTPMetricsThrottle(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.throttles.WithLabelValues("rate_limit"))
	m.RecordThrottle("rate_limit")
	m.Observe("/v1/supply", "GET", 200, time.Millisecond)
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("rate_limit")) - before; got != 1 {
		t.Fatalf("expected one throttle, got %v", got)
	}
}

package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LedgerObserver exports ledger operation outcomes as OTLP metrics. It
// satisfies rewards.Observer.
type LedgerObserver struct {
	operations metric.Int64Counter
	points     metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewLedgerObserver builds instruments on the global meter provider, so Init
// should run first.
func NewLedgerObserver() (*LedgerObserver, error) {
	meter := otel.Meter("aqualedger/ledger")
	operations, err := meter.Int64Counter("ledger.operations",
		metric.WithDescription("Ledger operations by operation and outcome code."))
	if err != nil {
		return nil, err
	}
	points, err := meter.Int64Counter("ledger.points",
		metric.WithDescription("Reward points moved by successful operations."))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("ledger.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Ledger operation latency."))
	if err != nil {
		return nil, err
	}
	return &LedgerObserver{operations: operations, points: points, latency: latency}, nil
}

// ObserveOperation implements rewards.Observer.
func (o *LedgerObserver) ObserveOperation(op, code string, amount uint64, elapsed time.Duration) {
	if o == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("outcome", code))
	o.operations.Add(ctx, 1, attrs)
	o.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
	if code == "ok" && amount > 0 && amount <= 1<<63-1 {
		o.points.Add(ctx, int64(amount), metric.WithAttributes(attribute.String("operation", op)))
	}
}

package otel

import (
	"context"
	"testing"
	"time"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,bad, =x,tenant=ledger")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "ledger" {
		t.Fatalf("unexpected headers: %v", got)
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318",
		"OTEL_EXPORTER_OTLP_HEADERS":  "k=v",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
	}
	cfg := Config{ServiceName: "ledgerd"}.FromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure || cfg.Headers["k"] != "v" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "ledgerd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestLedgerObserverOnNoopProvider(t *testing.T) {
	obs, err := NewLedgerObserver()
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	obs.ObserveOperation("Spend", "ok", 10, time.Millisecond)
	var nilObs *LedgerObserver
	nilObs.ObserveOperation("Spend", "ok", 10, time.Millisecond)
}

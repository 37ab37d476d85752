package secret

import (
	"errors"
	"testing"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	prompted := false
	src := NewSource("LEDGER_JWT_SECRET", "signing secret").
		WithLookup(env(map[string]string{"LEDGER_JWT_SECRET": "from-env"})).
		WithPrompt(func(string) (string, error) { prompted = true; return "typed", nil })
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("expected env value, got %q err=%v", got, err)
	}
	if prompted {
		t.Fatalf("prompt must not run when the variable is set")
	}
}

func TestSourceRejectsBlankValues(t *testing.T) {
	src := NewSource("LEDGER_JWT_SECRET", "signing secret").
		WithLookup(env(map[string]string{"LEDGER_JWT_SECRET": "  "}))
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected blank env value to be rejected")
	}

	src = NewSource("", "signing secret").
		WithLookup(env(nil)).
		WithPrompt(func(string) (string, error) { return "   ", nil })
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected blank prompt value to be rejected")
	}
}

func TestSourceCachesPromptResult(t *testing.T) {
	calls := 0
	src := NewSource("UNSET", "signing secret").
		WithLookup(env(nil)).
		WithPrompt(func(string) (string, error) { calls++; return "typed", nil })
	for i := 0; i < 3; i++ {
		if got, err := src.Get(); err != nil || got != "typed" {
			t.Fatalf("unexpected result %q err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestSourceReportsMissingTerminal(t *testing.T) {
	src := NewSource("LEDGER_JWT_SECRET", "signing secret").
		WithLookup(env(nil)).
		WithPrompt(func(string) (string, error) { return "", errNoTerminal })
	_, err := src.Get()
	if !errors.Is(err, errNoTerminal) {
		t.Fatalf("expected errNoTerminal, got %v", err)
	}
}

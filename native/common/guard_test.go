package common

import (
	"errors"
	"testing"
)

type haltFlag bool

func (h haltFlag) Halted() bool { return bool(h) }

func TestGuard(t *testing.T) {
	if err := Guard(nil); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	if err := Guard(haltFlag(false)); err != nil {
		t.Fatalf("running system must not block: %v", err)
	}
	if err := Guard(haltFlag(true)); !errors.Is(err, ErrSystemHalted) {
		t.Fatalf("expected ErrSystemHalted, got %v", err)
	}
}

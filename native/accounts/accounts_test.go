package accounts

import (
	"errors"
	"math"
	"testing"
	"time"
)

type mapState struct {
	accounts map[string]*Account
	puts     int
}

func newMapState() *mapState { return &mapState{accounts: map[string]*Account{}} }

func (m *mapState) Account(p string) (*Account, bool, error) {
	acc, ok := m.accounts[p]
	if !ok {
		return nil, false, nil
	}
	cp := *acc
	return &cp, true, nil
}

func (m *mapState) PutAccount(acc *Account) error {
	cp := *acc
	m.accounts[acc.Participant] = &cp
	m.puts++
	return nil
}

func fixedClock() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestGetMissingAccountIsZeroValued(t *testing.T) {
	store := NewStore(newMapState(), fixedClock)
	acc, err := store.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Balance != 0 || acc.Exists() || acc.Participant != "p1" {
		t.Fatalf("unexpected zero account: %+v", acc)
	}
}

func TestCreditAccumulatesCounters(t *testing.T) {
	st := newMapState()
	store := NewStore(st, fixedClock)

	acc, err := store.Credit("p1", Credit{Amount: 1855, ActivityMinutes: 180, WasteUnits: 5000, EventCompletion: true})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if acc.Balance != 1855 || acc.TotalEarned != 1855 || acc.EventsCompleted != 1 {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if acc.TotalActivityMinutes != 180 || acc.TotalWasteUnits != 5000 {
		t.Fatalf("unexpected impact counters: %+v", acc)
	}
	if !acc.Exists() || !acc.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("expected creation timestamp, got %v", acc.CreatedAt)
	}

	acc, err = store.Credit("p1", Credit{Amount: 25})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if acc.Balance != 1880 || acc.EventsCompleted != 1 {
		t.Fatalf("image-style credit must not count as event: %+v", acc)
	}
}

func TestDebitNeverGoesNegative(t *testing.T) {
	st := newMapState()
	store := NewStore(st, fixedClock)
	if _, err := store.Credit("p1", Credit{Amount: 100}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	putsBefore := st.puts

	if _, err := store.Debit("p1", 101); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if st.puts != putsBefore {
		t.Fatalf("failed debit must not write")
	}

	acc, err := store.Debit("p1", 100)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acc.Balance != 0 || acc.TotalSpent != 100 {
		t.Fatalf("unexpected account after debit: %+v", acc)
	}
}

func TestCreditOverflowRejected(t *testing.T) {
	st := newMapState()
	st.accounts["p1"] = &Account{Participant: "p1", Balance: math.MaxUint64, TotalEarned: math.MaxUint64}
	store := NewStore(st, fixedClock)
	if _, err := store.Credit("p1", Credit{Amount: 1}); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestIncrementAchievements(t *testing.T) {
	store := NewStore(newMapState(), fixedClock)
	acc, err := store.IncrementAchievements("p1", 2)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if acc.AchievementsUnlocked != 2 {
		t.Fatalf("expected 2 achievements, got %d", acc.AchievementsUnlocked)
	}
}

func TestCheckDetectsBrokenConservation(t *testing.T) {
	acc := &Account{Balance: 10, TotalEarned: 5}
	if err := acc.Check(); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

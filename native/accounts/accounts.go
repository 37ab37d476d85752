package accounts

import (
	"errors"
	"fmt"
	"math/bits"
	"time"
)

var (
	ErrInsufficientBalance = errors.New("accounts: insufficient balance")
	ErrOverflow            = errors.New("accounts: counter overflow")
	ErrInvariant           = errors.New("accounts: balance invariant violated")
)

// Account holds a participant's balance and cumulative impact counters.
type Account struct {
	Participant          string
	Balance              uint64
	EventsCompleted      uint64
	TotalActivityMinutes uint64
	TotalWasteUnits      uint64
	AchievementsUnlocked uint64
	TotalEarned          uint64
	TotalSpent           uint64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Exists reports whether the account has ever been written.
func (a *Account) Exists() bool {
	return a != nil && !a.CreatedAt.IsZero()
}

// Check verifies the conservation invariant balance == earned - spent.
func (a *Account) Check() error {
	if a.TotalSpent > a.TotalEarned || a.TotalEarned-a.TotalSpent != a.Balance {
		return fmt.Errorf("%w: balance=%d earned=%d spent=%d", ErrInvariant, a.Balance, a.TotalEarned, a.TotalSpent)
	}
	return nil
}

// Credit describes a balance increase and the impact it carries.
type Credit struct {
	Amount          uint64
	ActivityMinutes uint64
	WasteUnits      uint64
	// EventCompletion marks credits that count towards EventsCompleted.
	EventCompletion bool
}

// State is the transactional view the store mutates through.
type State interface {
	Account(participant string) (*Account, bool, error)
	PutAccount(account *Account) error
}

// Store owns balance and impact counters. It is bound to a single
// transaction; every mutation lands in that transaction's write set.
type Store struct {
	st  State
	now func() time.Time
}

// NewStore binds the store to a transactional state view.
func NewStore(st State, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{st: st, now: now}
}

// Get returns the participant's account or a zero-valued one when none exists.
func (s *Store) Get(participant string) (*Account, error) {
	acc, ok, err := s.st.Account(participant)
	if err != nil {
		return nil, err
	}
	if !ok || acc == nil {
		return &Account{Participant: participant}, nil
	}
	return acc, nil
}

// Credit applies a credit and returns the updated account.
func (s *Store) Credit(participant string, c Credit) (*Account, error) {
	acc, err := s.Get(participant)
	if err != nil {
		return nil, err
	}
	next := *acc
	if next.Balance, err = add(next.Balance, c.Amount); err != nil {
		return nil, err
	}
	if next.TotalEarned, err = add(next.TotalEarned, c.Amount); err != nil {
		return nil, err
	}
	if next.TotalActivityMinutes, err = add(next.TotalActivityMinutes, c.ActivityMinutes); err != nil {
		return nil, err
	}
	if next.TotalWasteUnits, err = add(next.TotalWasteUnits, c.WasteUnits); err != nil {
		return nil, err
	}
	if c.EventCompletion {
		if next.EventsCompleted, err = add(next.EventsCompleted, 1); err != nil {
			return nil, err
		}
	}
	return s.put(&next)
}

// Debit subtracts amount from the balance. It never allows a partial debit.
func (s *Store) Debit(participant string, amount uint64) (*Account, error) {
	acc, err := s.Get(participant)
	if err != nil {
		return nil, err
	}
	if amount > acc.Balance {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientBalance, amount, acc.Balance)
	}
	next := *acc
	next.Balance -= amount
	if next.TotalSpent, err = add(next.TotalSpent, amount); err != nil {
		return nil, err
	}
	return s.put(&next)
}

// IncrementAchievements bumps the unlocked-achievement counter.
func (s *Store) IncrementAchievements(participant string, n uint64) (*Account, error) {
	if n == 0 {
		return s.Get(participant)
	}
	acc, err := s.Get(participant)
	if err != nil {
		return nil, err
	}
	next := *acc
	if next.AchievementsUnlocked, err = add(next.AchievementsUnlocked, n); err != nil {
		return nil, err
	}
	return s.put(&next)
}

func (s *Store) put(acc *Account) (*Account, error) {
	if err := acc.Check(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	if err := s.st.PutAccount(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

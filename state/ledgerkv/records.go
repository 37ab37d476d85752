package ledgerkv

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"aqualedger/native/accounts"
	"aqualedger/native/achievements"
	"aqualedger/native/rewards"
)

// rlp has no signed integers, so timestamps are stored as unix nanoseconds.

type accountRecord struct {
	Participant          string
	Balance              uint64
	EventsCompleted      uint64
	TotalActivityMinutes uint64
	TotalWasteUnits      uint64
	AchievementsUnlocked uint64
	TotalEarned          uint64
	TotalSpent           uint64
	CreatedAt            uint64
	UpdatedAt            uint64
}

func newAccountRecord(a *accounts.Account) *accountRecord {
	return &accountRecord{
		Participant:          a.Participant,
		Balance:              a.Balance,
		EventsCompleted:      a.EventsCompleted,
		TotalActivityMinutes: a.TotalActivityMinutes,
		TotalWasteUnits:      a.TotalWasteUnits,
		AchievementsUnlocked: a.AchievementsUnlocked,
		TotalEarned:          a.TotalEarned,
		TotalSpent:           a.TotalSpent,
		CreatedAt:            toNanos(a.CreatedAt),
		UpdatedAt:            toNanos(a.UpdatedAt),
	}
}

func (r *accountRecord) account() *accounts.Account {
	return &accounts.Account{
		Participant:          r.Participant,
		Balance:              r.Balance,
		EventsCompleted:      r.EventsCompleted,
		TotalActivityMinutes: r.TotalActivityMinutes,
		TotalWasteUnits:      r.TotalWasteUnits,
		AchievementsUnlocked: r.AchievementsUnlocked,
		TotalEarned:          r.TotalEarned,
		TotalSpent:           r.TotalSpent,
		CreatedAt:            fromNanos(r.CreatedAt),
		UpdatedAt:            fromNanos(r.UpdatedAt),
	}
}

type completedRecord struct {
	Participant     string
	EventKey        common.Hash
	EventID         string
	Issuer          string
	Amount          uint64
	ActivityMinutes uint64
	WasteUnits      uint64
	CompletedAt     uint64
}

func newCompletedRecord(c *rewards.CompletedEvent) *completedRecord {
	return &completedRecord{
		Participant:     c.Participant,
		EventKey:        c.EventKey,
		EventID:         c.EventID,
		Issuer:          c.Issuer,
		Amount:          c.Amount,
		ActivityMinutes: c.ActivityMinutes,
		WasteUnits:      c.WasteUnits,
		CompletedAt:     toNanos(c.CompletedAt),
	}
}

func (r *completedRecord) event() *rewards.CompletedEvent {
	return &rewards.CompletedEvent{
		Participant:     r.Participant,
		EventKey:        r.EventKey,
		EventID:         r.EventID,
		Issuer:          r.Issuer,
		Amount:          r.Amount,
		ActivityMinutes: r.ActivityMinutes,
		WasteUnits:      r.WasteUnits,
		CompletedAt:     fromNanos(r.CompletedAt),
	}
}

type imageRecord struct {
	Participant string
	EventKey    common.Hash
	EventID     string
	Issuer      string
	Amount      uint64
	CreditedAt  uint64
}

type unlockRecord struct {
	Participant   string
	AchievementID string
	Reward        uint64
	Manual        bool
	UnlockedAt    uint64
}

func newUnlockRecord(u *achievements.Unlock) *unlockRecord {
	return &unlockRecord{
		Participant:   u.Participant,
		AchievementID: u.AchievementID,
		Reward:        u.Reward,
		Manual:        u.Manual,
		UnlockedAt:    toNanos(u.UnlockedAt),
	}
}

func (r *unlockRecord) unlock() achievements.Unlock {
	return achievements.Unlock{
		Participant:   r.Participant,
		AchievementID: r.AchievementID,
		Reward:        r.Reward,
		Manual:        r.Manual,
		UnlockedAt:    fromNanos(r.UnlockedAt),
	}
}

type spendRecord struct {
	ID          string
	Participant string
	Caller      string
	ItemID      string
	Amount      uint64
	Description string
	SpentAt     uint64
}

func newSpendRecord(s *rewards.SpendRecord) *spendRecord {
	return &spendRecord{
		ID:          s.ID,
		Participant: s.Participant,
		Caller:      s.Caller,
		ItemID:      s.ItemID,
		Amount:      s.Amount,
		Description: s.Description,
		SpentAt:     toNanos(s.SpentAt),
	}
}

func (r *spendRecord) spend() rewards.SpendRecord {
	return rewards.SpendRecord{
		ID:          r.ID,
		Participant: r.Participant,
		Caller:      r.Caller,
		ItemID:      r.ItemID,
		Amount:      r.Amount,
		Description: r.Description,
		SpentAt:     fromNanos(r.SpentAt),
	}
}

func toNanos(t time.Time) uint64 {
	if t.IsZero() || t.UnixNano() < 0 {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromNanos(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

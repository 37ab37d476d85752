package ledgersql

import (
	"time"

	"gorm.io/gorm"
)

// Account mirrors accounts.Account.
type Account struct {
	Participant          string `gorm:"primaryKey;size:128"`
	Balance              uint64 `gorm:"not null"`
	EventsCompleted      uint64 `gorm:"not null"`
	TotalActivityMinutes uint64 `gorm:"not null"`
	TotalWasteUnits      uint64 `gorm:"not null"`
	AchievementsUnlocked uint64 `gorm:"not null"`
	TotalEarned          uint64 `gorm:"not null"`
	TotalSpent           uint64 `gorm:"not null"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Account) TableName() string { return "ledger_accounts" }

// CompletedEvent is the idempotency fence for event completion credits. The
// composite primary key makes a second credit impossible even across
// processes.
type CompletedEvent struct {
	Participant     string `gorm:"primaryKey;size:128"`
	EventKey        string `gorm:"primaryKey;size:66"`
	EventID         string `gorm:"size:256"`
	Issuer          string `gorm:"size:128"`
	Amount          uint64 `gorm:"not null"`
	ActivityMinutes uint64
	WasteUnits      uint64
	CompletedAt     time.Time `gorm:"index"`
}

func (CompletedEvent) TableName() string { return "ledger_completed_events" }

// ImageCredit is one image-upload reward.
type ImageCredit struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Participant string    `gorm:"size:128;index:idx_ledger_image_participant_event"`
	EventKey    string    `gorm:"size:66;index:idx_ledger_image_participant_event"`
	EventID     string    `gorm:"size:256"`
	Issuer      string    `gorm:"size:128"`
	Amount      uint64    `gorm:"not null"`
	CreditedAt  time.Time `gorm:"index"`
}

func (ImageCredit) TableName() string { return "ledger_image_credits" }

// AchievementUnlock records a held achievement.
type AchievementUnlock struct {
	Participant   string `gorm:"primaryKey;size:128"`
	AchievementID string `gorm:"primaryKey;size:64"`
	Reward        uint64
	Manual        bool
	UnlockedAt    time.Time `gorm:"index"`
}

func (AchievementUnlock) TableName() string { return "ledger_achievement_unlocks" }

// Spend is the append-only redemption log.
type Spend struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Participant string    `gorm:"size:128;index:idx_ledger_spend_participant_time,priority:1"`
	Caller      string    `gorm:"size:128"`
	ItemID      string    `gorm:"size:256"`
	Amount      uint64    `gorm:"not null"`
	Description string    `gorm:"size:1024"`
	SpentAt     time.Time `gorm:"index:idx_ledger_spend_participant_time,priority:2"`
}

func (Spend) TableName() string { return "ledger_spends" }

// SystemConfig is a single-row table holding the issuer set and halt flag.
type SystemConfig struct {
	ID        uint   `gorm:"primaryKey"`
	Issuers   string `gorm:"type:text"`
	Halted    bool
	UpdatedAt time.Time
}

func (SystemConfig) TableName() string { return "ledger_system_config" }

// AutoMigrate creates or updates every ledger table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&CompletedEvent{},
		&ImageCredit{},
		&AchievementUnlock{},
		&Spend{},
		&SystemConfig{},
	)
}

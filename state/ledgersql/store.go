package ledgersql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"aqualedger/native/accounts"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
	"aqualedger/native/rewards"
)

const systemConfigRow = 1

var (
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("ledgersql: read-only transaction")
	// ErrConflict reports a concurrent writer racing on the same row. It is
	// not a ledger sentinel, so the ledger surfaces it as retryable.
	ErrConflict = errors.New("ledgersql: concurrent write conflict")
)

// Store implements rewards.Store on a SQL database through gorm.
type Store struct {
	db *gorm.DB
}

var _ rewards.Store = (*Store)(nil)

// Open connects to the database named by driver ("postgres" or "sqlite") and
// migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("ledgersql: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("ledgersql: open %s: %w", driver, err)
	}
	return New(db)
}

// New migrates the schema on an existing gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("ledgersql: database not configured")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("ledgersql: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for reporting queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Update implements rewards.Store.
func (s *Store) Update(ctx context.Context, fn func(rewards.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{db: tx, locking: true})
	})
}

// View implements rewards.Store.
func (s *Store) View(ctx context.Context, fn func(rewards.Tx) error) error {
	return fn(&sqlTx{db: s.db.WithContext(ctx), readOnly: true})
}

// ForEachAccount implements rewards.Store.
func (s *Store) ForEachAccount(ctx context.Context, fn func(*accounts.Account) error) error {
	var rows []Account
	res := s.db.WithContext(ctx).Order("participant").FindInBatches(&rows, 500, func(tx *gorm.DB, batch int) error {
		for i := range rows {
			if err := fn(toAccount(&rows[i])); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}

// Unlocks implements rewards.Store.
func (s *Store) Unlocks(ctx context.Context, participant string) ([]achievements.Unlock, error) {
	var rows []AchievementUnlock
	if err := s.db.WithContext(ctx).
		Where("participant = ?", participant).
		Order("unlocked_at asc, achievement_id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]achievements.Unlock, len(rows))
	for i, row := range rows {
		out[i] = achievements.Unlock{
			Participant:   row.Participant,
			AchievementID: row.AchievementID,
			Reward:        row.Reward,
			Manual:        row.Manual,
			UnlockedAt:    row.UnlockedAt.UTC(),
		}
	}
	return out, nil
}

// Spends implements rewards.Store.
func (s *Store) Spends(ctx context.Context, participant string) ([]rewards.SpendRecord, error) {
	var rows []Spend
	if err := s.db.WithContext(ctx).
		Where("participant = ?", participant).
		Order("spent_at asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rewards.SpendRecord, len(rows))
	for i, row := range rows {
		out[i] = rewards.SpendRecord{
			ID:          row.ID,
			Participant: row.Participant,
			Caller:      row.Caller,
			ItemID:      row.ItemID,
			Amount:      row.Amount,
			Description: row.Description,
			SpentAt:     row.SpentAt.UTC(),
		}
	}
	return out, nil
}

// LoadSystemConfig implements authority.State.
func (s *Store) LoadSystemConfig(ctx context.Context) (*authority.SystemConfig, bool, error) {
	var row SystemConfig
	err := s.db.WithContext(ctx).First(&row, systemConfigRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cfg := &authority.SystemConfig{Halted: row.Halted, UpdatedAt: row.UpdatedAt.UTC()}
	if row.Issuers != "" {
		if err := json.Unmarshal([]byte(row.Issuers), &cfg.Issuers); err != nil {
			return nil, false, fmt.Errorf("ledgersql: decode issuers: %w", err)
		}
	}
	return cfg, true, nil
}

// SaveSystemConfig implements authority.State.
func (s *Store) SaveSystemConfig(ctx context.Context, cfg *authority.SystemConfig) error {
	issuers, err := json.Marshal(cfg.Clone().Issuers)
	if err != nil {
		return err
	}
	row := SystemConfig{ID: systemConfigRow, Issuers: string(issuers), Halted: cfg.Halted, UpdatedAt: cfg.UpdatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlTx struct {
	db       *gorm.DB
	locking  bool
	readOnly bool
}

func (t *sqlTx) query() *gorm.DB {
	if t.locking {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func (t *sqlTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *sqlTx) Account(participant string) (*accounts.Account, bool, error) {
	var row Account
	err := t.query().First(&row, "participant = ?", participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return toAccount(&row), true, nil
}

func (t *sqlTx) PutAccount(acc *accounts.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	row := Account{
		Participant:          acc.Participant,
		Balance:              acc.Balance,
		EventsCompleted:      acc.EventsCompleted,
		TotalActivityMinutes: acc.TotalActivityMinutes,
		TotalWasteUnits:      acc.TotalWasteUnits,
		AchievementsUnlocked: acc.AchievementsUnlocked,
		TotalEarned:          acc.TotalEarned,
		TotalSpent:           acc.TotalSpent,
		CreatedAt:            acc.CreatedAt.UTC(),
		UpdatedAt:            acc.UpdatedAt.UTC(),
	}
	return t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (t *sqlTx) Unlocked(participant, achievementID string) (bool, error) {
	var count int64
	err := t.db.Model(&AchievementUnlock{}).
		Where("participant = ? AND achievement_id = ?", participant, achievementID).
		Count(&count).Error
	return count > 0, err
}

func (t *sqlTx) PutUnlock(u *achievements.Unlock) error {
	if err := t.writable(); err != nil {
		return err
	}
	row := AchievementUnlock{
		Participant:   u.Participant,
		AchievementID: u.AchievementID,
		Reward:        u.Reward,
		Manual:        u.Manual,
		UnlockedAt:    u.UnlockedAt.UTC(),
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: unlock %s", ErrConflict, u.AchievementID)
	}
	return nil
}

func (t *sqlTx) CompletedEvent(participant string, event common.Hash) (*rewards.CompletedEvent, bool, error) {
	var row CompletedEvent
	err := t.db.First(&row, "participant = ? AND event_key = ?", participant, event.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rewards.CompletedEvent{
		Participant:     row.Participant,
		EventKey:        common.HexToHash(row.EventKey),
		EventID:         row.EventID,
		Issuer:          row.Issuer,
		Amount:          row.Amount,
		ActivityMinutes: row.ActivityMinutes,
		WasteUnits:      row.WasteUnits,
		CompletedAt:     row.CompletedAt.UTC(),
	}, true, nil
}

func (t *sqlTx) PutCompletedEvent(c *rewards.CompletedEvent) error {
	if err := t.writable(); err != nil {
		return err
	}
	row := CompletedEvent{
		Participant:     c.Participant,
		EventKey:        c.EventKey.Hex(),
		EventID:         c.EventID,
		Issuer:          c.Issuer,
		Amount:          c.Amount,
		ActivityMinutes: c.ActivityMinutes,
		WasteUnits:      c.WasteUnits,
		CompletedAt:     c.CompletedAt.UTC(),
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", rewards.ErrDuplicateEvent, c.EventID)
	}
	return nil
}

func (t *sqlTx) ImageCredited(participant string, event common.Hash) (bool, error) {
	var count int64
	err := t.db.Model(&ImageCredit{}).
		Where("participant = ? AND event_key = ?", participant, event.Hex()).
		Count(&count).Error
	return count > 0, err
}

func (t *sqlTx) PutImageCredit(c *rewards.ImageCredit) error {
	if err := t.writable(); err != nil {
		return err
	}
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	return t.db.Create(&ImageCredit{
		ID:          id,
		Participant: c.Participant,
		EventKey:    c.EventKey.Hex(),
		EventID:     c.EventID,
		Issuer:      c.Issuer,
		Amount:      c.Amount,
		CreditedAt:  c.CreditedAt.UTC(),
	}).Error
}

func (t *sqlTx) PutSpend(s *rewards.SpendRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.db.Create(&Spend{
		ID:          s.ID,
		Participant: s.Participant,
		Caller:      s.Caller,
		ItemID:      s.ItemID,
		Amount:      s.Amount,
		Description: s.Description,
		SpentAt:     s.SpentAt.UTC(),
	}).Error
}

func toAccount(row *Account) *accounts.Account {
	return &accounts.Account{
		Participant:          row.Participant,
		Balance:              row.Balance,
		EventsCompleted:      row.EventsCompleted,
		TotalActivityMinutes: row.TotalActivityMinutes,
		TotalWasteUnits:      row.TotalWasteUnits,
		AchievementsUnlocked: row.AchievementsUnlocked,
		TotalEarned:          row.TotalEarned,
		TotalSpent:           row.TotalSpent,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
}

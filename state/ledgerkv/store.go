package ledgerkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"aqualedger/native/accounts"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
	"aqualedger/native/rewards"
	"aqualedger/storage"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("ledgerkv: read-only transaction")

// Store implements rewards.Store on top of a storage.Database. Each Update
// buffers its writes and commits them as a single batch.
type Store struct {
	db storage.Database
}

var _ rewards.Store = (*Store)(nil)

// New wraps db. The store takes ownership and closes db on Close.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Update implements rewards.Store.
func (s *Store) Update(ctx context.Context, fn func(rewards.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txn{db: s.db, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// View implements rewards.Store.
func (s *Store) View(ctx context.Context, fn func(rewards.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&txn{db: s.db, readOnly: true})
}

// ForEachAccount implements rewards.Store.
func (s *Store) ForEachAccount(ctx context.Context, fn func(*accounts.Account) error) error {
	var inner error
	err := s.db.Iterate(accountPrefix, func(_, value []byte) bool {
		if inner = ctx.Err(); inner != nil {
			return false
		}
		rec := new(accountRecord)
		if inner = rlp.DecodeBytes(value, rec); inner != nil {
			inner = fmt.Errorf("ledgerkv: decode account: %w", inner)
			return false
		}
		inner = fn(rec.account())
		return inner == nil
	})
	if err != nil {
		return err
	}
	return inner
}

// Unlocks implements rewards.Store.
func (s *Store) Unlocks(ctx context.Context, participant string) ([]achievements.Unlock, error) {
	var (
		out   []achievements.Unlock
		inner error
	)
	err := s.db.Iterate(unlockParticipantPrefix(participant), func(_, value []byte) bool {
		if inner = ctx.Err(); inner != nil {
			return false
		}
		rec := new(unlockRecord)
		if inner = rlp.DecodeBytes(value, rec); inner != nil {
			return false
		}
		out = append(out, rec.unlock())
		return true
	})
	if err == nil {
		err = inner
	}
	return out, err
}

// Spends implements rewards.Store.
func (s *Store) Spends(ctx context.Context, participant string) ([]rewards.SpendRecord, error) {
	var (
		out   []rewards.SpendRecord
		inner error
	)
	err := s.db.Iterate(spendParticipantPrefix(participant), func(_, value []byte) bool {
		if inner = ctx.Err(); inner != nil {
			return false
		}
		rec := new(spendRecord)
		if inner = rlp.DecodeBytes(value, rec); inner != nil {
			return false
		}
		out = append(out, rec.spend())
		return true
	})
	if err == nil {
		err = inner
	}
	return out, err
}

// LoadSystemConfig implements authority.State.
func (s *Store) LoadSystemConfig(ctx context.Context) (*authority.SystemConfig, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	raw, err := s.db.Get(systemConfigKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cfg := new(authority.SystemConfig)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, false, fmt.Errorf("ledgerkv: decode system config: %w", err)
	}
	return cfg, true, nil
}

// SaveSystemConfig implements authority.State.
func (s *Store) SaveSystemConfig(ctx context.Context, cfg *authority.SystemConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg.Clone())
	if err != nil {
		return err
	}
	return s.db.Put(systemConfigKey, raw)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// txn overlays buffered writes on top of the database so reads inside the
// transaction observe its own writes.
type txn struct {
	db       storage.Database
	writes   map[string][]byte
	order    []string
	readOnly bool
}

func (t *txn) get(key []byte, out interface{}) (bool, error) {
	raw, ok := t.writes[string(key)]
	if !ok {
		var err error
		raw, err = t.db.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("ledgerkv: decode %x: %w", key, err)
	}
	return true, nil
}

func (t *txn) put(key []byte, value interface{}) error {
	if t.readOnly {
		return ErrReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(key)
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = encoded
	return nil
}

func (t *txn) commit() error {
	if len(t.order) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	for _, k := range t.order {
		batch.Put([]byte(k), t.writes[k])
	}
	return t.db.Write(batch)
}

func (t *txn) Account(participant string) (*accounts.Account, bool, error) {
	rec := new(accountRecord)
	ok, err := t.get(accountKey(participant), rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.account(), true, nil
}

func (t *txn) PutAccount(acc *accounts.Account) error {
	return t.put(accountKey(acc.Participant), newAccountRecord(acc))
}

func (t *txn) Unlocked(participant, achievementID string) (bool, error) {
	return t.get(unlockKey(participant, achievementID), nil)
}

func (t *txn) PutUnlock(u *achievements.Unlock) error {
	return t.put(unlockKey(u.Participant, u.AchievementID), newUnlockRecord(u))
}

func (t *txn) CompletedEvent(participant string, event common.Hash) (*rewards.CompletedEvent, bool, error) {
	rec := new(completedRecord)
	ok, err := t.get(completedKey(participant, event), rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.event(), true, nil
}

func (t *txn) PutCompletedEvent(c *rewards.CompletedEvent) error {
	return t.put(completedKey(c.Participant, c.EventKey), newCompletedRecord(c))
}

func (t *txn) ImageCredited(participant string, event common.Hash) (bool, error) {
	return t.get(imageSeenKey(participant, event), nil)
}

func (t *txn) PutImageCredit(c *rewards.ImageCredit) error {
	id := recordID(c.ID)
	rec := &imageRecord{
		Participant: c.Participant,
		EventKey:    c.EventKey,
		EventID:     c.EventID,
		Issuer:      c.Issuer,
		Amount:      c.Amount,
		CreditedAt:  toNanos(c.CreditedAt),
	}
	if err := t.put(imageKey(c.Participant, c.EventKey, rec.CreditedAt, id[:]), rec); err != nil {
		return err
	}
	return t.put(imageSeenKey(c.Participant, c.EventKey), uint64(1))
}

func (t *txn) PutSpend(s *rewards.SpendRecord) error {
	rec := newSpendRecord(s)
	id := recordID(s.ID)
	return t.put(spendKey(s.Participant, rec.SpentAt, id[:]), rec)
}

// recordID turns a record id into the 16-byte key suffix. Non-uuid ids are
// hashed so they still sort stably; a missing id gets a fresh one.
func recordID(raw string) uuid.UUID {
	if raw == "" {
		return uuid.New()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw))
	}
	return id
}

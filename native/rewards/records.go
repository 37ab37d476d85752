package rewards

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"

	"aqualedger/native/accounts"
)

// MaxEventIDLength bounds event identifiers before hashing.
const MaxEventIDLength = 256

// CompletedEvent is the fence record proving a (participant, event) pair was
// rewarded. It is written in the same transaction as the balance change.
type CompletedEvent struct {
	Participant     string
	EventKey        common.Hash
	EventID         string
	Issuer          string
	Amount          uint64
	ActivityMinutes uint64
	WasteUnits      uint64
	CompletedAt     time.Time
}

// ImageCredit records one image-upload reward.
type ImageCredit struct {
	ID          string
	Participant string
	EventKey    common.Hash
	EventID     string
	Issuer      string
	Amount      uint64
	CreditedAt  time.Time
}

// SpendRecord is the append-only audit entry for a redemption.
type SpendRecord struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant"`
	Caller      string    `json:"caller"`
	ItemID      string    `json:"itemId"`
	Amount      uint64    `json:"amount"`
	Description string    `json:"description,omitempty"`
	SpentAt     time.Time `json:"spentAt"`
}

// ReceiptKind names the operation that produced a receipt.
type ReceiptKind string

const (
	ReceiptEventCompletion ReceiptKind = "event_completion"
	ReceiptImageUpload     ReceiptKind = "image_upload"
	ReceiptSpend           ReceiptKind = "spend"
	ReceiptAchievement     ReceiptKind = "achievement"
)

// Receipt summarizes a committed balance mutation.
type Receipt struct {
	ID              string      `json:"id"`
	Kind            ReceiptKind `json:"kind"`
	Participant     string      `json:"participant"`
	EventID         string      `json:"eventId,omitempty"`
	Amount          uint64      `json:"amount"`
	Balance         uint64      `json:"balance"`
	NewAchievements []string    `json:"newAchievements,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Impact is the read-only summary returned by QueryImpact.
type Impact struct {
	Participant          string `json:"participant"`
	Balance              uint64 `json:"balance"`
	EventsCompleted      uint64 `json:"eventsCompleted"`
	TotalActivityMinutes uint64 `json:"totalActivityMinutes"`
	TotalWasteUnits      uint64 `json:"totalWasteUnits"`
	AchievementsUnlocked uint64 `json:"achievementsUnlocked"`
	TotalEarned          uint64 `json:"totalEarned"`
	TotalSpent           uint64 `json:"totalSpent"`
}

func impactOf(acc *accounts.Account) *Impact {
	return &Impact{
		Participant:          acc.Participant,
		Balance:              acc.Balance,
		EventsCompleted:      acc.EventsCompleted,
		TotalActivityMinutes: acc.TotalActivityMinutes,
		TotalWasteUnits:      acc.TotalWasteUnits,
		AchievementsUnlocked: acc.AchievementsUnlocked,
		TotalEarned:          acc.TotalEarned,
		TotalSpent:           acc.TotalSpent,
	}
}

// Supply aggregates every account. Outstanding always equals Issued - Spent.
type Supply struct {
	Accounts    uint64 `json:"accounts"`
	Issued      uint64 `json:"issued"`
	Spent       uint64 `json:"spent"`
	Outstanding uint64 `json:"outstanding"`
}

// EventKey canonicalizes an event identifier and returns its keccak256 key.
func EventKey(eventID string) (common.Hash, string, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return common.Hash{}, "", fmt.Errorf("%w: empty", ErrInvalidEvent)
	}
	if len(id) > MaxEventIDLength {
		return common.Hash{}, "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidEvent, MaxEventIDLength)
	}
	return crypto.Keccak256Hash([]byte(id)), id, nil
}

// receiptID derives a deterministic receipt identifier so retried requests
// for the same fence record map to the same id.
func receiptID(kind ReceiptKind, participant string, key []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(participant))
	h.Write([]byte{0})
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil))
}

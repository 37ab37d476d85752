package rewards

import (
	"errors"
	"fmt"

	"aqualedger/native/accounts"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
	nativecommon "aqualedger/native/common"
)

var (
	ErrUnauthorized        = authority.ErrUnauthorized
	ErrSystemHalted        = nativecommon.ErrSystemHalted
	ErrInsufficientBalance = accounts.ErrInsufficientBalance
	ErrUnknownAchievement  = achievements.ErrUnknownAchievement
	ErrAchievementUnlocked = achievements.ErrAchievementUnlocked

	ErrDuplicateEvent     = errors.New("rewards: event already completed")
	ErrDuplicateImage     = errors.New("rewards: image already credited")
	ErrInvalidParticipant = errors.New("rewards: invalid participant")
	ErrInvalidEvent       = errors.New("rewards: invalid event id")
	ErrInvalidAmount      = errors.New("rewards: invalid amount")
	ErrInvalidItem        = errors.New("rewards: invalid item id")
	ErrRewardOverflow     = errors.New("rewards: reward overflows")

	// ErrStoreUnavailable is the only retryable failure. It wraps timeouts and
	// infrastructure errors from the backing store.
	ErrStoreUnavailable = errors.New("rewards: store unavailable")
)

// errorCodes maps terminal sentinels to stable machine-readable codes. Order
// matters only for errors that wrap several sentinels.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrStoreUnavailable, "store_unavailable"},
	{ErrSystemHalted, "system_halted"},
	{ErrUnauthorized, "unauthorized"},
	{ErrDuplicateEvent, "duplicate_event"},
	{ErrDuplicateImage, "duplicate_image"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInvalidParticipant, "invalid_participant"},
	{authority.ErrInvalidIdentity, "invalid_participant"},
	{authority.ErrRemoveAdmin, "invalid_participant"},
	{ErrInvalidEvent, "invalid_event"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidItem, "invalid_item"},
	{ErrRewardOverflow, "reward_overflow"},
	{accounts.ErrOverflow, "reward_overflow"},
	{accounts.ErrInvariant, "invariant_violation"},
	{ErrUnknownAchievement, "unknown_achievement"},
	{ErrAchievementUnlocked, "achievement_unlocked"},
}

// ErrorCode returns a stable code for err: "ok" for nil, "internal" for
// anything that is not a ledger sentinel.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsRetryable reports whether the caller may safely resend the identical
// request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func isTerminal(err error) bool {
	code := ErrorCode(err)
	return code != "internal" && code != "store_unavailable"
}

// classify returns business errors unchanged and folds everything else,
// including context deadlines, into ErrStoreUnavailable.
func classify(err error) error {
	if err == nil || isTerminal(err) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

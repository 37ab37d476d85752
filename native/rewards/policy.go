package rewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Policy holds the fixed reward constants and behavioural switches. All
// amounts are in the smallest reward-point unit.
type Policy struct {
	BaseEventReward uint64
	PerMinuteRate   uint64
	// The per-waste-unit rate is WasteRateNumerator/WasteRateDenominator so
	// fractional rates stay in integer arithmetic.
	WasteRateNumerator   uint64
	WasteRateDenominator uint64
	ImageUploadReward    uint64

	// UniqueImageCredits limits image rewards to one per participant and event.
	UniqueImageCredits bool
	// SpendRequiresSelfOrIssuer restricts spends to the participant itself,
	// an issuer or the administrator.
	SpendRequiresSelfOrIssuer bool
	// MaxDescriptionLength bounds spend descriptions in runes.
	MaxDescriptionLength int
}

// DefaultPolicy mirrors the AquaCoin reward constants: 50 per event, 10 per
// minute, 1 per 1000 waste units and 25 per photo.
func DefaultPolicy() Policy {
	return Policy{
		BaseEventReward:      50,
		PerMinuteRate:        10,
		WasteRateNumerator:   1,
		WasteRateDenominator: 1000,
		ImageUploadReward:    25,
		MaxDescriptionLength: 256,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.WasteRateDenominator == 0 {
		return fmt.Errorf("rewards: waste rate denominator must be positive")
	}
	if p.MaxDescriptionLength <= 0 {
		return fmt.Errorf("rewards: max description length must be positive")
	}
	return nil
}

// EventReward computes BASE + minutes*PER_MINUTE + waste*NUM/DEN. The waste
// term is floored once per call.
func (p Policy) EventReward(activityMinutes, wasteUnits uint64) (uint64, error) {
	minutes, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(activityMinutes), uint256.NewInt(p.PerMinuteRate))
	if overflow {
		return 0, ErrRewardOverflow
	}
	waste, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(wasteUnits), uint256.NewInt(p.WasteRateNumerator))
	if overflow {
		return 0, ErrRewardOverflow
	}
	waste.Div(waste, uint256.NewInt(p.WasteRateDenominator))

	total := uint256.NewInt(p.BaseEventReward)
	if _, overflow = total.AddOverflow(total, minutes); overflow {
		return 0, ErrRewardOverflow
	}
	if _, overflow = total.AddOverflow(total, waste); overflow {
		return 0, ErrRewardOverflow
	}
	if !total.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrRewardOverflow, total.Dec())
	}
	return total.Uint64(), nil
}

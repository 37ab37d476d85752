package events

import (
	"strconv"
	"strings"
)

const (
	// TypeLedgerEventCredited is emitted when a completed cleanup event is
	// credited to a participant.
	TypeLedgerEventCredited = "ledger.event.credited"
	// TypeLedgerImageCredited is emitted when a photo submission is credited.
	TypeLedgerImageCredited = "ledger.image.credited"
	// TypeLedgerSpent is emitted when a participant redeems points.
	TypeLedgerSpent = "ledger.spent"
	// TypeLedgerAchievementUnlocked is emitted once per participant and
	// achievement.
	TypeLedgerAchievementUnlocked = "ledger.achievement.unlocked"
	// TypeLedgerIssuerAdded is emitted when the administrator authorizes a
	// new reward issuer.
	TypeLedgerIssuerAdded = "ledger.issuer.added"
	// TypeLedgerIssuerRemoved is emitted when an issuer loses authorization.
	TypeLedgerIssuerRemoved = "ledger.issuer.removed"
	// TypeLedgerHaltChanged is emitted whenever the emergency halt flag flips.
	TypeLedgerHaltChanged = "ledger.halt.changed"
)

type LedgerEventCredited struct {
	Participant     string
	EventID         string
	Issuer          string
	Amount          uint64
	ActivityMinutes uint64
	WasteUnits      uint64
	Balance         uint64
	Achievements    []string
}

func (LedgerEventCredited) EventType() string { return TypeLedgerEventCredited }

func (e LedgerEventCredited) Attributes() map[string]string {
	return map[string]string{
		"participant":     e.Participant,
		"eventId":         e.EventID,
		"issuer":          e.Issuer,
		"amount":          u64(e.Amount),
		"activityMinutes": u64(e.ActivityMinutes),
		"wasteUnits":      u64(e.WasteUnits),
		"balance":         u64(e.Balance),
		"achievements":    strings.Join(e.Achievements, ","),
	}
}

type LedgerImageCredited struct {
	Participant string
	EventID     string
	Issuer      string
	Amount      uint64
	Balance     uint64
}

func (LedgerImageCredited) EventType() string { return TypeLedgerImageCredited }

func (e LedgerImageCredited) Attributes() map[string]string {
	return map[string]string{
		"participant": e.Participant,
		"eventId":     e.EventID,
		"issuer":      e.Issuer,
		"amount":      u64(e.Amount),
		"balance":     u64(e.Balance),
	}
}

type LedgerSpent struct {
	Participant string
	Caller      string
	ItemID      string
	Description string
	Amount      uint64
	Balance     uint64
}

func (LedgerSpent) EventType() string { return TypeLedgerSpent }

func (e LedgerSpent) Attributes() map[string]string {
	return map[string]string{
		"participant": e.Participant,
		"caller":      e.Caller,
		"itemId":      e.ItemID,
		"description": e.Description,
		"amount":      u64(e.Amount),
		"balance":     u64(e.Balance),
	}
}

type LedgerAchievementUnlocked struct {
	Participant   string
	AchievementID string
	Reward        uint64
	// Manual is set when an issuer granted the achievement directly.
	Manual bool
}

func (LedgerAchievementUnlocked) EventType() string { return TypeLedgerAchievementUnlocked }

func (e LedgerAchievementUnlocked) Attributes() map[string]string {
	return map[string]string{
		"participant":   e.Participant,
		"achievementId": e.AchievementID,
		"reward":        u64(e.Reward),
		"manual":        strconv.FormatBool(e.Manual),
	}
}

type LedgerIssuerAdded struct {
	Caller string
	Issuer string
}

func (LedgerIssuerAdded) EventType() string { return TypeLedgerIssuerAdded }

func (e LedgerIssuerAdded) Attributes() map[string]string {
	return map[string]string{"caller": e.Caller, "issuer": e.Issuer}
}

type LedgerIssuerRemoved struct {
	Caller string
	Issuer string
}

func (LedgerIssuerRemoved) EventType() string { return TypeLedgerIssuerRemoved }

func (e LedgerIssuerRemoved) Attributes() map[string]string {
	return map[string]string{"caller": e.Caller, "issuer": e.Issuer}
}

type LedgerHaltChanged struct {
	Caller string
	Halted bool
}

func (LedgerHaltChanged) EventType() string { return TypeLedgerHaltChanged }

func (e LedgerHaltChanged) Attributes() map[string]string {
	return map[string]string{"caller": e.Caller, "halted": strconv.FormatBool(e.Halted)}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

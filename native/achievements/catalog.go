package achievements

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"aqualedger/native/accounts"
)

// FirstCleanup is granted on a participant's first completed event.
const FirstCleanup = "FIRST_CLEANUP"

// MaxIDLength bounds achievement ids; the SQL unlock table stores them in a
// 64-character column.
const MaxIDLength = 64

var (
	ErrUnknownAchievement  = errors.New("achievements: unknown achievement")
	ErrAchievementUnlocked = errors.New("achievements: already unlocked")
	ErrInvalidCatalog      = errors.New("achievements: invalid catalog")
)

// Metric names an account counter a rule can threshold on.
type Metric string

const (
	MetricEventsCompleted Metric = "events_completed"
	MetricActivityMinutes Metric = "activity_minutes"
	MetricWasteUnits      Metric = "waste_units"
)

// Rule unlocks an achievement once Metric reaches Threshold.
type Rule struct {
	Metric    Metric `yaml:"metric" json:"metric"`
	Threshold uint64 `yaml:"threshold" json:"threshold"`
}

// Satisfied evaluates the rule against a post-credit account.
func (r Rule) Satisfied(acc *accounts.Account) bool {
	if acc == nil {
		return false
	}
	switch r.Metric {
	case MetricEventsCompleted:
		return acc.EventsCompleted >= r.Threshold
	case MetricActivityMinutes:
		return acc.TotalActivityMinutes >= r.Threshold
	case MetricWasteUnits:
		return acc.TotalWasteUnits >= r.Threshold
	default:
		return false
	}
}

// Definition describes one achievement. Definitions without a rule can only be
// granted manually by an issuer.
type Definition struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Reward      uint64 `yaml:"reward" json:"reward"`
	Rule        *Rule  `yaml:"rule,omitempty" json:"rule,omitempty"`
}

// Unlock records that a participant holds an achievement.
type Unlock struct {
	Participant   string    `json:"participant"`
	AchievementID string    `json:"achievementId"`
	Reward        uint64    `json:"reward"`
	Manual        bool      `json:"manual"`
	UnlockedAt    time.Time `json:"unlockedAt"`
}

// State is the transactional view unlocks are recorded through.
type State interface {
	Unlocked(participant, achievementID string) (bool, error)
	PutUnlock(u *Unlock) error
}

// Catalog is the static table of achievement definitions.
type Catalog struct {
	defs []Definition
	byID map[string]int
}

// NormalizeID canonicalizes achievement identifiers.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// DefaultDefinitions returns the built-in achievement table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:          FirstCleanup,
			Name:        "First Cleanup",
			Description: "Completed a first cleanup event.",
			Rule:        &Rule{Metric: MetricEventsCompleted, Threshold: 1},
		},
		{
			ID:          "FIVE_CLEANUPS",
			Name:        "Regular",
			Description: "Completed five cleanup events.",
			Reward:      100,
			Rule:        &Rule{Metric: MetricEventsCompleted, Threshold: 5},
		},
		{
			ID:          "WASTE_WARRIOR",
			Name:        "Waste Warrior",
			Description: "Collected 10kg of waste.",
			Reward:      100,
			Rule:        &Rule{Metric: MetricWasteUnits, Threshold: 10_000},
		},
		{
			ID:          "DEDICATED_VOLUNTEER",
			Name:        "Dedicated Volunteer",
			Description: "Volunteered for ten hours.",
			Reward:      100,
			Rule:        &Rule{Metric: MetricActivityMinutes, Threshold: 600},
		},
		{
			ID:          "COMMUNITY_CHAMPION",
			Name:        "Community Champion",
			Description: "Recognised by an organiser for outstanding work.",
			Reward:      250,
		},
	}
}

// DefaultCatalog returns a catalog over DefaultDefinitions.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog validates and indexes the definitions. Order is preserved and
// determines evaluation order.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(defs))}
	for i := range defs {
		def := defs[i]
		def.ID = NormalizeID(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("%w: definition %d has no id", ErrInvalidCatalog, i)
		}
		if len(def.ID) > MaxIDLength {
			return nil, fmt.Errorf("%w: id %q longer than %d bytes", ErrInvalidCatalog, def.ID, MaxIDLength)
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidCatalog, def.ID)
		}
		if strings.TrimSpace(def.Name) == "" {
			def.Name = def.ID
		}
		if def.Rule != nil {
			rule := *def.Rule
			switch rule.Metric {
			case MetricEventsCompleted, MetricActivityMinutes, MetricWasteUnits:
			default:
				return nil, fmt.Errorf("%w: %s uses unknown metric %q", ErrInvalidCatalog, def.ID, rule.Metric)
			}
			if rule.Threshold == 0 {
				return nil, fmt.Errorf("%w: %s threshold must be positive", ErrInvalidCatalog, def.ID)
			}
			def.Rule = &rule
		}
		c.byID[def.ID] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// Definitions returns a copy of the catalog in evaluation order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Lookup returns the definition for id.
func (c *Catalog) Lookup(id string) (Definition, bool) {
	idx, ok := c.byID[NormalizeID(id)]
	if !ok {
		return Definition{}, false
	}
	return c.defs[idx], true
}

// HasAchievement reports whether the participant holds the achievement.
func (c *Catalog) HasAchievement(st State, participant, id string) (bool, error) {
	return st.Unlocked(participant, NormalizeID(id))
}

// EvaluateAndUnlock runs every rule against the post-credit account and
// records unlocks that were not held yet. It returns only the newly unlocked
// definitions; replays never grant the same achievement twice.
func (c *Catalog) EvaluateAndUnlock(st State, acc *accounts.Account, now time.Time) ([]Definition, error) {
	if acc == nil {
		return nil, nil
	}
	var unlocked []Definition
	for _, def := range c.defs {
		if def.Rule == nil || !def.Rule.Satisfied(acc) {
			continue
		}
		held, err := st.Unlocked(acc.Participant, def.ID)
		if err != nil {
			return nil, err
		}
		if held {
			continue
		}
		if err := st.PutUnlock(&Unlock{
			Participant:   acc.Participant,
			AchievementID: def.ID,
			Reward:        def.Reward,
			UnlockedAt:    now.UTC(),
		}); err != nil {
			return nil, err
		}
		unlocked = append(unlocked, def)
	}
	return unlocked, nil
}

// Unlock grants an achievement directly, regardless of its rule.
func (c *Catalog) Unlock(st State, participant, id string, now time.Time) (Definition, error) {
	def, ok := c.Lookup(id)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownAchievement, NormalizeID(id))
	}
	held, err := st.Unlocked(participant, def.ID)
	if err != nil {
		return Definition{}, err
	}
	if held {
		return Definition{}, fmt.Errorf("%w: %s", ErrAchievementUnlocked, def.ID)
	}
	if err := st.PutUnlock(&Unlock{
		Participant:   participant,
		AchievementID: def.ID,
		Reward:        def.Reward,
		Manual:        true,
		UnlockedAt:    now.UTC(),
	}); err != nil {
		return Definition{}, err
	}
	return def, nil
}

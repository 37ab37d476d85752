package authority

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SystemConfig is the single persisted record holding the issuer set and the
// emergency halt flag.
type SystemConfig struct {
	Issuers   []string  `json:"issuers"`
	Halted    bool      `json:"halted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the configuration.
func (c *SystemConfig) Clone() *SystemConfig {
	if c == nil {
		return &SystemConfig{}
	}
	out := *c
	out.Issuers = append([]string(nil), c.Issuers...)
	return &out
}

// State persists the system configuration record.
type State interface {
	LoadSystemConfig(ctx context.Context) (*SystemConfig, bool, error)
	SaveSystemConfig(ctx context.Context, cfg *SystemConfig) error
}

// Registry answers authorization questions for ledger operations. Reads are
// served from memory; mutations are persisted before they become visible.
type Registry struct {
	st    State
	admin string
	now   func() time.Time

	writeMu sync.Mutex

	mu        sync.RWMutex
	issuers   map[string]struct{}
	halted    bool
	updatedAt time.Time
}

// NewRegistry loads the persisted system configuration and binds it to the
// configured administrator identity.
func NewRegistry(ctx context.Context, st State, admin string) (*Registry, error) {
	if st == nil {
		return nil, fmt.Errorf("authority: state not configured")
	}
	if admin == "" {
		return nil, ErrNoAdministrator
	}
	normalizedAdmin, err := NormalizeIdentity(admin)
	if err != nil {
		return nil, fmt.Errorf("authority: administrator: %w", err)
	}
	r := &Registry{
		st:      st,
		admin:   normalizedAdmin,
		now:     time.Now,
		issuers: make(map[string]struct{}),
	}
	cfg, ok, err := st.LoadSystemConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("authority: load system config: %w", err)
	}
	if ok && cfg != nil {
		for _, issuer := range cfg.Issuers {
			normalized, err := NormalizeIdentity(issuer)
			if err != nil {
				return nil, fmt.Errorf("authority: stored issuer %q: %w", issuer, err)
			}
			r.issuers[normalized] = struct{}{}
		}
		r.halted = cfg.Halted
		r.updatedAt = cfg.UpdatedAt
	}
	return r, nil
}

// SetClock overrides the time source used to stamp configuration updates.
func (r *Registry) SetClock(now func() time.Time) {
	if r == nil || now == nil {
		return
	}
	r.now = now
}

// Administrator returns the canonical administrator identity.
func (r *Registry) Administrator() string { return r.admin }

// Resolve maps an identity to its current principal variant. Identities that
// cannot be normalized resolve to an anonymous participant.
func (r *Registry) Resolve(identity string) Principal {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return Participant("")
	}
	if id == r.admin {
		return Administrator(id)
	}
	r.mu.RLock()
	_, ok := r.issuers[id]
	r.mu.RUnlock()
	if ok {
		return Issuer(id)
	}
	return Participant(id)
}

// IsAdministrator reports whether the identity is the administrator.
func (r *Registry) IsAdministrator(identity string) bool {
	return r.Resolve(identity).CanAdminister()
}

// IsAuthorizedIssuer reports whether the identity may credit rewards. The
// administrator is always authorized.
func (r *Registry) IsAuthorizedIssuer(identity string) bool {
	return r.Resolve(identity).CanIssue()
}

// Halted implements common.HaltView.
func (r *Registry) Halted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.halted
}

// Issuers returns the explicitly authorized issuers in deterministic order.
func (r *Registry) Issuers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIssuersLocked()
}

// Snapshot returns the current configuration record.
func (r *Registry) Snapshot() SystemConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return SystemConfig{Issuers: r.sortedIssuersLocked(), Halted: r.halted, UpdatedAt: r.updatedAt}
}

// AddIssuer authorizes principal to credit rewards. Only the administrator may
// call it; adding an existing issuer is a no-op and reports added=false.
func (r *Registry) AddIssuer(ctx context.Context, caller, principal string) (bool, error) {
	if !r.IsAdministrator(caller) {
		return false, ErrUnauthorized
	}
	id, err := NormalizeIdentity(principal)
	if err != nil {
		return false, err
	}
	if id == r.admin {
		return false, nil
	}
	return r.mutate(ctx, func(issuers map[string]struct{}, halted *bool) bool {
		if _, ok := issuers[id]; ok {
			return false
		}
		issuers[id] = struct{}{}
		return true
	})
}

// RemoveIssuer revokes an issuer. Removing an unknown issuer is a no-op.
func (r *Registry) RemoveIssuer(ctx context.Context, caller, principal string) (bool, error) {
	if !r.IsAdministrator(caller) {
		return false, ErrUnauthorized
	}
	id, err := NormalizeIdentity(principal)
	if err != nil {
		return false, err
	}
	if id == r.admin {
		return false, ErrRemoveAdmin
	}
	return r.mutate(ctx, func(issuers map[string]struct{}, halted *bool) bool {
		if _, ok := issuers[id]; !ok {
			return false
		}
		delete(issuers, id)
		return true
	})
}

// SetHalted flips the emergency halt flag. Setting the current value again is
// a no-op.
func (r *Registry) SetHalted(ctx context.Context, caller string, value bool) (bool, error) {
	if !r.IsAdministrator(caller) {
		return false, ErrUnauthorized
	}
	return r.mutate(ctx, func(issuers map[string]struct{}, halted *bool) bool {
		if *halted == value {
			return false
		}
		*halted = value
		return true
	})
}

// mutate applies fn to a copy of the state, persists the result and only then
// publishes it.
func (r *Registry) mutate(ctx context.Context, fn func(map[string]struct{}, *bool) bool) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	issuers := make(map[string]struct{}, len(r.issuers))
	for id := range r.issuers {
		issuers[id] = struct{}{}
	}
	halted := r.halted
	r.mu.RUnlock()

	if !fn(issuers, &halted) {
		return false, nil
	}
	cfg := &SystemConfig{
		Issuers:   sortedKeys(issuers),
		Halted:    halted,
		UpdatedAt: r.now().UTC(),
	}
	if err := r.st.SaveSystemConfig(ctx, cfg); err != nil {
		return false, fmt.Errorf("authority: persist system config: %w", err)
	}

	r.mu.Lock()
	r.issuers = issuers
	r.halted = halted
	r.updatedAt = cfg.UpdatedAt
	r.mu.Unlock()
	return true, nil
}

func (r *Registry) sortedIssuersLocked() []string {
	return sortedKeys(r.issuers)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

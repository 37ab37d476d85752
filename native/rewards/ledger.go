package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"aqualedger/core/events"
	"aqualedger/native/accounts"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
	nativecommon "aqualedger/native/common"
)

// DefaultOperationTimeout bounds every ledger operation including lock waits
// and store round-trips.
const DefaultOperationTimeout = 5 * time.Second

// Observer receives the outcome of every ledger operation. code is the value
// of ErrorCode for the returned error.
type Observer interface {
	ObserveOperation(op, code string, amount uint64, elapsed time.Duration)
}

// Ledger orchestrates balance mutations, fencing, achievement evaluation and
// authorization. It is safe for concurrent use.
type Ledger struct {
	store    Store
	auth     Authorizer
	catalog  *achievements.Catalog
	policy   Policy
	locks    *keyLocks
	emitter  events.Emitter
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	timeout  time.Duration
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithCatalog replaces the default achievement catalog.
func WithCatalog(c *achievements.Catalog) Option {
	return func(l *Ledger) {
		if c != nil {
			l.catalog = c
		}
	}
}

// WithEmitter configures the event sink for committed mutations.
func WithEmitter(e events.Emitter) Option {
	return func(l *Ledger) {
		if e != nil {
			l.emitter = e
		}
	}
}

// WithObserver installs an operation observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Ledger) {
		if t != nil {
			l.tracer = t
		}
	}
}

// WithClock overrides the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTimeout overrides DefaultOperationTimeout. Non-positive values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// New constructs a ledger over the provided store and authorizer.
func New(store Store, auth Authorizer, policy Policy, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("rewards: store not configured")
	}
	if auth == nil {
		return nil, fmt.Errorf("rewards: authorizer not configured")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		store:   store,
		auth:    auth,
		catalog: achievements.DefaultCatalog(),
		policy:  policy,
		locks:   newKeyLocks(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("aqualedger/native/rewards"),
		now:     time.Now,
		timeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Catalog exposes the achievement catalog in use.
func (l *Ledger) Catalog() *achievements.Catalog { return l.catalog }

// Policy returns the reward policy in use.
func (l *Ledger) Policy() Policy { return l.policy }

// CreditEventCompletion rewards a participant for completing an event. A
// (participant, event) pair is credited at most once; retries after success
// fail with ErrDuplicateEvent and change nothing.
func (l *Ledger) CreditEventCompletion(ctx context.Context, caller, participant, eventID string, activityMinutes, wasteUnits uint64) (receipt *Receipt, err error) {
	ctx, finish := l.begin(ctx, "CreditEventCompletion", participant)
	defer func() { finish(err, receiptAmount(receipt)) }()

	if err := nativecommon.Guard(l.auth); err != nil {
		return nil, err
	}
	issuer, err := l.requireIssuer(caller)
	if err != nil {
		return nil, err
	}
	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	key, id, err := EventKey(eventID)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	var (
		amount   uint64
		acc      *accounts.Account
		unlocked []achievements.Definition
		bonus    uint64
	)
	err = l.mutate(ctx, pid, func(tx Tx) error {
		if _, done, err := tx.CompletedEvent(pid, key); err != nil {
			return err
		} else if done {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, id)
		}
		var err error
		if amount, err = l.policy.EventReward(activityMinutes, wasteUnits); err != nil {
			return err
		}
		if err := tx.PutCompletedEvent(&CompletedEvent{
			Participant:     pid,
			EventKey:        key,
			EventID:         id,
			Issuer:          issuer,
			Amount:          amount,
			ActivityMinutes: activityMinutes,
			WasteUnits:      wasteUnits,
			CompletedAt:     now,
		}); err != nil {
			return err
		}
		st := accounts.NewStore(tx, fixed(now))
		credited, err := st.Credit(pid, accounts.Credit{
			Amount:          amount,
			ActivityMinutes: activityMinutes,
			WasteUnits:      wasteUnits,
			EventCompletion: true,
		})
		if err != nil {
			return err
		}
		acc, unlocked, bonus, err = l.evaluate(tx, st, credited, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := definitionIDs(unlocked)
	receipt = &Receipt{
		ID:              receiptID(ReceiptEventCompletion, pid, key.Bytes()),
		Kind:            ReceiptEventCompletion,
		Participant:     pid,
		EventID:         id,
		Amount:          amount + bonus,
		Balance:         acc.Balance,
		NewAchievements: ids,
		Timestamp:       now,
	}
	l.emit(events.LedgerEventCredited{
		Participant:     pid,
		EventID:         id,
		Issuer:          issuer,
		Amount:          receipt.Amount,
		ActivityMinutes: activityMinutes,
		WasteUnits:      wasteUnits,
		Balance:         acc.Balance,
		Achievements:    ids,
	})
	l.emitUnlocks(pid, unlocked, false)
	l.logger.Info("event completion credited",
		slog.String("participant", pid),
		slog.String("event", id),
		slog.String("issuer", issuer),
		slog.Uint64("amount", receipt.Amount),
		slog.Uint64("balance", acc.Balance),
		slog.Any("achievements", ids))
	return receipt, nil
}

// CreditImageUpload credits the fixed image-upload reward. Unless the policy
// enables UniqueImageCredits, repeated uploads for the same event are credited
// every time.
func (l *Ledger) CreditImageUpload(ctx context.Context, caller, participant, eventID string) (receipt *Receipt, err error) {
	ctx, finish := l.begin(ctx, "CreditImageUpload", participant)
	defer func() { finish(err, receiptAmount(receipt)) }()

	if err := nativecommon.Guard(l.auth); err != nil {
		return nil, err
	}
	issuer, err := l.requireIssuer(caller)
	if err != nil {
		return nil, err
	}
	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	key, id, err := EventKey(eventID)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	amount := l.policy.ImageUploadReward
	rec := &ImageCredit{
		ID:          uuid.NewString(),
		Participant: pid,
		EventKey:    key,
		EventID:     id,
		Issuer:      issuer,
		Amount:      amount,
		CreditedAt:  now,
	}
	var acc *accounts.Account
	err = l.mutate(ctx, pid, func(tx Tx) error {
		if l.policy.UniqueImageCredits {
			seen, err := tx.ImageCredited(pid, key)
			if err != nil {
				return err
			}
			if seen {
				return fmt.Errorf("%w: %s", ErrDuplicateImage, id)
			}
		}
		if err := tx.PutImageCredit(rec); err != nil {
			return err
		}
		var err error
		acc, err = accounts.NewStore(tx, fixed(now)).Credit(pid, accounts.Credit{Amount: amount})
		return err
	})
	if err != nil {
		return nil, err
	}

	receipt = &Receipt{
		ID:          rec.ID,
		Kind:        ReceiptImageUpload,
		Participant: pid,
		EventID:     id,
		Amount:      amount,
		Balance:     acc.Balance,
		Timestamp:   now,
	}
	l.emit(events.LedgerImageCredited{Participant: pid, EventID: id, Issuer: issuer, Amount: amount, Balance: acc.Balance})
	l.logger.Info("image upload credited",
		slog.String("participant", pid),
		slog.String("event", id),
		slog.String("issuer", issuer),
		slog.Uint64("balance", acc.Balance))
	return receipt, nil
}

// Spend debits amount from the participant's balance and appends a spend
// record. The debit is all-or-nothing.
func (l *Ledger) Spend(ctx context.Context, caller, participant string, amount uint64, itemID, description string) (receipt *Receipt, err error) {
	ctx, finish := l.begin(ctx, "Spend", participant)
	defer func() { finish(err, receiptAmount(receipt)) }()

	if err := nativecommon.Guard(l.auth); err != nil {
		return nil, err
	}
	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: spend amount must be positive", ErrInvalidAmount)
	}
	item := strings.TrimSpace(itemID)
	if item == "" || len(item) > MaxEventIDLength {
		return nil, ErrInvalidItem
	}
	principal := l.auth.Resolve(caller)
	if l.policy.SpendRequiresSelfOrIssuer && !principal.CanIssue() && principal.ID != pid {
		return nil, ErrUnauthorized
	}
	callerID := principal.ID
	if callerID == "" {
		callerID = pid
	}

	now := l.now().UTC()
	rec := &SpendRecord{
		ID:          uuid.NewString(),
		Participant: pid,
		Caller:      callerID,
		ItemID:      item,
		Amount:      amount,
		Description: l.sanitizeDescription(description),
		SpentAt:     now,
	}
	var acc *accounts.Account
	err = l.mutate(ctx, pid, func(tx Tx) error {
		var err error
		if acc, err = accounts.NewStore(tx, fixed(now)).Debit(pid, amount); err != nil {
			return err
		}
		return tx.PutSpend(rec)
	})
	if err != nil {
		return nil, err
	}

	receipt = &Receipt{
		ID:          rec.ID,
		Kind:        ReceiptSpend,
		Participant: pid,
		Amount:      amount,
		Balance:     acc.Balance,
		Timestamp:   now,
	}
	l.emit(events.LedgerSpent{
		Participant: pid,
		Caller:      callerID,
		ItemID:      item,
		Description: rec.Description,
		Amount:      amount,
		Balance:     acc.Balance,
	})
	l.logger.Info("reward points spent",
		slog.String("participant", pid),
		slog.String("item", item),
		slog.Uint64("amount", amount),
		slog.Uint64("balance", acc.Balance))
	return receipt, nil
}

// GrantAchievement lets an issuer unlock a catalog achievement directly,
// crediting its reward in the same transaction.
func (l *Ledger) GrantAchievement(ctx context.Context, caller, participant, achievementID string) (receipt *Receipt, err error) {
	ctx, finish := l.begin(ctx, "GrantAchievement", participant)
	defer func() { finish(err, receiptAmount(receipt)) }()

	if err := nativecommon.Guard(l.auth); err != nil {
		return nil, err
	}
	if _, err := l.requireIssuer(caller); err != nil {
		return nil, err
	}
	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	if _, ok := l.catalog.Lookup(achievementID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAchievement, achievements.NormalizeID(achievementID))
	}

	now := l.now().UTC()
	var (
		def achievements.Definition
		acc *accounts.Account
	)
	err = l.mutate(ctx, pid, func(tx Tx) error {
		var err error
		if def, err = l.catalog.Unlock(tx, pid, achievementID, now); err != nil {
			return err
		}
		st := accounts.NewStore(tx, fixed(now))
		if def.Reward > 0 {
			if _, err = st.Credit(pid, accounts.Credit{Amount: def.Reward}); err != nil {
				return err
			}
		}
		acc, err = st.IncrementAchievements(pid, 1)
		return err
	})
	if err != nil {
		return nil, err
	}

	receipt = &Receipt{
		ID:              receiptID(ReceiptAchievement, pid, []byte(def.ID)),
		Kind:            ReceiptAchievement,
		Participant:     pid,
		Amount:          def.Reward,
		Balance:         acc.Balance,
		NewAchievements: []string{def.ID},
		Timestamp:       now,
	}
	l.emitUnlocks(pid, []achievements.Definition{def}, true)
	l.logger.Info("achievement granted",
		slog.String("participant", pid),
		slog.String("achievement", def.ID),
		slog.Uint64("reward", def.Reward))
	return receipt, nil
}

// AddAuthorizedIssuer authorizes principal to credit rewards. Only the
// administrator may call it. It is not gated by the halt flag.
func (l *Ledger) AddAuthorizedIssuer(ctx context.Context, caller, principal string) (err error) {
	ctx, finish := l.begin(ctx, "AddAuthorizedIssuer", principal)
	defer func() { finish(err, 0) }()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	added, err := l.auth.AddIssuer(ctx, caller, principal)
	if err != nil {
		return classify(err)
	}
	if added {
		issuer, _ := authority.NormalizeIdentity(principal)
		l.emit(events.LedgerIssuerAdded{Caller: l.auth.Resolve(caller).ID, Issuer: issuer})
		l.logger.Info("issuer authorized", slog.String("issuer", issuer))
	}
	return nil
}

// RemoveAuthorizedIssuer revokes an issuer. Removing an unknown issuer is a
// no-op.
func (l *Ledger) RemoveAuthorizedIssuer(ctx context.Context, caller, principal string) (err error) {
	ctx, finish := l.begin(ctx, "RemoveAuthorizedIssuer", principal)
	defer func() { finish(err, 0) }()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	removed, err := l.auth.RemoveIssuer(ctx, caller, principal)
	if err != nil {
		return classify(err)
	}
	if removed {
		issuer, _ := authority.NormalizeIdentity(principal)
		l.emit(events.LedgerIssuerRemoved{Caller: l.auth.Resolve(caller).ID, Issuer: issuer})
		l.logger.Info("issuer revoked", slog.String("issuer", issuer))
	}
	return nil
}

// SetHalted flips the emergency halt flag. Calls that already passed the
// halt check may still complete.
func (l *Ledger) SetHalted(ctx context.Context, caller string, halted bool) (err error) {
	ctx, finish := l.begin(ctx, "SetHalted", "")
	defer func() { finish(err, 0) }()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	changed, err := l.auth.SetHalted(ctx, caller, halted)
	if err != nil {
		return classify(err)
	}
	if changed {
		l.emit(events.LedgerHaltChanged{Caller: l.auth.Resolve(caller).ID, Halted: halted})
		l.logger.Warn("ledger halt flag changed", slog.Bool("halted", halted))
	}
	return nil
}

// QueryImpact returns the participant's balance and impact counters. Unknown
// participants yield an all-zero summary. Reads are allowed while halted.
func (l *Ledger) QueryImpact(ctx context.Context, participant string) (impact *Impact, err error) {
	ctx, finish := l.begin(ctx, "QueryImpact", participant)
	defer func() { finish(err, 0) }()

	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	var acc *accounts.Account
	err = l.view(ctx, func(tx Tx) error {
		var err error
		acc, err = accounts.NewStore(tx, l.now).Get(pid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return impactOf(acc), nil
}

// HasAchievement reports whether the participant holds achievementID.
func (l *Ledger) HasAchievement(ctx context.Context, participant, achievementID string) (held bool, err error) {
	ctx, finish := l.begin(ctx, "HasAchievement", participant)
	defer func() { finish(err, 0) }()

	pid, err := normalizeParticipant(participant)
	if err != nil {
		return false, err
	}
	if _, ok := l.catalog.Lookup(achievementID); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAchievement, achievements.NormalizeID(achievementID))
	}
	err = l.view(ctx, func(tx Tx) error {
		var err error
		held, err = l.catalog.HasAchievement(tx, pid, achievementID)
		return err
	})
	return held, err
}

// Achievements lists the participant's unlocks ordered by unlock time.
func (l *Ledger) Achievements(ctx context.Context, participant string) (out []achievements.Unlock, err error) {
	ctx, finish := l.begin(ctx, "Achievements", participant)
	defer func() { finish(err, 0) }()

	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	out, err = l.store.Unlocks(ctx, pid)
	if err != nil {
		return nil, classify(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

// Spends lists the participant's spend records oldest first.
func (l *Ledger) Spends(ctx context.Context, participant string) (out []SpendRecord, err error) {
	ctx, finish := l.begin(ctx, "Spends", participant)
	defer func() { finish(err, 0) }()

	pid, err := normalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	out, err = l.store.Spends(ctx, pid)
	if err != nil {
		return nil, classify(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SpentAt.Before(out[j].SpentAt) })
	return out, nil
}

// Supply sums every account. It is computed from account records so it can
// never drift from the balances it reports on.
func (l *Ledger) Supply(ctx context.Context) (supply *Supply, err error) {
	ctx, finish := l.begin(ctx, "Supply", "")
	defer func() { finish(err, 0) }()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	supply = &Supply{}
	err = l.store.ForEachAccount(ctx, func(acc *accounts.Account) error {
		if err := acc.Check(); err != nil {
			return err
		}
		supply.Accounts++
		supply.Issued += acc.TotalEarned
		supply.Spent += acc.TotalSpent
		supply.Outstanding += acc.Balance
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return supply, nil
}

// Status reports the halt flag and the authorized issuers.
func (l *Ledger) Status() authority.SystemConfig {
	return l.auth.Snapshot()
}

// Halted reports whether balance-mutating operations are currently rejected.
func (l *Ledger) Halted() bool { return l.auth.Halted() }

// evaluate runs achievement rules against the post-credit account, credits
// any bonus and bumps the unlock counter, all inside tx.
func (l *Ledger) evaluate(tx Tx, st *accounts.Store, acc *accounts.Account, now time.Time) (*accounts.Account, []achievements.Definition, uint64, error) {
	unlocked, err := l.catalog.EvaluateAndUnlock(tx, acc, now)
	if err != nil || len(unlocked) == 0 {
		return acc, nil, 0, err
	}
	var bonus uint64
	for _, def := range unlocked {
		if def.Reward > ^uint64(0)-bonus {
			return nil, nil, 0, ErrRewardOverflow
		}
		bonus += def.Reward
	}
	if bonus > 0 {
		if acc, err = st.Credit(acc.Participant, accounts.Credit{Amount: bonus}); err != nil {
			return nil, nil, 0, err
		}
	}
	acc, err = st.IncrementAchievements(acc.Participant, uint64(len(unlocked)))
	if err != nil {
		return nil, nil, 0, err
	}
	return acc, unlocked, bonus, nil
}

// mutate serializes fn against other writers for the same participant and
// runs it in one store transaction under the operation timeout.
func (l *Ledger) mutate(ctx context.Context, participant string, fn func(Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	release, err := l.locks.acquire(ctx, participant)
	if err != nil {
		return classify(err)
	}
	defer release()
	return classify(l.store.Update(ctx, fn))
}

func (l *Ledger) view(ctx context.Context, fn func(Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return classify(l.store.View(ctx, fn))
}

func (l *Ledger) requireIssuer(caller string) (string, error) {
	p := l.auth.Resolve(caller)
	if !p.CanIssue() {
		return "", ErrUnauthorized
	}
	return p.ID, nil
}

func (l *Ledger) sanitizeDescription(desc string) string {
	desc = strings.TrimSpace(norm.NFC.String(desc))
	if utf8.RuneCountInString(desc) <= l.policy.MaxDescriptionLength {
		return desc
	}
	runes := []rune(desc)
	return string(runes[:l.policy.MaxDescriptionLength])
}

func (l *Ledger) emit(e events.Event) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(e)
}

func (l *Ledger) emitUnlocks(participant string, defs []achievements.Definition, manual bool) {
	for _, def := range defs {
		l.emit(events.LedgerAchievementUnlocked{
			Participant:   participant,
			AchievementID: def.ID,
			Reward:        def.Reward,
			Manual:        manual,
		})
	}
}

// begin opens a span and returns a finisher that records the outcome on the
// span, the observer and, for store failures, the log.
func (l *Ledger) begin(ctx context.Context, op, participant string) (context.Context, func(error, uint64)) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String("ledger.operation", op),
		attribute.String("ledger.participant", participant),
	))
	return ctx, func(err error, amount uint64) {
		code := ErrorCode(err)
		span.SetAttributes(attribute.String("ledger.outcome", code))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			if errors.Is(err, ErrStoreUnavailable) || code == "internal" || code == "invariant_violation" {
				l.logger.Error("ledger operation failed",
					slog.String("operation", op),
					slog.String("participant", participant),
					slog.String("code", code),
					slog.Any("error", err))
			}
		}
		span.End()
		if l.observer != nil {
			l.observer.ObserveOperation(op, code, amount, time.Since(start))
		}
	}
}

func normalizeParticipant(raw string) (string, error) {
	id, err := authority.NormalizeIdentity(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParticipant, err)
	}
	return id, nil
}

func definitionIDs(defs []achievements.Definition) []string {
	if len(defs) == 0 {
		return nil
	}
	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.ID
	}
	return ids
}

func receiptAmount(r *Receipt) uint64 {
	if r == nil {
		return 0
	}
	return r.Amount
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

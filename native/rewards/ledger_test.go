package rewards_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"aqualedger/core/events"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
	"aqualedger/native/rewards"
	"aqualedger/state/ledgerkv"
	"aqualedger/storage"
)

const (
	admin       = "0x00000000000000000000000000000000000000aa"
	issuer      = "0x1111111111111111111111111111111111111111"
	participant = "0x2222222222222222222222222222222222222222"
	stranger    = "0x3333333333333333333333333333333333333333"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(e events.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType()
	}
	return out
}

type harness struct {
	ledger   *rewards.Ledger
	registry *authority.Registry
	store    *ledgerkv.Store
	emitter  *captureEmitter
}

func newHarness(t *testing.T, policy rewards.Policy, opts ...rewards.Option) *harness {
	t.Helper()
	ctx := context.Background()
	store := ledgerkv.New(storage.NewMemDB())
	t.Cleanup(func() { store.Close() })
	registry, err := authority.NewRegistry(ctx, store, admin)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := registry.AddIssuer(ctx, admin, issuer); err != nil {
		t.Fatalf("add issuer: %v", err)
	}
	emitter := &captureEmitter{}
	opts = append([]rewards.Option{rewards.WithEmitter(emitter)}, opts...)
	ledger, err := rewards.New(store, registry, policy, opts...)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return &harness{ledger: ledger, registry: registry, store: store, emitter: emitter}
}

func (h *harness) impact(t *testing.T, who string) *rewards.Impact {
	t.Helper()
	impact, err := h.ledger.QueryImpact(context.Background(), who)
	if err != nil {
		t.Fatalf("query impact: %v", err)
	}
	return impact
}

func TestCleanupLifecycle(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	receipt, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 180, 5000)
	if err != nil {
		t.Fatalf("credit event: %v", err)
	}
	if receipt.Amount != 1855 || receipt.Balance != 1855 {
		t.Fatalf("expected 1855 credited, got amount=%d balance=%d", receipt.Amount, receipt.Balance)
	}
	if len(receipt.NewAchievements) != 1 || receipt.NewAchievements[0] != achievements.FirstCleanup {
		t.Fatalf("expected FIRST_CLEANUP, got %v", receipt.NewAchievements)
	}
	impact := h.impact(t, participant)
	if impact.Balance != 1855 || impact.AchievementsUnlocked != 1 || impact.EventsCompleted != 1 {
		t.Fatalf("unexpected impact: %+v", impact)
	}
	if impact.TotalActivityMinutes != 180 || impact.TotalWasteUnits != 5000 {
		t.Fatalf("unexpected impact counters: %+v", impact)
	}

	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 180, 5000); !errors.Is(err, rewards.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	if got := h.impact(t, participant).Balance; got != 1855 {
		t.Fatalf("duplicate changed balance to %d", got)
	}

	spend, err := h.ledger.Spend(ctx, participant, participant, 100, "reusable-bottle", "Bottle")
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if spend.Balance != 1755 {
		t.Fatalf("expected 1755 after spend, got %d", spend.Balance)
	}
	if got := h.impact(t, participant).TotalSpent; got != 100 {
		t.Fatalf("expected totalSpent 100, got %d", got)
	}

	if _, err := h.ledger.Spend(ctx, participant, participant, 2000, "kayak", ""); !errors.Is(err, rewards.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := h.impact(t, participant).Balance; got != 1755 {
		t.Fatalf("failed spend changed balance to %d", got)
	}

	if err := h.ledger.SetHalted(ctx, admin, true); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if _, err := h.ledger.CreditImageUpload(ctx, issuer, participant, "E1"); !errors.Is(err, rewards.ErrSystemHalted) {
		t.Fatalf("expected ErrSystemHalted, got %v", err)
	}
	if got := h.impact(t, participant); got.Balance != 1755 || got.TotalSpent != 100 {
		t.Fatalf("impact must stay readable while halted, got %+v", got)
	}

	spends, err := h.ledger.Spends(ctx, participant)
	if err != nil {
		t.Fatalf("spends: %v", err)
	}
	if len(spends) != 1 || spends[0].ItemID != "reusable-bottle" || spends[0].Amount != 100 {
		t.Fatalf("unexpected spends: %+v", spends)
	}

	want := []string{
		events.TypeLedgerEventCredited,
		events.TypeLedgerAchievementUnlocked,
		events.TypeLedgerSpent,
		events.TypeLedgerHaltChanged,
	}
	got := h.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestCreditRequiresIssuer(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	if _, err := h.ledger.CreditEventCompletion(ctx, stranger, participant, "E1", 10, 0); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.ledger.CreditImageUpload(ctx, participant, participant, "E1"); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.ledger.CreditEventCompletion(ctx, admin, participant, "E1", 0, 0); err != nil {
		t.Fatalf("administrator should be able to credit: %v", err)
	}
	if got := h.impact(t, participant).Balance; got != 50 {
		t.Fatalf("expected base reward 50, got %d", got)
	}
}

func TestRevokedIssuerCannotCredit(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	if err := h.ledger.RemoveAuthorizedIssuer(ctx, admin, issuer); err != nil {
		t.Fatalf("remove issuer: %v", err)
	}
	if _, err := h.ledger.CreditImageUpload(ctx, issuer, participant, "E1"); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after revocation, got %v", err)
	}
	if err := h.ledger.AddAuthorizedIssuer(ctx, issuer, stranger); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected non-admin add to fail, got %v", err)
	}
	if err := h.ledger.AddAuthorizedIssuer(ctx, admin, "not an identity"); !errors.Is(err, authority.ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, "", "E1", 1, 1); !errors.Is(err, rewards.ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "  ", 1, 1); !errors.Is(err, rewards.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if _, err := h.ledger.Spend(ctx, participant, participant, 0, "item", ""); !errors.Is(err, rewards.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := h.ledger.Spend(ctx, participant, participant, 1, " ", ""); !errors.Is(err, rewards.ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", ^uint64(0), 0); !errors.Is(err, rewards.ErrRewardOverflow) {
		t.Fatalf("expected ErrRewardOverflow, got %v", err)
	}
	if got := h.impact(t, participant); got.Balance != 0 || got.EventsCompleted != 0 {
		t.Fatalf("rejected calls must not change state: %+v", got)
	}
}

func TestParticipantAddressCasingIsOneAccount(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	upper := "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"
	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, lower, "E1", 0, 0); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, upper, "E1", 0, 0); !errors.Is(err, rewards.ErrDuplicateEvent) {
		t.Fatalf("expected casing variants to share the fence, got %v", err)
	}
	impact := h.impact(t, upper)
	if impact.Participant != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" || impact.Balance != 50 {
		t.Fatalf("unexpected impact: %+v", impact)
	}
}

func TestImageCreditsRepeatUnlessUnique(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, rewards.DefaultPolicy())
	for i := 0; i < 3; i++ {
		if _, err := h.ledger.CreditImageUpload(ctx, issuer, participant, "E1"); err != nil {
			t.Fatalf("image credit %d: %v", i, err)
		}
	}
	if got := h.impact(t, participant).Balance; got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}

	policy := rewards.DefaultPolicy()
	policy.UniqueImageCredits = true
	unique := newHarness(t, policy)
	if _, err := unique.ledger.CreditImageUpload(ctx, issuer, participant, "E1"); err != nil {
		t.Fatalf("first image credit: %v", err)
	}
	if _, err := unique.ledger.CreditImageUpload(ctx, issuer, participant, "E1"); !errors.Is(err, rewards.ErrDuplicateImage) {
		t.Fatalf("expected ErrDuplicateImage, got %v", err)
	}
	if _, err := unique.ledger.CreditImageUpload(ctx, issuer, participant, "E2"); err != nil {
		t.Fatalf("other event image credit: %v", err)
	}
	if got := unique.impact(t, participant).Balance; got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestDuplicateEventWinsOverRewardOverflow(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 180, 5000); err != nil {
		t.Fatalf("credit event: %v", err)
	}
	_, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", math.MaxUint64, 0)
	if !errors.Is(err, rewards.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent for a retried event, got %v", err)
	}

	_, err = h.ledger.CreditEventCompletion(ctx, issuer, participant, "E2", math.MaxUint64, 0)
	if !errors.Is(err, rewards.ErrRewardOverflow) {
		t.Fatalf("expected ErrRewardOverflow for a new event, got %v", err)
	}
	impact := h.impact(t, participant)
	if impact.Balance != 1855 || impact.EventsCompleted != 1 {
		t.Fatalf("overflowing credit changed state: %+v", impact)
	}
	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E2", 10, 0); err != nil {
		t.Fatalf("overflow must not fence the event: %v", err)
	}
}

func TestImageReceiptsAreDistinctUnderFixedClock(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, rewards.DefaultPolicy(), rewards.WithClock(func() time.Time { return at }))
	ctx := context.Background()

	first, err := h.ledger.CreditImageUpload(ctx, issuer, participant, "E1")
	if err != nil {
		t.Fatalf("first image credit: %v", err)
	}
	second, err := h.ledger.CreditImageUpload(ctx, issuer, participant, "E1")
	if err != nil {
		t.Fatalf("second image credit: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct receipt ids, got %q and %q", first.ID, second.ID)
	}
	if second.Balance != 50 {
		t.Fatalf("expected 50, got %d", second.Balance)
	}
}

func TestSpendAuthorizationPolicy(t *testing.T) {
	ctx := context.Background()
	policy := rewards.DefaultPolicy()
	policy.SpendRequiresSelfOrIssuer = true
	h := newHarness(t, policy)

	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 10, 0); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := h.ledger.Spend(ctx, stranger, participant, 10, "item", ""); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.ledger.Spend(ctx, participant, participant, 10, "item", ""); err != nil {
		t.Fatalf("self spend: %v", err)
	}
	if _, err := h.ledger.Spend(ctx, issuer, participant, 10, "item", ""); err != nil {
		t.Fatalf("issuer spend: %v", err)
	}
	if got := h.impact(t, participant).Balance; got != 130 {
		t.Fatalf("expected 130, got %d", got)
	}
}

func TestSpendDescriptionNormalized(t *testing.T) {
	ctx := context.Background()
	policy := rewards.DefaultPolicy()
	policy.MaxDescriptionLength = 4
	h := newHarness(t, policy)

	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 0, 0); err != nil {
		t.Fatalf("credit: %v", err)
	}
	// "Cafe" followed by a combining acute accent composes to a single rune.
	if _, err := h.ledger.Spend(ctx, participant, participant, 1, "coffee", "  Cafe\u0301 voucher "); err != nil {
		t.Fatalf("spend: %v", err)
	}
	spends, err := h.ledger.Spends(ctx, participant)
	if err != nil {
		t.Fatalf("spends: %v", err)
	}
	if spends[0].Description != "Caf\u00e9" {
		t.Fatalf("unexpected description %q", spends[0].Description)
	}
}

func TestThresholdAchievementsCreditBonus(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	receipt, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 600, 10_000)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	// 50 + 6000 + 10 plus WASTE_WARRIOR and DEDICATED_VOLUNTEER bonuses.
	if receipt.Amount != 6060+200 {
		t.Fatalf("expected 6260, got %d", receipt.Amount)
	}
	if len(receipt.NewAchievements) != 3 {
		t.Fatalf("expected three unlocks, got %v", receipt.NewAchievements)
	}
	impact := h.impact(t, participant)
	if impact.AchievementsUnlocked != 3 || impact.TotalEarned != impact.Balance {
		t.Fatalf("unexpected impact: %+v", impact)
	}

	receipt, err = h.ledger.CreditEventCompletion(ctx, issuer, participant, "E2", 600, 10_000)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if len(receipt.NewAchievements) != 0 || receipt.Amount != 6060 {
		t.Fatalf("achievements must not unlock twice: %+v", receipt)
	}
}

func TestGrantAchievement(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	if _, err := h.ledger.GrantAchievement(ctx, participant, participant, "COMMUNITY_CHAMPION"); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	receipt, err := h.ledger.GrantAchievement(ctx, issuer, participant, "community_champion")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if receipt.Amount != 250 || receipt.Balance != 250 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if _, err := h.ledger.GrantAchievement(ctx, issuer, participant, "COMMUNITY_CHAMPION"); !errors.Is(err, rewards.ErrAchievementUnlocked) {
		t.Fatalf("expected ErrAchievementUnlocked, got %v", err)
	}
	if _, err := h.ledger.GrantAchievement(ctx, issuer, participant, "NOPE"); !errors.Is(err, rewards.ErrUnknownAchievement) {
		t.Fatalf("expected ErrUnknownAchievement, got %v", err)
	}
	held, err := h.ledger.HasAchievement(ctx, participant, "COMMUNITY_CHAMPION")
	if err != nil || !held {
		t.Fatalf("expected achievement held, got %v %v", held, err)
	}
	unlocks, err := h.ledger.Achievements(ctx, participant)
	if err != nil {
		t.Fatalf("achievements: %v", err)
	}
	if len(unlocks) != 1 || !unlocks[0].Manual {
		t.Fatalf("unexpected unlocks: %+v", unlocks)
	}
	if got := h.impact(t, participant).AchievementsUnlocked; got != 1 {
		t.Fatalf("expected one achievement, got %d", got)
	}
}

func TestHaltBlocksMutationsButNotAdmin(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	if err := h.ledger.SetHalted(ctx, issuer, true); !errors.Is(err, rewards.ErrUnauthorized) {
		t.Fatalf("expected only the administrator to halt, got %v", err)
	}
	if err := h.ledger.SetHalted(ctx, admin, true); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if _, err := h.ledger.Spend(ctx, participant, participant, 1, "item", ""); !errors.Is(err, rewards.ErrSystemHalted) {
		t.Fatalf("expected ErrSystemHalted, got %v", err)
	}
	if _, err := h.ledger.GrantAchievement(ctx, issuer, participant, "COMMUNITY_CHAMPION"); !errors.Is(err, rewards.ErrSystemHalted) {
		t.Fatalf("expected ErrSystemHalted, got %v", err)
	}
	if err := h.ledger.AddAuthorizedIssuer(ctx, admin, stranger); err != nil {
		t.Fatalf("admin operations must work while halted: %v", err)
	}
	if !h.ledger.Status().Halted {
		t.Fatalf("status should report halted")
	}
	if err := h.ledger.SetHalted(ctx, admin, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := h.ledger.CreditEventCompletion(ctx, stranger, participant, "E1", 0, 0); err != nil {
		t.Fatalf("credit after resume: %v", err)
	}
}

func TestConcurrentCreditsAndSpendsConserve(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every worker races on the same event; exactly one may win.
			_, _ = h.ledger.CreditEventCompletion(ctx, issuer, participant, "shared", 0, 0)
			_, _ = h.ledger.CreditImageUpload(ctx, issuer, participant, "shared")
			_, _ = h.ledger.Spend(ctx, participant, participant, 10, "item", "")
		}(i)
	}
	wg.Wait()

	impact := h.impact(t, participant)
	if impact.EventsCompleted != 1 {
		t.Fatalf("expected exactly one completion, got %d", impact.EventsCompleted)
	}
	if impact.TotalEarned != 50+workers*25 {
		t.Fatalf("unexpected total earned %d", impact.TotalEarned)
	}
	if impact.Balance != impact.TotalEarned-impact.TotalSpent {
		t.Fatalf("conservation violated: %+v", impact)
	}
	spends, err := h.ledger.Spends(ctx, participant)
	if err != nil {
		t.Fatalf("spends: %v", err)
	}
	if uint64(len(spends))*10 != impact.TotalSpent {
		t.Fatalf("spend records %d do not match total spent %d", len(spends), impact.TotalSpent)
	}
	supply, err := h.ledger.Supply(ctx)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Accounts != 1 || supply.Outstanding != impact.Balance || supply.Issued-supply.Spent != supply.Outstanding {
		t.Fatalf("unexpected supply: %+v", supply)
	}
}

type failingStore struct {
	rewards.Store
	err error
}

func (f failingStore) Update(context.Context, func(rewards.Tx) error) error { return f.err }

func TestStoreFailureIsRetryableAndAtomic(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()

	broken, err := rewards.New(failingStore{Store: h.store, err: errors.New("disk on fire")}, h.registry, rewards.DefaultPolicy())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	_, err = broken.CreditEventCompletion(ctx, issuer, participant, "E1", 1, 1)
	if !errors.Is(err, rewards.ErrStoreUnavailable) || !rewards.IsRetryable(err) {
		t.Fatalf("expected retryable ErrStoreUnavailable, got %v", err)
	}
	if got := h.impact(t, participant).Balance; got != 0 {
		t.Fatalf("failed write must not change balance, got %d", got)
	}
	// A retry against the healthy store succeeds exactly once.
	if _, err := h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 1, 1); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rewards.IsRetryable(rewards.ErrDuplicateEvent) {
		t.Fatalf("business errors must not be retryable")
	}
}

type blockingStore struct {
	rewards.Store
	entered chan struct{}
	release chan struct{}
}

func (b blockingStore) Update(ctx context.Context, fn func(rewards.Tx) error) error {
	close(b.entered)
	<-b.release
	return b.Store.Update(ctx, fn)
}

func TestLockWaitTimesOut(t *testing.T) {
	h := newHarness(t, rewards.DefaultPolicy())
	ctx := context.Background()
	store := blockingStore{Store: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	ledger, err := rewards.New(store, h.registry, rewards.DefaultPolicy(), rewards.WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ledger.CreditImageUpload(ctx, issuer, participant, "E1")
		done <- err
	}()
	<-store.entered

	_, err = ledger.CreditImageUpload(ctx, issuer, participant, "E2")
	if !errors.Is(err, rewards.ErrStoreUnavailable) {
		t.Fatalf("expected lock timeout to surface as ErrStoreUnavailable, got %v", err)
	}
	close(store.release)
	<-done
}

type staticAuthorizer struct {
	principal authority.Principal
	halted    bool
}

func (s staticAuthorizer) Resolve(string) authority.Principal { return s.principal }
func (s staticAuthorizer) Halted() bool                       { return s.halted }
func (s staticAuthorizer) Snapshot() authority.SystemConfig {
	return authority.SystemConfig{Halted: s.halted}
}
func (staticAuthorizer) AddIssuer(context.Context, string, string) (bool, error) {
	return false, authority.ErrUnauthorized
}
func (staticAuthorizer) RemoveIssuer(context.Context, string, string) (bool, error) {
	return false, authority.ErrUnauthorized
}
func (staticAuthorizer) SetHalted(context.Context, string, bool) (bool, error) {
	return false, authority.ErrUnauthorized
}

func TestLedgerWithInjectedAuthorizer(t *testing.T) {
	store := ledgerkv.New(storage.NewMemDB())
	defer store.Close()
	ctx := context.Background()

	ledger, err := rewards.New(store, staticAuthorizer{principal: authority.Issuer("svc-organiser")}, rewards.DefaultPolicy())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.CreditEventCompletion(ctx, "anyone", "volunteer-42", "beach-day", 30, 0); err != nil {
		t.Fatalf("credit: %v", err)
	}
	impact, err := ledger.QueryImpact(ctx, "volunteer-42")
	if err != nil {
		t.Fatalf("impact: %v", err)
	}
	if impact.Balance != 350 {
		t.Fatalf("expected 350, got %d", impact.Balance)
	}

	halted, err := rewards.New(store, staticAuthorizer{principal: authority.Issuer("svc"), halted: true}, rewards.DefaultPolicy())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := halted.CreditImageUpload(ctx, "svc", "volunteer-42", "beach-day"); !errors.Is(err, rewards.ErrSystemHalted) {
		t.Fatalf("expected ErrSystemHalted, got %v", err)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	codes map[string][]string
}

func (r *recordingObserver) ObserveOperation(op, code string, _ uint64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codes == nil {
		r.codes = make(map[string][]string)
	}
	r.codes[op] = append(r.codes[op], code)
}

func TestObserverSeesOutcomeCodes(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness(t, rewards.DefaultPolicy(), rewards.WithObserver(obs))
	ctx := context.Background()

	_, _ = h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 0, 0)
	_, _ = h.ledger.CreditEventCompletion(ctx, issuer, participant, "E1", 0, 0)
	_, _ = h.ledger.Spend(ctx, participant, participant, 1000, "item", "")

	got := obs.codes["CreditEventCompletion"]
	if len(got) != 2 || got[0] != "ok" || got[1] != "duplicate_event" {
		t.Fatalf("unexpected credit codes %v", got)
	}
	if spend := obs.codes["Spend"]; len(spend) != 1 || spend[0] != "insufficient_balance" {
		t.Fatalf("unexpected spend codes %v", spend)
	}
}

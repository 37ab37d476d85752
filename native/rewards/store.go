package rewards

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"aqualedger/native/accounts"
	"aqualedger/native/achievements"
	"aqualedger/native/authority"
)

// Tx is the transactional view every ledger mutation runs against. Writes are
// buffered and become visible only when the enclosing Update commits.
type Tx interface {
	accounts.State
	achievements.State

	CompletedEvent(participant string, event common.Hash) (*CompletedEvent, bool, error)
	PutCompletedEvent(rec *CompletedEvent) error
	ImageCredited(participant string, event common.Hash) (bool, error)
	PutImageCredit(rec *ImageCredit) error
	PutSpend(rec *SpendRecord) error
}

// Store is the durable backend of the ledger.
type Store interface {
	authority.State

	// Update runs fn in a read-write transaction. Nothing is persisted unless
	// fn returns nil and the commit succeeds.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error

	ForEachAccount(ctx context.Context, fn func(*accounts.Account) error) error
	Unlocks(ctx context.Context, participant string) ([]achievements.Unlock, error)
	Spends(ctx context.Context, participant string) ([]SpendRecord, error)
	Close() error
}

// Authorizer resolves callers to principals and owns the halt flag.
type Authorizer interface {
	Resolve(identity string) authority.Principal
	Halted() bool
	Snapshot() authority.SystemConfig
	AddIssuer(ctx context.Context, caller, principal string) (bool, error)
	RemoveIssuer(ctx context.Context, caller, principal string) (bool, error)
	SetHalted(ctx context.Context, caller string, value bool) (bool, error)
}

var _ Authorizer = (*authority.Registry)(nil)

package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/balance-ledger/internal/core/domain"
)

// ErrVersionConflict signals that a conditional write found a stale
// version token. The mutator retries; nothing else should see it.
var ErrVersionConflict = errors.New("balance version conflict")

type BalanceRepository interface {
	// GetOrCreate returns the owner's balance, creating a zeroed one on
	// first reference. Must be idempotent under concurrent first access.
	GetOrCreate(ctx context.Context, ownerID string) (*domain.Balance, error)

	// Get returns the owner's balance or nil if it does not exist.
	Get(ctx context.Context, ownerID string) (*domain.Balance, error)

	// ApplyVersioned writes the new balance fields guarded by
	// expectedVersion and appends the paired ledger entry in the same
	// transaction. Returns ErrVersionConflict if the guard fails.
	// When entry.ReversalOf is set, the referenced entry's status is
	// flipped to REVERSED in the same transaction.
	ApplyVersioned(ctx context.Context, next domain.Balance, expectedVersion int64, entry domain.LedgerEntry) error

	// SetFrozen toggles the administrative block. Bumps the version so
	// in-flight optimistic writers conflict and re-read.
	SetFrozen(ctx context.Context, ownerID string, frozen bool) error

	// SetLowThreshold updates the low-balance alert trigger. Bumps the
	// version for the same reason as SetFrozen.
	SetLowThreshold(ctx context.Context, ownerID string, threshold decimal.Decimal) error

	// ListOwners returns every known owner id, for the verifier sweep.
	ListOwners(ctx context.Context) ([]string, error)
}

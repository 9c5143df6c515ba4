package port

import (
	"context"

	"github.com/rl1809/balance-ledger/internal/core/domain"
)

// LedgerRepository is read-only: entries are appended exclusively through
// BalanceRepository.ApplyVersioned, paired with their balance write.
type LedgerRepository interface {
	// GetEntry returns one entry or nil if it does not exist.
	GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)

	// List returns the owner's entries matching the filter, newest first.
	List(ctx context.Context, ownerID string, filter domain.EntryFilter, page domain.Page) (*domain.EntryPage, error)

	// Totals aggregates COMPLETED and REVERSED entry amounts per type for
	// one owner. Reversed originals still moved the balance; their effect
	// is undone by the compensating entry, so both count.
	Totals(ctx context.Context, ownerID string) (domain.LedgerTotals, error)

	// FindReversal returns the compensating entry for the given original,
	// or nil if none exists.
	FindReversal(ctx context.Context, originalID string) (*domain.LedgerEntry, error)
}

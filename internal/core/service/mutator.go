package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

const (
	defaultMaxRetries = 3
	backoffBaseDelay  = 10 * time.Millisecond
	backoffMaxDelay   = 160 * time.Millisecond
)

// ComputeFn derives the target balance fields from the current committed
// state. Returning an error aborts the mutation with nothing written.
type ComputeFn func(current domain.Balance) (domain.Balance, error)

// BalanceMutator is the only code path that writes balances. Every
// higher-level operation is expressed as a ComputeFn passed in here, so
// there is a single, auditable mutation surface.
type BalanceMutator struct {
	balances   port.BalanceRepository
	maxRetries int
	sleep      func(time.Duration) // swapped out in tests
}

func NewBalanceMutator(balances port.BalanceRepository) *BalanceMutator {
	return &BalanceMutator{
		balances:   balances,
		maxRetries: defaultMaxRetries,
		sleep:      time.Sleep,
	}
}

// Apply loads the current balance, computes the target state, and issues a
// conditional write paired with the ledger entry. On a version conflict it
// re-reads and retries with exponential backoff and jitter; after
// maxRetries conflicts it returns ErrConcurrentModification.
func (m *BalanceMutator) Apply(ctx context.Context, ownerID string, compute ComputeFn, entry domain.LedgerEntry) (*domain.Balance, *domain.LedgerEntry, error) {
	for attempt := 0; ; attempt++ {
		current, err := m.balances.GetOrCreate(ctx, ownerID)
		if err != nil {
			return nil, nil, fmt.Errorf("load balance: %w", err)
		}

		next, err := compute(*current)
		if err != nil {
			return nil, nil, err
		}
		next.OwnerID = current.OwnerID
		next.Version = current.Version + 1
		next.CreatedAt = current.CreatedAt

		entry.OwnerID = ownerID
		entry.BalanceBefore = current.Snapshot()
		entry.BalanceAfter = next.Snapshot()
		entry.Status = domain.EntryStatusCompleted

		err = m.balances.ApplyVersioned(ctx, next, current.Version, entry)
		if err == nil {
			return &next, &entry, nil
		}
		if !errors.Is(err, port.ErrVersionConflict) {
			return nil, nil, fmt.Errorf("apply mutation: %w", err)
		}
		if attempt >= m.maxRetries {
			return nil, nil, domain.ErrConcurrentModification
		}
		m.sleep(nextBackoffDelay(attempt))
	}
}

// nextBackoffDelay returns the delay before retry N (0-based): base 10ms,
// doubling, capped, with up to 50% jitter.
func nextBackoffDelay(attempt int) time.Duration {
	delay := backoffBaseDelay << attempt
	if delay > backoffMaxDelay {
		delay = backoffMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

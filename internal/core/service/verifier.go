package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

// Verifier is the out-of-band reconciliation job: it recomputes every
// owner's balance from ledger history and flags drift against the stored
// state. It reads live balances but never writes them; anomalies go to the
// alert sink and correction stays a manual, logged administrative action.
type Verifier struct {
	balances port.BalanceRepository
	ledger   port.LedgerRepository
	alerts   port.AlertSink
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

func NewVerifier(
	balances port.BalanceRepository,
	ledger port.LedgerRepository,
	alerts port.AlertSink,
	logger *zap.Logger,
	interval time.Duration,
) *Verifier {
	return &Verifier{
		balances: balances,
		ledger:   ledger,
		alerts:   alerts,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps all owners on a fixed interval until the context is done.
func (v *Verifier) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			violations, err := v.VerifyAll(ctx)
			if err != nil {
				v.logger.Error("verification sweep failed", zap.Error(err))
				continue
			}
			if len(violations) > 0 {
				v.logger.Warn("verification sweep found drift",
					zap.Int("violations", len(violations)))
			}
		}
	}
}

// VerifyAll checks every known owner and returns the violations found.
// Alerts are emitted as a side effect; sink failures are logged only.
func (v *Verifier) VerifyAll(ctx context.Context) ([]domain.ConsistencyViolation, error) {
	owners, err := v.balances.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	var violations []domain.ConsistencyViolation
	for _, ownerID := range owners {
		violation, err := v.VerifyOwner(ctx, ownerID)
		if err != nil {
			v.logger.Error("owner verification failed",
				zap.String("owner_id", ownerID),
				zap.Error(err))
			continue
		}
		if violation == nil {
			continue
		}
		violations = append(violations, *violation)
		if err := v.alerts.ConsistencyViolation(ctx, *violation); err != nil {
			v.logger.Warn("consistency alert delivery failed",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		}
	}
	return violations, nil
}

// VerifyOwner recomputes one owner's balance from its ledger totals. A
// version change between the two reads means live traffic landed mid-check;
// the owner is skipped this cycle rather than flagged.
func (v *Verifier) VerifyOwner(ctx context.Context, ownerID string) (*domain.ConsistencyViolation, error) {
	before, err := v.balances.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if before == nil {
		return nil, nil
	}

	totals, err := v.ledger.Totals(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger: %w", err)
	}

	after, err := v.balances.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("re-read balance: %w", err)
	}
	if after == nil || after.Version != before.Version {
		return nil, nil
	}

	expectedAvailable := totals.ExpectedAvailable()
	expectedReserved := totals.ExpectedReserved()
	if after.Available.Equal(expectedAvailable) && after.Reserved.Equal(expectedReserved) {
		return nil, nil
	}

	return &domain.ConsistencyViolation{
		OwnerID:           ownerID,
		StoredAvailable:   after.Available,
		StoredReserved:    after.Reserved,
		ExpectedAvailable: expectedAvailable,
		ExpectedReserved:  expectedReserved,
		Version:           after.Version,
		RaisedAt:          v.now(),
	}, nil
}

package port

import (
	"context"

	"github.com/rl1809/balance-ledger/internal/core/domain"
)

// AlertSink receives fire-and-forget notifications. Delivery failures are
// logged by the caller and never retried.
type AlertSink interface {
	LowBalance(ctx context.Context, alert domain.LowBalanceAlert) error
	ConsistencyViolation(ctx context.Context, alert domain.ConsistencyViolation) error
}

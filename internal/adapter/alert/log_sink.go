package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

// LogSink writes alerts to the structured log. Default sink when no broker
// is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) LowBalance(ctx context.Context, alert domain.LowBalanceAlert) error {
	s.logger.Warn("low balance",
		zap.String("owner_id", alert.OwnerID),
		zap.String("available", alert.Available.String()),
		zap.String("threshold", alert.Threshold.String()),
		zap.String("entry_id", alert.EntryID))
	return nil
}

func (s *LogSink) ConsistencyViolation(ctx context.Context, alert domain.ConsistencyViolation) error {
	s.logger.Error("consistency violation",
		zap.String("owner_id", alert.OwnerID),
		zap.String("stored_available", alert.StoredAvailable.String()),
		zap.String("stored_reserved", alert.StoredReserved.String()),
		zap.String("expected_available", alert.ExpectedAvailable.String()),
		zap.String("expected_reserved", alert.ExpectedReserved.String()),
		zap.Int64("version", alert.Version))
	return nil
}

var _ port.AlertSink = (*LogSink)(nil)

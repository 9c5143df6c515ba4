package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/port"
)

const (
	kindLowBalance           = "low_balance"
	kindConsistencyViolation = "consistency_violation"
)

// KafkaSink publishes alert events to a single topic. Delivery is
// fire-and-forget from the caller's point of view: errors are returned but
// the engine only logs them.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (s *KafkaSink) LowBalance(ctx context.Context, alert domain.LowBalanceAlert) error {
	return s.publish(ctx, kindLowBalance, alert.OwnerID, alert)
}

func (s *KafkaSink) ConsistencyViolation(ctx context.Context, alert domain.ConsistencyViolation) error {
	return s.publish(ctx, kindConsistencyViolation, alert.OwnerID, alert)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) publish(ctx context.Context, kind, ownerID string, payload any) error {
	data, err := json.Marshal(struct {
		Kind    string `json:"kind"`
		Payload any    `json:"payload"`
	}{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ownerID),
		Value: data,
	})
}

var _ port.AlertSink = (*KafkaSink)(nil)

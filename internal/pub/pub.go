package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
)

const (
	LedgerEventsChannel = "ledger_events"
)

// TransferEvent is the payload consumed by notification and analytics
// collaborators. Delivery is best effort and at least once; a publish failure
// never unwinds a committed transfer.
type TransferEvent struct {
	EventType     string          `json:"event_type"` // transfer.committed, transfer.reversed, limit.threshold
	TransferRef   string          `json:"transfer_ref"`
	TransactionID string          `json:"transaction_id,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	Direction     string          `json:"direction,omitempty"` // DEBIT or CREDIT
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// TransferEventPublisher fans events out to the Kafka topic and the Redis
// pub/sub channel.
type TransferEventPublisher struct {
	writer *kafka.Writer
	rdb    *redis.Client
}

func NewTransferEventPublisher(writer *kafka.Writer, rdb *redis.Client) *TransferEventPublisher {
	return &TransferEventPublisher{writer: writer, rdb: rdb}
}

func (p *TransferEventPublisher) publish(ctx context.Context, key string, event *TransferEvent) error {
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if p.writer != nil {
		err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: payload,
			Time:  event.Timestamp,
		})
		if err != nil {
			log.Printf("[KAFKA ERROR] Failed to publish %s for %s: %v", event.EventType, key, err)
		}
	}

	if p.rdb != nil {
		if err := p.rdb.Publish(ctx, LedgerEventsChannel, payload).Err(); err != nil {
			log.Printf("[REDIS ERROR] Failed to publish %s for %s: %v", event.EventType, key, err)
		}
	}
	return nil
}

// PublishTransferCommitted publishes one event per leg of a committed pair.
func (p *TransferEventPublisher) PublishTransferCommitted(ctx context.Context, pair *domain.TransferPair) error {
	for _, txn := range []*domain.Transaction{pair.Debit, pair.Credit} {
		event := &TransferEvent{
			EventType:     "transfer.committed",
			TransferRef:   pair.TransferRef,
			TransactionID: txn.ID,
			AccountNumber: txn.AccountNumber,
			Direction:     string(txn.Type),
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			BalanceAfter:  txn.BalanceAfter,
		}
		if err := p.publish(ctx, pair.TransferRef, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishTransferReversed publishes one event per leg of the compensating
// pair, tagged with the original transfer reference.
func (p *TransferEventPublisher) PublishTransferReversed(ctx context.Context, rec *domain.ReversalRecord, pair *domain.TransferPair) error {
	for _, txn := range []*domain.Transaction{pair.Debit, pair.Credit} {
		event := &TransferEvent{
			EventType:     "transfer.reversed",
			TransferRef:   pair.TransferRef,
			TransactionID: txn.ID,
			AccountNumber: txn.AccountNumber,
			Direction:     string(txn.Type),
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			BalanceAfter:  txn.BalanceAfter,
			Metadata: map[string]any{
				"original_transfer_ref": rec.OriginalTransferRef,
				"reversal_id":           rec.ID,
				"reason_code":           rec.ReasonCode,
			},
		}
		if err := p.publish(ctx, pair.TransferRef, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishLimitThreshold publishes a usage warning. Notification only, never
// blocks a transfer.
func (p *TransferEventPublisher) PublishLimitThreshold(ctx context.Context, crossing domain.ThresholdCrossing) error {
	event := &TransferEvent{
		EventType: "limit.threshold",
		Amount:    crossing.UsedAmount,
		Metadata: map[string]any{
			"limit_id":     crossing.LimitID,
			"account_id":   crossing.AccountID,
			"limit_type":   string(crossing.LimitType),
			"category":     string(crossing.Category),
			"limit_amount": crossing.LimitAmount.String(),
		},
	}
	return p.publish(ctx, fmt.Sprintf("limit-%d", crossing.LimitID), event)
}

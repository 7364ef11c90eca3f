package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock-portfolio-go/internal/config"
	"stock-portfolio-go/internal/ledger"
	"stock-portfolio-go/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventTransactionExecuted is the event type of every published trade.
const EventTransactionExecuted = "transaction.executed"

const publishTimeout = 5 * time.Second

// TransactionEvent is the message value written to the topic.
type TransactionEvent struct {
	Type        string             `json:"type"`
	Transaction models.Transaction `json:"transaction"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams committed transactions to Kafka, keyed by user so
// that one user's trades stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

var _ ledger.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg config.Kafka, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(w, logger), nil
}

func newKafkaPublisher(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger.Named("events")}
}

// PublishTransaction writes txn and waits for all in-sync replicas.
func (p *KafkaPublisher) PublishTransaction(ctx context.Context, txn models.Transaction) error {
	value, err := json.Marshal(TransactionEvent{Type: EventTransactionExecuted, Transaction: txn})
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", txn.ID, err)
	}

	// Publishing is not aborted by request cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(txn.UserID),
		Value: value,
		Time:  txn.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventTransactionExecuted)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish transaction %s: %w", txn.ID, err)
	}
	p.logger.Debug("Published transaction", zap.String("transaction_id", txn.ID), zap.String("user_id", txn.UserID))
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Package kafka carries the event traffic of the pipeline: completion
// events out, payment initiations and completion events in.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/Xausdorf/ledger-core/internal/domain/event"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// PublishTransactionCompleted emits one completion event keyed by the
// transaction id, so redeliveries and retries land in the same
// partition and stay ordered per transaction.
func (p *Publisher) PublishTransactionCompleted(ctx context.Context, evt event.TransactionCompleted) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.TxnID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish completion event for txn %s: %w", evt.TxnID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

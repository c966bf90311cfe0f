package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
	"github.com/segmentio/kafka-go"
)

// Handler processes one message body. A non-nil error withholds the
// offset commit, so the transport redelivers the message later.
type Handler func(ctx context.Context, value []byte) error

const (
	deliveryBaseDelay   = time.Second
	deliveryMaxAttempts = 5
)

type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger

	baseDelay   time.Duration
	maxAttempts int
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		logger:      logger,
		baseDelay:   deliveryBaseDelay,
		maxAttempts: deliveryMaxAttempts,
	}
}

// Run fetches messages until ctx is cancelled. A message is committed
// only after its handler succeeds; this is the primary retry path for
// the ledger-write step. On persistent failure Run returns instead of
// fetching further, so the group resumes from the last committed
// offset and the failed message is redelivered, never skipped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if err := c.deliver(ctx, handle, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("message handling failed, stopping to force redelivery",
				"topic", msg.Topic, "partition", msg.Partition,
				"offset", msg.Offset, "error", err)
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("offset commit failed",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// deliver runs the handler, retrying the same message in place with
// exponential backoff. The consumer never advances past a message
// whose handler has not succeeded.
func (c *Consumer) deliver(ctx context.Context, handle Handler, value []byte) error {
	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err = handle(ctx, value); err == nil {
			return nil
		}
		if attempt == c.maxAttempts-1 {
			break
		}
		c.logger.Warn("message handling failed, retrying in place",
			"attempt", attempt+1, "error", err)
		if sleepErr := backoff.WaitContext(ctx, backoff.Exponential(c.baseDelay, attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message. A returned error makes the consumer
// hand the same message to the handler again after a backoff; the offset is
// committed only once the handler succeeds.
type MessageHandler func(ctx context.Context, message kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	handler MessageHandler
	topic   string
	groupID string
	logger  *zap.Logger

	handlerTimeout time.Duration
	retryBase      time.Duration
	retryMax       time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler MessageHandler, l *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		Logger:         kafka.LoggerFunc(l.Sugar().Debugf),
		ErrorLogger:    kafka.LoggerFunc(l.Sugar().Errorf),
	})
	return newConsumer(reader, topic, groupID, handler, l)
}

func newConsumer(reader messageReader, topic, groupID string, handler MessageHandler, l *zap.Logger) *Consumer {
	return &Consumer{
		reader:         reader,
		handler:        handler,
		topic:          topic,
		groupID:        groupID,
		logger:         l.With(zap.String("topic", topic), zap.String("group_id", groupID)),
		handlerTimeout: 25 * time.Second,
		retryBase:      200 * time.Millisecond,
		retryMax:       10 * time.Second,
	}
}

// Consume processes messages one at a time until ctx is cancelled or the
// reader is closed. A message that keeps failing blocks its partition.
func (c *Consumer) Consume(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")

	for ctx.Err() == nil {
		m, err := c.fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, kafka.ErrGroupClosed) || errors.Is(err, io.EOF) {
				c.logger.Info("Consumer stopping", zap.Error(err))
				return nil
			}
			c.logger.Error("Error fetching message from Kafka", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				break
			}
			continue
		}

		if !c.handleUntilDone(ctx, m) {
			// Left uncommitted; the group redelivers it after a restart.
			break
		}
		c.commit(m)
	}
	return ctx.Err()
}

func (c *Consumer) fetch(ctx context.Context) (kafka.Message, error) {
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		m, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			continue
		}
		return m, err
	}
}

// handleUntilDone reports false if ctx ended before the handler succeeded.
func (c *Consumer) handleUntilDone(ctx context.Context, m kafka.Message) bool {
	delay := c.retryBase
	for attempt := 1; ; attempt++ {
		handleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.handlerTimeout)
		err := c.handler(handleCtx, m)
		cancel()
		if err == nil {
			return true
		}

		c.logger.Error("Error handling Kafka message, retrying",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return false
		}
		delay = min(delay*2, c.retryMax)
	}
}

func (c *Consumer) commit(m kafka.Message) {
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(commitCtx, m); err != nil {
		c.logger.Error("Failed to commit offset for message",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka consumer reader: %w", err)
	}
	c.logger.Info("Kafka consumer reader closed.")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package publisher emits payment outcome events to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reconciler/internal/domain"

	"go.uber.org/zap"
)

// Producer is implemented by kafka_infra.Producer.
type Producer interface {
	Produce(ctx context.Context, key, topic string, value []byte) error
}

type Topics struct {
	Success string
	Failed  string
	Retry   string
}

// KafkaPublisher never returns delivery errors to callers. A failed publish
// is diverted to the retry topic and, failing that, logged.
type KafkaPublisher struct {
	producer Producer
	topics   Topics
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewKafkaPublisher(producer Producer, topics Topics, timeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topics:   topics,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
}

func (p *KafkaPublisher) PublishSuccess(ctx context.Context, event domain.PaymentSucceededEvent) {
	p.publish(ctx, p.topics.Success, event.OrderID, event)
}

func (p *KafkaPublisher) PublishFailure(ctx context.Context, event domain.PaymentFailedEvent) {
	p.publish(ctx, p.topics.Failed, event.OrderID, event)
}

// Republish sends a previously diverted event to its original topic.
func (p *KafkaPublisher) Republish(ctx context.Context, envelope domain.PublishRetryEnvelope) error {
	produceCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.producer.Produce(produceCtx, envelope.Key, envelope.OriginalTopic, envelope.Payload); err != nil {
		return fmt.Errorf("failed to republish to %s: %w", envelope.OriginalTopic, err)
	}
	return nil
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, event any) {
	logger := p.logger.With(zap.String("topic", topic), zap.String("order_id", key))

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	produceCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err = p.producer.Produce(produceCtx, key, topic, payload)
	cancel()
	if err == nil {
		logger.Info("Event published")
		return
	}
	logger.Warn("Failed to publish event, diverting to retry topic", zap.Error(err))

	envelope, marshalErr := json.Marshal(domain.PublishRetryEnvelope{
		OriginalTopic: topic,
		Key:           key,
		Payload:       payload,
		Error:         err.Error(),
		FailedAt:      p.now(),
	})
	if marshalErr != nil {
		logger.Error("Failed to marshal retry envelope", zap.Error(marshalErr))
		return
	}

	retryCtx, cancelRetry := context.WithTimeout(ctx, p.timeout)
	defer cancelRetry()
	if err := p.producer.Produce(retryCtx, key, p.topics.Retry, envelope); err != nil {
		logger.Error("Failed to publish event to retry topic, event dropped",
			zap.String("retry_topic", p.topics.Retry),
			zap.ByteString("payload", payload),
			zap.Error(err))
	}
}

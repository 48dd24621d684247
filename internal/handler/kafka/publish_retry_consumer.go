package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reconciler/internal/domain"
	kafka_infra "reconciler/internal/infrastructure/kafka"
	"reconciler/internal/repository/deadletter_repo"
	"reconciler/internal/util"
)

type Republisher interface {
	Republish(ctx context.Context, envelope domain.PublishRetryEnvelope) error
}

// PublishRetryMessageHandler drains the publish-retry topic. Events that still
// cannot be delivered are parked in publish_dead_letters so the offset can move on.
func PublishRetryMessageHandler(
	republisher Republisher,
	querier domain.Querier,
	deadLetters deadletter_repo.DeadLetterRepository,
	now func() time.Time,
	logger *zap.Logger,
) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		msgLogger := logger.With(
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
		)

		var envelope domain.PublishRetryEnvelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			msgLogger.Error("Failed to unmarshal publish retry envelope", zap.Error(err), zap.ByteString("value", msg.Value))
			return park(ctx, querier, deadLetters, &domain.DeadLetter{
				ID:           util.GenerateUUID(),
				Topic:        msg.Topic,
				Key:          string(msg.Key),
				Payload:      msg.Value,
				ErrorMessage: fmt.Sprintf("malformed envelope: %v", err),
				CreatedAt:    now(),
			}, msgLogger)
		}

		err := republisher.Republish(ctx, envelope)
		if err == nil {
			msgLogger.Info("Republished event", zap.String("original_topic", envelope.OriginalTopic))
			return nil
		}

		msgLogger.Error("Republish failed, moving event to dead letters",
			zap.String("original_topic", envelope.OriginalTopic),
			zap.Error(err),
		)
		return park(ctx, querier, deadLetters, &domain.DeadLetter{
			ID:           util.GenerateUUID(),
			Topic:        envelope.OriginalTopic,
			Key:          envelope.Key,
			Payload:      envelope.Payload,
			ErrorMessage: err.Error(),
			CreatedAt:    now(),
		}, msgLogger)
	}
}

func park(ctx context.Context, q domain.Querier, repo deadletter_repo.DeadLetterRepository, dl *domain.DeadLetter, logger *zap.Logger) error {
	if err := repo.CreateTx(ctx, q, dl); err != nil {
		logger.Error("Failed to persist dead letter", zap.String("dead_letter_id", dl.ID), zap.Error(err))
		return fmt.Errorf("failed to persist dead letter: %w", err)
	}
	logger.Warn("Event stored as dead letter", zap.String("dead_letter_id", dl.ID))
	return nil
}

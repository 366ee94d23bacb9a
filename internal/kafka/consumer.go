package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/events"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Consumer reads domain events from Kafka and hands them to a handler.
// Delivery is at-least-once: the handler must be idempotent.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       events.Handler
	logger        *zap.Logger
	config        *config.Config
	topics        []string
}

// NewConsumer creates a consumer group subscribed to the given topics
func NewConsumer(cfg *config.Config, group string, topics []string, handler events.Handler, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Version = sarama.V2_8_0_0

	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, group, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Kafka consumer group created",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group_id", group),
		zap.Strings("topics", topics),
	)

	return &Consumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		config:        cfg,
		topics:        topics,
	}, nil
}

// Start consumes until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		handler: c.handler,
		logger:  c.logger,
		config:  c.config,
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.Error("Error from consumer", zap.Error(err))
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Error("Consumer error", zap.Error(err))
		}
	}()

	wg.Wait()
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.consumerGroup.Close()
}

// consumerGroupHandler handles Kafka consumer group messages
type consumerGroupHandler struct {
	handler events.Handler
	logger  *zap.Logger
	config  *config.Config
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages one partition claim at a time, so events
// sharing a partition key apply in order.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			var envelope events.Envelope
			if err := json.Unmarshal(message.Value, &envelope); err != nil {
				h.logger.Warn("Skipping malformed event",
					zap.String("topic", message.Topic),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				session.MarkMessage(message, "")
				continue
			}

			if err := h.processWithRetry(session.Context(), envelope); err != nil {
				h.logger.Error("Failed to process event after retries",
					zap.String("event", envelope.Name),
					zap.String("key", envelope.Key),
					zap.String("topic", message.Topic),
					zap.Error(err),
				)

				if h.config.DeadLetterQueue {
					h.sendToDLQ(message, err)
				}
			}

			// Mark even on failure: retries are exhausted and the saga's
			// idempotency ledger tolerates the gap better than a stuck
			// partition would.
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// processWithRetry hands the event to the handler with linear backoff
func (h *consumerGroupHandler) processWithRetry(ctx context.Context, envelope events.Envelope) error {
	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(h.config.RetryDelayMs*attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := h.handler.HandleEvent(ctx, envelope)
		if err == nil {
			if attempt > 0 {
				h.logger.Info("Event processed after retry",
					zap.String("event", envelope.Name),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		lastErr = err

		h.logger.Warn("Event processing failed, will retry",
			zap.String("event", envelope.Name),
			zap.String("key", envelope.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return fmt.Errorf("failed after %d attempts: %w", h.config.MaxRetries+1, lastErr)
}

// sendToDLQ records a poison message for offline inspection.
// TODO: wire a producer that republishes to cfg.DLQTopic.
func (h *consumerGroupHandler) sendToDLQ(message *sarama.ConsumerMessage, err error) {
	h.logger.Error("Message sent to DLQ",
		zap.String("topic", message.Topic),
		zap.String("dlq_topic", h.config.DLQTopic),
		zap.Int64("offset", message.Offset),
		zap.Error(err),
	)
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
)

// ShotHandler records shots against sessions
type ShotHandler interface {
	AddEvent(ctx context.Context, playerID, sessionID string, input domain.EventInput) (*domain.Event, error)
}

// Consumer consumes shot messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ShotHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ShotHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, handler, logger, consumerGroup), nil
}

func newConsumer(cfg *config.KafkaConfig, handler ShotHandler, logger *slog.Logger, group sarama.ConsumerGroup) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ShotsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.ShotsTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage records one shot. It never fails: every message is consumed
// exactly once from the group's point of view and failures are logged.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var shot ShotMessage
	if err := json.Unmarshal(message.Value, &shot); err != nil {
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}

	if err := shot.Validate(); err != nil {
		c.logger.Warn("invalid shot message",
			"error", err,
			"session_id", shot.SessionID,
			"player_id", shot.PlayerID,
		)
		return
	}

	attempts := max(c.config.RetryAttempts, 1)
	for attempt := 1; ; attempt++ {
		err := c.addEvent(ctx, shot)
		if err == nil {
			return
		}

		if isPermanent(err) {
			c.logger.Warn("shot rejected",
				"error", err,
				"session_id", shot.SessionID,
				"player_id", shot.PlayerID,
			)
			return
		}

		if attempt >= attempts {
			c.logger.Error("failed to record shot",
				"error", err,
				"session_id", shot.SessionID,
				"attempts", attempt,
			)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

func (c *Consumer) addEvent(ctx context.Context, shot ShotMessage) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HandleTimeout)
	defer cancel()

	_, err := c.handler.AddEvent(ctx, shot.PlayerID, shot.SessionID, shot.EventInput())
	return err
}

// isPermanent reports errors that will not go away on retry
func isPermanent(err error) bool {
	return domain.IsNotFoundError(err) ||
		domain.IsConflictError(err) ||
		domain.IsValidationError(err) ||
		errors.Is(err, domain.ErrForbidden)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition in order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.consumer.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}

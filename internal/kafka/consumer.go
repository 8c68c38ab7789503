package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/domain"
)

// SnapshotHandler merges ingested score snapshots
type SnapshotHandler interface {
	IngestBatch(ctx context.Context, snapshots []domain.ScoreSnapshot) int
}

// Startup tuning. A consumer that never joins its group within
// defaultReadyTimeout is shut down and Start reports the failure.
const (
	defaultReadyTimeout = 30 * time.Second
	defaultRetryBackoff = time.Second
)

// Consumer consumes score snapshot messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       SnapshotHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	readyTimeout time.Duration
	retryBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler SnapshotHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(cfg, consumerGroup, handler, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, group sarama.ConsumerGroup, handler SnapshotHandler, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		readyTimeout:  defaultReadyTimeout,
		retryBackoff:  defaultRetryBackoff,
	}
}

// Start begins consuming messages from Kafka. It returns once the first
// session is set up, or with an error if that does not happen within the
// ready timeout; in that case the consumer is already closed.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	// Only the consume loop touches sessionReady after this point
	ready := make(chan bool)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		sessionReady := ready
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    sessionReady,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
				select {
				case <-time.After(c.retryBackoff):
				case <-c.ctx.Done():
				}
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			if handler.setUp {
				sessionReady = make(chan bool)
			}
		}
	}()

	select {
	case <-ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(c.readyTimeout):
		c.cancel()
		c.wg.Wait()
		if err := c.consumerGroup.Close(); err != nil {
			c.logger.Warn("closing consumer group", "error", err)
		}
		return fmt.Errorf("kafka consumer not ready after %s", c.readyTimeout)
	}
	c.logger.Info("Kafka consumer ready")

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

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
	setUp    bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	h.setUp = true
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.ScoreSnapshot, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		merged := h.consumer.handler.IngestBatch(ctx, batch)
		h.consumer.logger.Debug("processed batch", "batch_size", len(batch), "merged", merged)

		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			snapshot, err := decodeSnapshot(message.Value)
			if err != nil {
				h.consumer.logger.Warn("dropping snapshot message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, snapshot)
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// decodeSnapshot parses a message body. Numeric fields are lenient; the
// username is only checked for presence here and fully validated on merge.
func decodeSnapshot(value []byte) (domain.ScoreSnapshot, error) {
	var snapshot domain.ScoreSnapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return domain.ScoreSnapshot{}, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	if snapshot.Username == "" {
		return domain.ScoreSnapshot{}, domain.ErrInvalidUsername
	}
	return snapshot, nil
}

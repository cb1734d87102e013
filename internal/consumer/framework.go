package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/configs"
	"github.com/trustguard/riskcore/internal/models"
)

// State is the consumer lifecycle state machine:
// Created -> Initialized -> Running -> Stopping -> Stopped.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
)

var stateNames = [...]string{"created", "initialized", "running", "stopping", "stopped"}

func (s State) String() string {
	if s < StateCreated || s > StateStopped {
		return "unknown"
	}
	return stateNames[s]
}

// Normalizer converts one raw topic payload into the typed event union.
type Normalizer func(topic string, value []byte) (*models.Event, error)

// Processor is the subtype-specific business logic. A returned error leaves
// the offset uncommitted (at-least-once).
type Processor interface {
	Name() string
	ProcessEvent(ctx context.Context, topic string, event *models.Event) error
}

// Consumer is the generic Kafka consumer shared by the three
// specializations. Each specialization owns its group id and topic set.
type Consumer struct {
	cfg          configs.KafkaConfig
	groupID      string
	topics       []string
	regionFilter string

	normalize Normalizer
	processor Processor

	group    sarama.ConsumerGroup
	producer sarama.SyncProducer

	state   atomic.Int32
	metrics *Metrics

	// decode failure streak per topic/partition offset, for the poison path.
	// Guarded by streakMu since claims run one goroutine per partition.
	streakMu     sync.Mutex
	decodeStreak map[string]int
}

// New creates a consumer in state Created. regionFilter, when non-empty,
// drops events whose region code does not match.
func New(cfg configs.KafkaConfig, groupID string, topics []string, regionFilter string, normalize Normalizer, processor Processor) *Consumer {
	c := &Consumer{
		cfg:          cfg,
		groupID:      groupID,
		topics:       topics,
		regionFilter: regionFilter,
		normalize:    normalize,
		processor:    processor,
		metrics:      NewMetrics(),
		decodeStreak: make(map[string]int),
	}
	c.state.Store(int32(StateCreated))
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Metrics returns the consumer's metric registry.
func (c *Consumer) Metrics() *Metrics {
	return c.metrics
}

// ErrBrokerUnreachable wraps broker connection failures so callers can map
// them to the right exit code.
type ErrBrokerUnreachable struct {
	Err error
}

func (e *ErrBrokerUnreachable) Error() string {
	return fmt.Sprintf("kafka brokers unreachable: %v", e.Err)
}

func (e *ErrBrokerUnreachable) Unwrap() error { return e.Err }

// Init connects to the brokers with retries and moves the consumer to
// Initialized.
func (c *Consumer) Init() error {
	if c.State() != StateCreated {
		return fmt.Errorf("consumer already initialized (state %s)", c.State())
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = false
	config.Consumer.Return.Errors = true
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Version = sarama.V3_0_0_0

	var group sarama.ConsumerGroup
	var err error
	for i := 0; i < c.cfg.DialRetries; i++ {
		group, err = sarama.NewConsumerGroup(c.cfg.Brokers, c.groupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return &ErrBrokerUnreachable{Err: err}
	}

	producer, err := sarama.NewSyncProducer(c.cfg.Brokers, config)
	if err != nil {
		group.Close()
		return &ErrBrokerUnreachable{Err: err}
	}

	c.group = group
	c.producer = producer
	c.state.Store(int32(StateInitialized))
	log.Info().
		Str("group_id", c.groupID).
		Strs("topics", c.topics).
		Str("region_filter", c.regionFilter).
		Msg("Consumer initialized")
	return nil
}

// Run consumes until ctx is cancelled, then flushes and closes. The error
// return is nil on graceful shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	if c.State() != StateInitialized {
		return fmt.Errorf("consumer not initialized (state %s)", c.State())
	}
	c.state.Store(int32(StateRunning))

	handler := &groupHandler{consumer: c}

	var loopErr error
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			log.Error().Err(err).Str("group_id", c.groupID).Msg("Consumer session error")
			loopErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.state.Store(int32(StateStopping))
	log.Info().Str("group_id", c.groupID).Msg("Consumer stopping")

	if err := c.producer.Close(); err != nil {
		log.Warn().Err(err).Msg("Producer close failed")
	}
	if err := c.group.Close(); err != nil {
		log.Warn().Err(err).Msg("Consumer group close failed")
	}

	c.state.Store(int32(StateStopped))
	log.Info().Str("group_id", c.groupID).Msg("Consumer stopped")

	if loopErr != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer pipeline failed: %w", loopErr)
	}
	return nil
}

// PublishAlert emits an alert on the alert topic, keyed by user id so a
// user's alerts stay ordered.
func (c *Consumer) PublishAlert(alertJSON []byte, userID string) error {
	_, _, err := c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: c.cfg.AlertTopic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(alertJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// groupHandler adapts the consumer to sarama's session callbacks.
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	log.Info().
		Str("group_id", h.consumer.groupID).
		Str("member_id", session.MemberID()).
		Msg("Consumer session started")
	return nil
}

// Cleanup commits marked offsets before partitions are revoked.
func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	session.Commit()
	log.Info().Str("group_id", h.consumer.groupID).Msg("Consumer session ended, offsets committed")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.handleMessage(session, message)

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage runs the per-message loop: decode, filter, process, commit.
// Success commits this message's offset synchronously; failure leaves it
// uncommitted and moves on.
func (c *Consumer) handleMessage(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	start := time.Now()
	c.metrics.TotalProcessed.Add(1)

	event, err := c.normalize(message.Topic, message.Value)
	if err != nil {
		c.metrics.RecordError("json_decode")
		c.handleDecodeFailure(session, message, err)
		return
	}
	c.resetDecodeStreak(message)

	if c.regionFilter != "" && eventRegion(event) != "" && eventRegion(event) != c.regionFilter {
		session.MarkMessage(message, "")
		session.Commit()
		c.metrics.Filtered.Add(1)
		return
	}

	if err := c.processor.ProcessEvent(session.Context(), message.Topic, event); err != nil {
		c.metrics.Failure.Add(1)
		c.metrics.RecordError("processing")
		log.Error().Err(err).
			Str("topic", message.Topic).
			Str("event_id", event.EventID).
			Int32("partition", message.Partition).
			Int64("offset", message.Offset).
			Msg("Event processing failed, offset not committed")
		return
	}

	session.MarkMessage(message, "")
	session.Commit()
	c.metrics.Success.Add(1)
	c.metrics.RecordOffset(message.Topic, message.Partition, message.Offset)
	c.metrics.RecordDuration(time.Since(start))
}

// handleDecodeFailure counts consecutive decode failures on the same offset;
// after the configured cap the message goes to the poison topic and its
// offset is committed to unblock the partition.
func (c *Consumer) handleDecodeFailure(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage, cause error) {
	key := offsetKey(message)
	c.streakMu.Lock()
	c.decodeStreak[key]++
	streak := c.decodeStreak[key]
	c.streakMu.Unlock()

	log.Warn().Err(cause).
		Str("topic", message.Topic).
		Int32("partition", message.Partition).
		Int64("offset", message.Offset).
		Int("streak", streak).
		Msg("Failed to decode message")

	if streak < c.cfg.PoisonAfter {
		return
	}

	_, _, err := c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: c.cfg.PoisonTopic,
		Key:   sarama.StringEncoder(message.Topic),
		Value: sarama.ByteEncoder(message.Value),
	})
	if err != nil {
		log.Error().Err(err).Msg("Poison queue publish failed, offset stays uncommitted")
		return
	}

	c.streakMu.Lock()
	delete(c.decodeStreak, key)
	c.streakMu.Unlock()
	session.MarkMessage(message, "")
	session.Commit()
	c.metrics.Poisoned.Add(1)
	log.Warn().
		Str("topic", message.Topic).
		Int64("offset", message.Offset).
		Msg("Message published to poison queue and committed")
}

func (c *Consumer) resetDecodeStreak(message *sarama.ConsumerMessage) {
	c.streakMu.Lock()
	delete(c.decodeStreak, offsetKey(message))
	c.streakMu.Unlock()
}

func offsetKey(message *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", message.Topic, message.Partition, message.Offset)
}

func eventRegion(event *models.Event) string {
	if event.RegionCode != "" {
		return event.RegionCode
	}
	if event.Metadata != nil {
		if region, ok := event.Metadata["region_code"].(string); ok {
			return region
		}
	}
	return ""
}

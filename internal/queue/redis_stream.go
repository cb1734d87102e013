package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/configs"
	"github.com/trustguard/riskcore/internal/models"
)

// AlertRetryQueue is the durable queue alerts land on when gateway delivery
// exhausts its retries. A retry worker drains it with a consumer group so a
// crashed worker's in-flight alerts are reclaimed.
type AlertRetryQueue struct {
	client           *redis.Client
	streamName       string
	consumerGroup    string
	deadLetterStream string
	maxRetries       int
}

const alertRetryGroup = "alert-retry-workers"

// NewAlertRetryQueue connects to Redis and ensures the stream and consumer
// group exist.
func NewAlertRetryQueue(cfg configs.RedisConfig) (*AlertRetryQueue, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := &AlertRetryQueue{
		client:           client,
		streamName:       cfg.AlertRetryStream,
		consumerGroup:    alertRetryGroup,
		deadLetterStream: cfg.DeadLetterStream,
		maxRetries:       cfg.MaxRetries,
	}

	if err := q.createConsumerGroup(ctx); err != nil {
		log.Warn().Err(err).Msg("Consumer group may already exist")
	}

	log.Info().Str("stream", q.streamName).Msg("Alert retry queue initialized")
	return q, nil
}

func (q *AlertRetryQueue) createConsumerGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.streamName, q.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish records an undelivered alert for the retry worker.
func (q *AlertRetryQueue) Publish(ctx context.Context, alert *models.Alert) (string, error) {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	msgID, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamName,
		Values: map[string]interface{}{
			"data": string(alertJSON),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish alert: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("alert_id", alert.AlertID.String()).
		Msg("Alert queued for retry")
	return msgID, nil
}

// QueuedAlert is one alert read off the retry stream.
type QueuedAlert struct {
	ID    string
	Alert *models.Alert
}

// Consume reads queued alerts, first reclaiming any that have been pending
// on a dead worker for too long.
func (q *AlertRetryQueue) Consume(ctx context.Context, consumerName string, count int64, blockDuration time.Duration) ([]QueuedAlert, error) {
	pending, err := q.claimPending(ctx, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to claim pending alerts")
	}
	if len(pending) > 0 {
		return pending, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.consumerGroup,
		Consumer: consumerName,
		Streams:  []string{q.streamName, ">"},
		Count:    count,
		Block:    blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from alert stream: %w", err)
	}

	var out []QueuedAlert
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			alert, err := parseAlertMessage(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse queued alert")
				continue
			}
			out = append(out, QueuedAlert{ID: msg.ID, Alert: alert})
		}
	}
	return out, nil
}

func (q *AlertRetryQueue) claimPending(ctx context.Context, consumerName string, count int64) ([]QueuedAlert, error) {
	minIdleTime := 30 * time.Second

	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.streamName,
		Group:  q.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var messageIDs []string
	for _, p := range pending {
		if p.Idle >= minIdleTime {
			messageIDs = append(messageIDs, p.ID)
		}
	}
	if len(messageIDs) == 0 {
		return nil, nil
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.streamName,
		Group:    q.consumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []QueuedAlert
	for _, msg := range claimed {
		alert, err := parseAlertMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse claimed alert")
			continue
		}
		out = append(out, QueuedAlert{ID: msg.ID, Alert: alert})
	}
	return out, nil
}

func parseAlertMessage(msg redis.XMessage) (*models.Alert, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format")
	}
	var alert models.Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	return &alert, nil
}

// Acknowledge marks a queued alert as delivered.
func (q *AlertRetryQueue) Acknowledge(ctx context.Context, messageID string) error {
	if _, err := q.client.XAck(ctx, q.streamName, q.consumerGroup, messageID).Result(); err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return nil
}

// SendToDeadLetter parks an alert that keeps failing delivery.
func (q *AlertRetryQueue) SendToDeadLetter(ctx context.Context, alert *models.Alert, cause error) error {
	alertJSON, _ := json.Marshal(alert)

	_, dlqErr := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(alertJSON),
			"error": cause.Error(),
		},
	}).Result()
	if dlqErr != nil {
		return fmt.Errorf("failed to send to dead letter: %w", dlqErr)
	}

	log.Warn().
		Str("alert_id", alert.AlertID.String()).
		Err(cause).
		Msg("Alert sent to dead letter queue")
	return nil
}

// PendingCount returns the number of queued alerts awaiting delivery.
func (q *AlertRetryQueue) PendingCount(ctx context.Context) (int64, error) {
	pending, err := q.client.XPending(ctx, q.streamName, q.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// MaxRetries is the delivery attempt cap carried from configuration.
func (q *AlertRetryQueue) MaxRetries() int { return q.maxRetries }

// Close closes the Redis client.
func (q *AlertRetryQueue) Close() error {
	return q.client.Close()
}

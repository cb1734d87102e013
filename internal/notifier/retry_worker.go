package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/queue"
)

// RetryWorker drains the durable alert queue and re-attempts delivery.
// Alerts that keep failing move to the dead-letter stream once the queue's
// retry cap is reached.
type RetryWorker struct {
	queue      *queue.AlertRetryQueue
	dispatcher *Dispatcher
	name       string
	interval   time.Duration
}

func NewRetryWorker(q *queue.AlertRetryQueue, d *Dispatcher, name string) *RetryWorker {
	return &RetryWorker{
		queue:      q,
		dispatcher: d,
		name:       name,
		interval:   5 * time.Second,
	}
}

// Run loops until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) {
	log.Info().Str("worker", w.name).Msg("Alert retry worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("worker", w.name).Msg("Alert retry worker stopped")
			return
		default:
		}

		alerts, err := w.queue.Consume(ctx, w.name, 10, w.interval)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Failed to consume retry queue")
			if sleepCtx(ctx, w.interval) != nil {
				continue
			}
			continue
		}

		for _, queued := range alerts {
			w.process(ctx, queued)
		}
	}
}

func (w *RetryWorker) process(ctx context.Context, queued queue.QueuedAlert) {
	alert := queued.Alert

	attempts := retryAttempts(alert.Details) + 1
	if alert.Details == nil {
		alert.Details = make(map[string]interface{})
	}
	alert.Details["retry_attempts"] = attempts

	result, err := w.dispatcher.Deliver(ctx, alert)
	if err == nil && result.Success {
		if ackErr := w.queue.Acknowledge(ctx, queued.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("alert_id", alert.AlertID.String()).Msg("Failed to ack retried alert")
		}
		return
	}

	if attempts >= w.queue.MaxRetries() {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("delivery failed: %v", result.Failures)
		}
		if dlqErr := w.queue.SendToDeadLetter(ctx, alert, cause); dlqErr != nil {
			log.Error().Err(dlqErr).Str("alert_id", alert.AlertID.String()).Msg("Dead-letter publish failed")
			return
		}
		if ackErr := w.queue.Acknowledge(ctx, queued.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("alert_id", alert.AlertID.String()).Msg("Failed to ack dead-lettered alert")
		}
		return
	}

	// Re-enqueue with the bumped attempt count so it survives worker
	// restarts, then ack the old entry.
	if _, pubErr := w.queue.Publish(ctx, alert); pubErr != nil {
		log.Error().Err(pubErr).Str("alert_id", alert.AlertID.String()).Msg("Failed to re-enqueue alert")
		return
	}
	if ackErr := w.queue.Acknowledge(ctx, queued.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("alert_id", alert.AlertID.String()).Msg("Failed to ack re-enqueued alert")
	}
	log.Warn().
		Str("alert_id", alert.AlertID.String()).
		Int("attempts", attempts).
		Msg("Alert delivery still failing, re-enqueued")
}

func retryAttempts(details map[string]interface{}) int {
	if details == nil {
		return 0
	}
	switch v := details["retry_attempts"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

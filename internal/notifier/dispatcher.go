package notifier

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/configs"
	"github.com/trustguard/riskcore/internal/models"
)

// RetryQueue persists alerts whose delivery exhausted in-process retries.
type RetryQueue interface {
	Publish(ctx context.Context, alert *models.Alert) (string, error)
}

// Metrics are the notifier counters exposed to observability.
type Metrics struct {
	Dispatched       atomic.Int64
	Suppressed       atomic.Int64
	SendFailures     atomic.Int64
	TerminalFailures atomic.Int64
	Queued           atomic.Int64
}

// DispatchResult reports one dispatch call. Reason is set on suppression.
type DispatchResult struct {
	Success         bool     `json:"success"`
	Reason          string   `json:"reason,omitempty"`
	NotificationIDs []string `json:"ids,omitempty"`
	Failures        []string `json:"failures,omitempty"`
}

// ReasonCooldown marks a dispatch suppressed by the per-user cooldown.
const ReasonCooldown = "COOLDOWN"

// Dispatcher routes alerts to the notification gateway with cooldown
// suppression, retries and a durable fallback queue.
type Dispatcher struct {
	gateway    Gateway
	cooldowns  CooldownStore
	matrix     *EscalationMatrix
	retryQueue RetryQueue
	cfg        configs.NotifierConfig

	metrics Metrics
	sleep   func(context.Context, time.Duration) error
}

func NewDispatcher(gateway Gateway, cooldowns CooldownStore, matrix *EscalationMatrix, retryQueue RetryQueue, cfg configs.NotifierConfig) *Dispatcher {
	return &Dispatcher{
		gateway:    gateway,
		cooldowns:  cooldowns,
		matrix:     matrix,
		retryQueue: retryQueue,
		cfg:        cfg,
		sleep:      sleepCtx,
	}
}

// Dispatch delivers an alert to every resolved recipient. A user inside the
// cooldown window yields {success=false, reason=COOLDOWN} with no gateway
// call; that is an expected outcome, not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) (*DispatchResult, error) {
	ok, err := d.cooldowns.Claim(ctx, alert.UserID, d.cfg.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("cooldown check failed: %w", err)
	}
	if !ok {
		d.metrics.Suppressed.Add(1)
		log.Info().
			Str("alert_id", alert.AlertID.String()).
			Str("user_id", alert.UserID).
			Msg("Alert suppressed by cooldown")
		return &DispatchResult{Success: false, Reason: ReasonCooldown}, nil
	}

	return d.Deliver(ctx, alert)
}

// Deliver sends to all recipients without consulting the cooldown; the retry
// worker uses it directly since the original dispatch already claimed the
// window.
func (d *Dispatcher) Deliver(ctx context.Context, alert *models.Alert) (*DispatchResult, error) {
	result := &DispatchResult{}
	recipients := ResolveRecipients(alert, d.matrix)

	for _, recipient := range recipients {
		for _, channel := range recipient.Channels {
			id, err := d.sendWithRetry(ctx, alert, recipient, channel)
			if err != nil {
				d.metrics.SendFailures.Add(1)
				result.Failures = append(result.Failures,
					fmt.Sprintf("%s/%s: %v", recipient.Address, channel, err))
				continue
			}
			result.NotificationIDs = append(result.NotificationIDs, id)
		}
	}

	result.Success = len(result.Failures) == 0
	if result.Success {
		d.metrics.Dispatched.Add(1)
		return result, nil
	}

	d.metrics.TerminalFailures.Add(1)
	if d.retryQueue != nil {
		if _, err := d.retryQueue.Publish(ctx, alert); err != nil {
			log.Error().Err(err).
				Str("alert_id", alert.AlertID.String()).
				Msg("Failed to queue alert for retry")
		} else {
			d.metrics.Queued.Add(1)
		}
	}
	return result, nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, alert *models.Alert, recipient Recipient, channel Channel) (string, error) {
	req := buildSendRequest(alert, recipient, channel)

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, backoff(d.cfg.RetryBase, attempt)); err != nil {
				return "", err
			}
		}

		resp, err := d.gateway.Send(ctx, alert.TenantID, req)
		if err == nil && resp.Success {
			return resp.NotificationID, nil
		}
		if err == nil {
			err = fmt.Errorf("gateway rejected notification: %s", resp.Error)
		}
		lastErr = err
		log.Warn().Err(err).
			Str("alert_id", alert.AlertID.String()).
			Str("recipient", recipient.Address).
			Str("channel", string(channel)).
			Int("attempt", attempt+1).
			Msg("Notification send failed")
	}
	return "", lastErr
}

func buildSendRequest(alert *models.Alert, recipient Recipient, channel Channel) *SendRequest {
	template := "user_risk_alert"
	if recipient.Team {
		template = "security_team_alert"
	}
	return &SendRequest{
		Channel:   channel,
		Recipient: recipient.Address,
		Notification: Notification{
			Template:   template,
			Priority:   alert.Severity.String(),
			RegionCode: alert.RegionCode,
			Data: map[string]interface{}{
				"alert_type": alert.Type,
				"risk_score": alert.RiskScore,
				"anomalies":  alert.Anomalies,
				"event_ref":  alert.EventRef,
			},
			Metadata: alert.Details,
		},
		Tracking: Tracking{
			SourceSystem: "riskcore",
			RequestID:    alert.AlertID.String(),
		},
	}
}

// backoff is exponential with full jitter on top of the deterministic step.
func backoff(base time.Duration, attempt int) time.Duration {
	step := base << uint(attempt-1)
	return step + time.Duration(rand.Int63n(int64(base)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MetricsSnapshot returns the current counter values.
func (d *Dispatcher) MetricsSnapshot() map[string]int64 {
	return map[string]int64{
		"dispatched":        d.metrics.Dispatched.Load(),
		"suppressed":        d.metrics.Suppressed.Load(),
		"send_failures":     d.metrics.SendFailures.Load(),
		"terminal_failures": d.metrics.TerminalFailures.Load(),
		"queued":            d.metrics.Queued.Load(),
	}
}

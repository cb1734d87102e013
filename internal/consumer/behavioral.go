package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/notifier"
	"github.com/trustguard/riskcore/internal/pipeline"
	"github.com/trustguard/riskcore/internal/regional"
)

// AlertSink publishes alerts to the egress topic. The Consumer implements it;
// the binding happens after construction since each owns a reference to the
// other.
type AlertSink interface {
	PublishAlert(alertJSON []byte, userID string) error
}

// behavioralPayload is the union of the source schemas the behavioural
// topics carry.
type behavioralPayload struct {
	Success     *bool                     `json:"success"`
	Method      string                    `json:"method"`
	FailureCode string                    `json:"failure_code"`
	IP          string                    `json:"ip"`
	IPAddress   string                    `json:"ip_address"`
	Device      *models.DeviceFingerprint `json:"device"`
	Location    *models.LocationData      `json:"location"`
	AR          *models.ARData            `json:"ar_data"`
	SessionID   string                    `json:"session_id"`
	Action      string                    `json:"action"`
	Resource    string                    `json:"resource"`
}

// NormalizeBehavioral maps raw behavioural payloads onto the typed event
// union. The kind comes from event_type, falling back to the topic name.
func NormalizeBehavioral(topic string, value []byte) (*models.Event, error) {
	env, event, err := decodeEnvelope(value)
	if err != nil {
		return nil, err
	}

	var payload behavioralPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return nil, fmt.Errorf("invalid behavioural payload: %w", err)
	}

	ip := payload.IP
	if ip == "" {
		ip = payload.IPAddress
	}

	kind := env.EventType
	if kind == "" {
		kind = kindFromTopic(topic)
	}

	event.Timestamp = clampTimestamp(event.Timestamp, time.Now())

	switch models.EventKind(kind) {
	case models.EventAuthentication:
		event.Kind = models.EventAuthentication
		success := payload.Success != nil && *payload.Success
		event.Auth = &models.AuthenticationEvent{
			Success:     success,
			Method:      payload.Method,
			FailureCode: payload.FailureCode,
			IP:          ip,
			Device:      payload.Device,
			Location:    payload.Location,
			AR:          payload.AR,
		}
	case models.EventSession:
		event.Kind = models.EventSession
		event.Session = &models.SessionEvent{
			SessionID: payload.SessionID,
			Action:    payload.Action,
			IP:        ip,
		}
	case models.EventDevice:
		event.Kind = models.EventDevice
		event.Device = &models.DeviceEvent{
			Device: payload.Device,
			Action: payload.Action,
		}
	case models.EventUserActivity:
		event.Kind = models.EventUserActivity
		event.Activity = &models.UserActivityEvent{
			Action:   payload.Action,
			Resource: payload.Resource,
			IP:       ip,
			Location: payload.Location,
		}
	default:
		return nil, fmt.Errorf("event %s: unknown behavioural kind %q", event.EventID, kind)
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

func kindFromTopic(topic string) string {
	switch {
	case strings.Contains(topic, "session"):
		return string(models.EventSession)
	case strings.Contains(topic, "device"):
		return string(models.EventDevice)
	case strings.Contains(topic, "activity"):
		return string(models.EventUserActivity)
	default:
		return string(models.EventAuthentication)
	}
}

// BehavioralProcessor runs the full assessment pipeline for authentication
// events and folds every behavioural event into the user's profile.
type BehavioralProcessor struct {
	Pipeline   *pipeline.Pipeline
	Store      *contextstore.Store
	Regions    *regional.Registry
	Dispatcher *notifier.Dispatcher
	Region     string

	alerts AlertSink
}

func (p *BehavioralProcessor) Name() string { return "behavioral" }

// BindAlertSink attaches the egress publisher; called once at wiring time.
func (p *BehavioralProcessor) BindAlertSink(sink AlertSink) { p.alerts = sink }

func (p *BehavioralProcessor) ProcessEvent(ctx context.Context, topic string, event *models.Event) error {
	switch event.Kind {
	case models.EventAuthentication:
		return p.processAuthentication(ctx, event)
	default:
		// Sessions, device registrations and activity only feed the baseline.
		p.Store.AppendRecentEvent(event.UserID, *event)
		p.Store.UpdateProfile(ctx, event.UserID, event.TenantID, event, nil)
		return nil
	}
}

func (p *BehavioralProcessor) processAuthentication(ctx context.Context, event *models.Event) error {
	auth := authContextFrom(event, event.Auth.IP, event.Auth.Device, event.Auth.Location, event.Auth.AR, event.Auth.Method)

	region := eventRegion(event)
	if region == "" {
		region = p.Region
	}

	extra := p.regionalSignals(region, event)

	result, err := p.Pipeline.Assess(ctx, pipeline.Request{
		Auth:         auth,
		Region:       region,
		ExtraSignals: extra,
	})
	if err != nil {
		return err
	}

	p.Store.AppendRecentEvent(event.UserID, *event)
	p.Store.UpdateProfile(ctx, event.UserID, event.TenantID, event, result.Anomalies)

	assessment := result.Assessment
	log.Info().
		Str("user_id", event.UserID).
		Str("tenant_id", event.TenantID).
		Float64("risk_score", assessment.RiskScore).
		Str("risk_level", assessment.RiskLevel.String()).
		Str("reason", assessment.Reason).
		Msg("Authentication assessed")

	pol := &auth.Tenant.Policy
	if assessment.RiskScore >= pol.AlertThreshold {
		return p.emitAlert(ctx, event, region, assessment, result)
	}
	return nil
}

// regionalSignals runs the region heuristics on location and device and
// converts flags into risk signals keyed by flag name.
func (p *BehavioralProcessor) regionalSignals(region string, event *models.Event) []models.RiskSignal {
	analyzer, ok := p.Regions.Get(region)
	if !ok {
		return nil
	}

	var signals []models.RiskSignal
	if loc := event.Auth.Location; loc != nil {
		analysis := analyzer.AnalyzeLocation(loc)
		if analysis.Risk > 0 {
			signals = append(signals, models.RiskSignal{
				Type:       "new_location",
				Value:      analysis.Risk,
				Confidence: 0.8,
				Timestamp:  event.Timestamp,
			})
		}
	}
	if dev := event.Auth.Device; dev != nil {
		analysis := analyzer.AnalyzeDevice(dev)
		for _, flag := range analysis.Flags {
			signals = append(signals, models.RiskSignal{
				Type:       flag,
				Value:      analysis.Risk,
				Confidence: 0.85,
				Timestamp:  event.Timestamp,
			})
		}
	}
	return signals
}

func (p *BehavioralProcessor) emitAlert(ctx context.Context, event *models.Event, region string, assessment *models.RiskAssessment, result *pipeline.Result) error {
	anomalies := result.Anomalies
	for _, sig := range assessment.Signals {
		anomalies = append(anomalies, sig.Type)
	}

	alert := &models.Alert{
		AlertID:    uuid.New(),
		UserID:     event.UserID,
		TenantID:   event.TenantID,
		RegionCode: region,
		Type:       "behavioral_anomaly",
		Severity:   models.SeverityForLevel(assessment.RiskLevel),
		RiskScore:  assessment.RiskScore,
		Anomalies:  anomalies,
		EventRef:   event.EventID,
		Details: map[string]interface{}{
			"reason":           assessment.Reason,
			"required_factors": assessment.RequiredFactors,
		},
		CreatedAt: time.Now(),
	}

	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if p.alerts != nil {
		if err := p.alerts.PublishAlert(alertJSON, event.UserID); err != nil {
			return err
		}
	}

	if p.Dispatcher != nil {
		if _, err := p.Dispatcher.Dispatch(ctx, alert); err != nil {
			log.Error().Err(err).Str("alert_id", alert.AlertID.String()).Msg("Alert dispatch failed")
		}
	}
	return nil
}

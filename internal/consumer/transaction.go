package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/notifier"
	"github.com/trustguard/riskcore/internal/pipeline"
	"github.com/trustguard/riskcore/internal/queue"
	"github.com/trustguard/riskcore/internal/regional"
)

// txWindow is the sliding window of recent transactions kept per user.
const txWindow = time.Hour

// blockFloor is the minimum risk at which an automatic block is ever
// recommended, regardless of tenant thresholds.
const blockFloor = 0.85

// transactionPayload is the union of the payment, mobile-money and
// e-commerce source schemas.
type transactionPayload struct {
	Transaction *models.TransactionEvent `json:"transaction"`

	TransactionID string                    `json:"transaction_id"`
	Type          string                    `json:"type"`
	Amount        float64                   `json:"amount"`
	Currency      string                    `json:"currency"`
	Recipient     string                    `json:"recipient"`
	Service       string                    `json:"service"`
	Operator      string                    `json:"operator"`
	AgentID       string                    `json:"agent_id"`
	Direction     string                    `json:"direction"`
	Channel       string                    `json:"channel"`
	IP            string                    `json:"ip"`
	Location      *models.LocationData      `json:"location"`
	Device        *models.DeviceFingerprint `json:"device"`
}

// NormalizeTransaction maps raw transaction payloads onto the typed event
// union. Producers either nest the transaction or inline its fields.
func NormalizeTransaction(_ string, value []byte) (*models.Event, error) {
	_, event, err := decodeEnvelope(value)
	if err != nil {
		return nil, err
	}

	var payload transactionPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return nil, fmt.Errorf("invalid transaction payload: %w", err)
	}

	tx := payload.Transaction
	if tx == nil {
		tx = &models.TransactionEvent{
			TransactionID: payload.TransactionID,
			Type:          payload.Type,
			Amount:        payload.Amount,
			Currency:      payload.Currency,
			Recipient:     payload.Recipient,
			Service:       payload.Service,
			Operator:      payload.Operator,
			AgentID:       payload.AgentID,
			Direction:     payload.Direction,
			Channel:       payload.Channel,
			Location:      payload.Location,
			Device:        payload.Device,
		}
	}
	if tx.TransactionID == "" {
		return nil, fmt.Errorf("event %s: transaction without transaction_id", event.EventID)
	}

	event.Kind = models.EventTransaction
	event.Transaction = tx
	event.Timestamp = clampTimestamp(event.Timestamp, time.Now())
	if event.Metadata == nil {
		event.Metadata = map[string]interface{}{}
	}
	if payload.IP != "" {
		event.Metadata["ip"] = payload.IP
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// TransactionDecision is the per-transaction outcome attached to logs and
// alerts.
type TransactionDecision struct {
	Verdict      models.TransactionVerdict `json:"verdict"`
	IsSuspicious bool                      `json:"is_suspicious"`
	IsHighRisk   bool                      `json:"is_high_risk"`
	Block        bool                      `json:"block"`
	RiskScore    float64                   `json:"risk_score"`
}

// TransactionProcessor scores payment, mobile-money and e-commerce
// transactions against the user's sliding window and the regional rules.
type TransactionProcessor struct {
	Pipeline   *pipeline.Pipeline
	Store      *contextstore.Store
	Regions    *regional.Registry
	Dispatcher *notifier.Dispatcher
	Cache      *queue.CacheClient
	Region     string

	alerts AlertSink
}

func (p *TransactionProcessor) Name() string { return "transaction" }

func (p *TransactionProcessor) BindAlertSink(sink AlertSink) { p.alerts = sink }

func (p *TransactionProcessor) ProcessEvent(ctx context.Context, _ string, event *models.Event) error {
	tx := event.Transaction
	region := eventRegion(event)
	if region == "" {
		region = p.Region
	}

	history := p.loadWindow(ctx, event.UserID, event.Timestamp)
	extra := p.regionalSignals(region, event, history)

	ip, _ := event.Metadata["ip"].(string)
	auth := authContextFrom(event, ip, tx.Device, tx.Location, nil, "")

	result, err := p.Pipeline.Assess(ctx, pipeline.Request{
		Auth:         auth,
		Region:       region,
		Transaction:  tx,
		TxPerHour:    len(history) + 1,
		ExtraSignals: extra,
	})
	if err != nil {
		return err
	}

	p.appendWindow(ctx, event.UserID, tx, event.Timestamp)
	p.Store.AppendRecentEvent(event.UserID, *event)
	p.Store.UpdateProfile(ctx, event.UserID, event.TenantID, event, result.Anomalies)

	pol := &auth.Tenant.Policy
	score := result.Assessment.RiskScore
	decision := TransactionDecision{
		Verdict:      result.Verdict,
		IsSuspicious: score >= pol.SuspiciousThreshold,
		IsHighRisk:   score >= pol.HighRiskThreshold,
		Block:        score >= pol.BlockThreshold && score >= blockFloor,
		RiskScore:    score,
	}

	log.Info().
		Str("user_id", event.UserID).
		Str("transaction_id", tx.TransactionID).
		Float64("amount", tx.Amount).
		Float64("risk_score", score).
		Str("verdict", string(decision.Verdict)).
		Bool("block", decision.Block).
		Msg("Transaction assessed")

	if decision.IsHighRisk {
		return p.emitAlert(ctx, event, region, result, decision)
	}
	return nil
}

func windowKey(userID string) string { return "txwin:" + userID }

// loadWindow reads the user's transactions inside the sliding window. Cache
// failures degrade to an empty history.
func (p *TransactionProcessor) loadWindow(ctx context.Context, userID string, now time.Time) []regional.HistoryEntry {
	if p.Cache == nil {
		return nil
	}
	members, err := p.Cache.WindowMembers(ctx, windowKey(userID), now, txWindow)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Transaction window read failed")
		return nil
	}

	history := make([]regional.HistoryEntry, 0, len(members))
	for _, member := range members {
		var entry regional.HistoryEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		history = append(history, entry)
	}
	return history
}

func (p *TransactionProcessor) appendWindow(ctx context.Context, userID string, tx *models.TransactionEvent, at time.Time) {
	if p.Cache == nil {
		return
	}
	member, err := json.Marshal(regional.HistoryEntry{Tx: *tx, At: at})
	if err != nil {
		return
	}
	if err := p.Cache.WindowAdd(ctx, windowKey(userID), string(member), at, txWindow); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Transaction window write failed")
	}
}

func (p *TransactionProcessor) regionalSignals(region string, event *models.Event, history []regional.HistoryEntry) []models.RiskSignal {
	analyzer, ok := p.Regions.Get(region)
	if !ok {
		return nil
	}
	tx := event.Transaction

	var signals []models.RiskSignal
	analysis := analyzer.AnalyzeTransaction(tx, event.Timestamp, history)
	for _, flag := range analysis.Flags {
		signals = append(signals, models.RiskSignal{
			Type:       flag.Name,
			Value:      flag.Value,
			Confidence: flag.Confidence,
			Timestamp:  event.Timestamp,
		})
	}

	if tx.Location != nil {
		loc := analyzer.AnalyzeLocation(tx.Location)
		if loc.Risk > 0 {
			signals = append(signals, models.RiskSignal{
				Type:       "new_location",
				Value:      loc.Risk,
				Confidence: 0.8,
				Timestamp:  event.Timestamp,
			})
		}
	}
	if tx.Device != nil {
		dev := analyzer.AnalyzeDevice(tx.Device)
		for _, flag := range dev.Flags {
			signals = append(signals, models.RiskSignal{
				Type:       flag,
				Value:      dev.Risk,
				Confidence: 0.85,
				Timestamp:  event.Timestamp,
			})
		}
	}
	return signals
}

func (p *TransactionProcessor) emitAlert(ctx context.Context, event *models.Event, region string, result *pipeline.Result, decision TransactionDecision) error {
	anomalies := result.Anomalies
	for _, sig := range result.Assessment.Signals {
		anomalies = append(anomalies, sig.Type)
	}

	alert := &models.Alert{
		AlertID:    uuid.New(),
		UserID:     event.UserID,
		TenantID:   event.TenantID,
		RegionCode: region,
		Type:       "transaction_fraud",
		Severity:   models.SeverityForLevel(result.Assessment.RiskLevel),
		RiskScore:  decision.RiskScore,
		Anomalies:  anomalies,
		EventRef:   event.EventID,
		Details: map[string]interface{}{
			"transaction_id": event.Transaction.TransactionID,
			"amount":         event.Transaction.Amount,
			"service":        event.Transaction.Service,
			"verdict":        decision.Verdict,
			"block":          decision.Block,
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

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
	"github.com/trustguard/riskcore/internal/regional"
)

// documentPayload covers the KYC ingestion schema: the document either
// arrives nested or with its fields inlined.
type documentPayload struct {
	Document *models.DocumentEvent `json:"document"`

	DocumentID     string            `json:"document_id"`
	DocumentType   string            `json:"document_type"`
	DocumentNumber string            `json:"document_number"`
	IssuingCountry string            `json:"issuing_country"`
	IssueDate      *time.Time        `json:"issue_date"`
	ExpiryDate     *time.Time        `json:"expiry_date"`
	Fields         map[string]string `json:"fields"`
}

// NormalizeDocument maps raw document-submission payloads onto the typed
// event union.
func NormalizeDocument(_ string, value []byte) (*models.Event, error) {
	_, event, err := decodeEnvelope(value)
	if err != nil {
		return nil, err
	}

	var payload documentPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return nil, fmt.Errorf("invalid document payload: %w", err)
	}

	doc := payload.Document
	if doc == nil {
		doc = &models.DocumentEvent{
			DocumentID:     payload.DocumentID,
			DocumentType:   payload.DocumentType,
			DocumentNumber: payload.DocumentNumber,
			IssuingCountry: payload.IssuingCountry,
			IssueDate:      payload.IssueDate,
			ExpiryDate:     payload.ExpiryDate,
			Fields:         payload.Fields,
		}
	}
	if doc.DocumentType == "" || doc.DocumentNumber == "" {
		return nil, fmt.Errorf("event %s: document without type or number", event.EventID)
	}

	event.Kind = models.EventDocument
	event.Document = doc
	event.Timestamp = clampTimestamp(event.Timestamp, time.Now())

	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// DocumentDecision is the per-submission outcome.
type DocumentDecision struct {
	Valid        bool     `json:"valid"`
	IsSuspicious bool     `json:"is_suspicious"`
	FraudSignals []string `json:"fraud_signals,omitempty"`
	RiskScore    float64  `json:"risk_score"`
}

// DocumentProcessor validates submitted identity documents against the
// regional rules and scores them for fraud.
type DocumentProcessor struct {
	Pipeline   *pipeline.Pipeline
	Store      *contextstore.Store
	Regions    *regional.Registry
	Dispatcher *notifier.Dispatcher
	Region     string

	alerts AlertSink
}

func (p *DocumentProcessor) Name() string { return "document" }

func (p *DocumentProcessor) BindAlertSink(sink AlertSink) { p.alerts = sink }

func (p *DocumentProcessor) ProcessEvent(ctx context.Context, _ string, event *models.Event) error {
	doc := event.Document
	region := eventRegion(event)
	if region == "" {
		region = p.Region
	}

	validation := p.validate(region, doc, event.Timestamp)

	extra := make([]models.RiskSignal, 0, len(validation.Flags))
	flags := make([]string, 0, len(validation.Flags))
	for _, flag := range validation.Flags {
		flags = append(flags, flag.Name)
		extra = append(extra, models.RiskSignal{
			Type:       flag.Name,
			Value:      flag.Value,
			Confidence: flag.Confidence,
			Timestamp:  event.Timestamp,
		})
	}

	auth := authContextFrom(event, "", nil, nil, nil, "")

	result, err := p.Pipeline.Assess(ctx, pipeline.Request{
		Auth:          auth,
		Region:        region,
		DocumentFlags: flags,
		ExtraSignals:  extra,
	})
	if err != nil {
		return err
	}

	p.Store.AppendRecentEvent(event.UserID, *event)
	p.Store.UpdateProfile(ctx, event.UserID, event.TenantID, event, result.Anomalies)

	pol := &auth.Tenant.Policy
	score := result.Assessment.RiskScore
	decision := DocumentDecision{
		Valid:        validation.Valid,
		IsSuspicious: score >= pol.SuspiciousThreshold,
		FraudSignals: append(flags, result.Anomalies...),
		RiskScore:    score,
	}

	log.Info().
		Str("user_id", event.UserID).
		Str("document_id", doc.DocumentID).
		Str("document_type", doc.DocumentType).
		Bool("valid", decision.Valid).
		Bool("is_suspicious", decision.IsSuspicious).
		Float64("risk_score", score).
		Strs("steps", validation.StepsPerformed).
		Msg("Document validated")

	if score >= pol.AlertThreshold {
		return p.emitAlert(ctx, event, region, result, decision)
	}
	return nil
}

// validate runs the region's document rules. Unknown regions yield a single
// finding rather than failing the event.
func (p *DocumentProcessor) validate(region string, doc *models.DocumentEvent, at time.Time) regional.DocumentValidation {
	analyzer, ok := p.Regions.Get(region)
	if !ok {
		return regional.DocumentValidation{
			Flags: []regional.TxFlag{{Name: "unsupported_region", Value: 0.3, Confidence: 0.7}},
			Risk:  0.3,
		}
	}
	return analyzer.ValidateDocument(doc, at)
}

func (p *DocumentProcessor) emitAlert(ctx context.Context, event *models.Event, region string, result *pipeline.Result, decision DocumentDecision) error {
	alert := &models.Alert{
		AlertID:    uuid.New(),
		UserID:     event.UserID,
		TenantID:   event.TenantID,
		RegionCode: region,
		Type:       "document_fraud",
		Severity:   models.SeverityForLevel(result.Assessment.RiskLevel),
		RiskScore:  decision.RiskScore,
		Anomalies:  decision.FraudSignals,
		EventRef:   event.EventID,
		Details: map[string]interface{}{
			"document_id":   event.Document.DocumentID,
			"document_type": event.Document.DocumentType,
			"valid":         decision.Valid,
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

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/aggregator"
	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/mlmodel"
	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/policy"
	"github.com/trustguard/riskcore/internal/processors"
	"github.com/trustguard/riskcore/internal/rules"
)

// Pipeline assembles one risk assessment: context enrichment, signal
// processors, rule engine, optional ML, aggregation and resolution. It is
// shared by the consumers and the API server.
type Pipeline struct {
	Tenants    *policy.Registry
	Store      *contextstore.Store
	Processors *processors.Registry
	Rules      *rules.Engine
	Aggregator *aggregator.Aggregator
	Resolver   *policy.Resolver
	Model      mlmodel.Model
}

// Request is one assessment invocation. Region selects the rule market and
// regional heuristics; Transaction is set for transaction assessments.
type Request struct {
	Auth        *models.AuthContext
	Region      string
	Transaction *models.TransactionEvent
	TxPerHour   int
	// DocumentFlags carries the regional document findings so the model
	// sees expiry and format features.
	DocumentFlags []string
	// ExtraSignals are precomputed signals (regional analyses, velocity
	// windows) folded into aggregation alongside the processor output.
	ExtraSignals []models.RiskSignal
}

// Result is the assessment plus the transaction verdict when applicable.
type Result struct {
	Assessment *models.RiskAssessment
	Verdict    models.TransactionVerdict
	RuleResult rules.Result
	MLScore    *float64
	Anomalies  []string
}

// Assess runs the full pipeline. The assessment always completes with a risk
// level; degraded stages (ML failure, rule failures) only narrow the signal
// set.
func (p *Pipeline) Assess(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	auth := req.Auth

	if auth.Tenant == nil {
		tenant, ok := p.Tenants.Tenant(auth.TenantID)
		if !ok {
			return nil, fmt.Errorf("unknown tenant %s", auth.TenantID)
		}
		auth.Tenant = tenant
	}
	pol := &auth.Tenant.Policy

	profile := p.Store.GetProfile(ctx, auth.UserID, auth.TenantID)
	recent := p.Store.GetRecentEvents(auth.UserID)

	in := &processors.Input{
		Auth:    auth,
		Profile: profile,
		Recent:  recent,
		Tenant:  auth.Tenant,
		Policy:  pol,
	}
	signals := p.Processors.ProcessAll(auth.UserID, in)
	signals = append(signals, req.ExtraSignals...)

	var ruleResult rules.Result
	if p.Rules != nil {
		env := rules.BuildEnv(auth, req.Region, profileFields(profile), auth.Timestamp)
		ruleResult = p.Rules.Evaluate(env, req.Region)
	}

	var mlScore *float64
	var anomalies []string
	if p.Model != nil {
		features := mlmodel.ExtractFeatures(auth, profile, req.Transaction, req.TxPerHour, auth.Timestamp)
		for _, flag := range req.DocumentFlags {
			switch flag {
			case "document_expired":
				features.DocumentExpired = true
			case "document_format_invalid":
				features.DocumentFormatInvalid = true
			}
		}
		pred, err := p.Model.Predict(ctx, features)
		if err != nil {
			log.Warn().Err(err).Str("user_id", auth.UserID).Msg("Model prediction failed, assessing without it")
		} else {
			mlScore = &pred.Score
			anomalies = pred.Anomalies
		}
	}

	out := p.Aggregator.Aggregate(aggregator.Input{
		Signals:    signals,
		RuleResult: &ruleResult,
		MLScore:    mlScore,
		Policy:     pol,
		Timestamp:  auth.Timestamp,
	})

	assessment := &models.RiskAssessment{
		AssessmentID:    uuid.New(),
		UserID:          auth.UserID,
		TenantID:        auth.TenantID,
		SessionID:       auth.SessionID,
		Timestamp:       auth.Timestamp,
		IP:              auth.IP,
		Device:          auth.Device,
		Location:        auth.Location,
		Signals:         out.Signals,
		RiskLevel:       out.Level,
		RiskScore:       out.Score,
		RequiredFactors: p.Resolver.RequiredFactors(out.Level, pol),
		Reason:          p.Resolver.Reason(out.Signals),
		ProcessingMs:    time.Since(start).Milliseconds(),
	}

	return &Result{
		Assessment: assessment,
		Verdict:    p.Resolver.Verdict(out.Level, auth.Tenant),
		RuleResult: ruleResult,
		MLScore:    mlScore,
		Anomalies:  anomalies,
	}, nil
}

// profileFields flattens the parts of the profile rule conditions may read.
func profileFields(profile *contextstore.BehavioralProfile) map[string]interface{} {
	if profile == nil {
		return nil
	}
	return map[string]interface{}{
		"profile.total_attempts":       profile.Auth.TotalAttempts,
		"profile.consecutive_failures": profile.Auth.ConsecutiveFailures,
		"profile.last_success_at":      profile.Auth.LastSuccessAt,
		"profile.tx_avg_amount":        profile.TxBaseline.Avg,
		"profile.tx_max_amount":        profile.TxBaseline.Max,
		"profile.tx_count":             profile.TxBaseline.Count,
	}
}

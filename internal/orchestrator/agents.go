package orchestrator

import (
	"context"
	"fmt"

	"github.com/trustguard/riskcore/internal/connectors"
	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/mlmodel"
	"github.com/trustguard/riskcore/internal/rules"
)

// RuleAgent wraps the rule engine as an orchestrated agent.
type RuleAgent struct {
	Engine *rules.Engine
	Weight float64
}

func (a *RuleAgent) Name() string { return "rules" }

func (a *RuleAgent) Assess(_ context.Context, in *Input, ac *AgentContext) (Finding, error) {
	env := rules.BuildEnv(in.Auth, in.Region, profileFields(in.Profile), in.Auth.Timestamp)
	result := a.Engine.Evaluate(env, in.Region)

	for _, triggered := range result.Triggered {
		ac.AddInsight(a.Name(), triggered.Name, triggered.Contribution)
		ac.AddRiskFactor(triggered.ID)
	}
	ac.SetIndicator("rules_triggered", float64(result.TriggeredCount))

	return Finding{Risk: result.AggregateScore, Weight: a.Weight}, nil
}

// BehaviorAgent folds the precomputed behavioural signals into one weighted
// opinion.
type BehaviorAgent struct {
	Weight float64
}

func (a *BehaviorAgent) Name() string { return "behavioral" }

func (a *BehaviorAgent) Assess(_ context.Context, in *Input, ac *AgentContext) (Finding, error) {
	var weighted, total float64
	for _, sig := range in.Signals {
		value, ok := sig.NumericValue()
		if !ok {
			continue
		}
		weighted += value * sig.Confidence
		total += sig.Confidence
		ac.SetIndicator(sig.Type, value)
		if value >= 0.5 {
			ac.AddRiskFactor(sig.Type)
		}
	}
	if total == 0 {
		// Nothing observed; stay out of the decision.
		return Finding{}, nil
	}

	risk := clamp01(weighted / total)
	ac.AddInsight(a.Name(), fmt.Sprintf("%d behavioural signals", len(in.Signals)), risk)
	return Finding{Risk: risk, Weight: a.Weight}, nil
}

// ModelAgent wraps the fraud model; its weight scales with the model's own
// confidence.
type ModelAgent struct {
	Model  mlmodel.Model
	Weight float64
}

func (a *ModelAgent) Name() string { return "ml" }

func (a *ModelAgent) Assess(ctx context.Context, in *Input, ac *AgentContext) (Finding, error) {
	features := mlmodel.ExtractFeatures(in.Auth, in.Profile, in.Transaction, in.TxPerHour, in.Auth.Timestamp)
	pred, err := a.Model.Predict(ctx, features)
	if err != nil {
		return Finding{}, err
	}

	for _, anomaly := range pred.Anomalies {
		ac.AddRiskFactor(anomaly)
	}
	ac.AddInsight(a.Name(), pred.Version, pred.Score)
	ac.SetIndicator("model_confidence", pred.Confidence)

	return Finding{Risk: pred.Score, Weight: a.Weight * pred.Confidence}, nil
}

// BureauAgent consults the regional credit bureau. Watchlist and restriction
// hits dominate; an unavailable bureau drops the agent from the decision.
type BureauAgent struct {
	Bureau connectors.CreditBureau
	Weight float64
}

func (a *BureauAgent) Name() string { return "credit_bureau" }

func (a *BureauAgent) Assess(ctx context.Context, in *Input, ac *AgentContext) (Finding, error) {
	result, err := a.Bureau.CheckCreditScore(ctx, in.Auth.UserID)
	if err != nil {
		return Finding{}, err
	}
	if !result.Success {
		return Finding{}, nil
	}

	risk := 0.2
	switch {
	case result.IsWatchlisted:
		risk = 0.9
		ac.AddRiskFactor("bureau_watchlisted")
	case result.HasRestrictions:
		risk = 0.6
		ac.AddRiskFactor("bureau_restrictions")
	case result.CreditScore > 0 && result.CreditScore < 400:
		risk = 0.45
	}

	ac.SetIndicator("credit_score", float64(result.CreditScore))
	ac.AddInsight(a.Name(), fmt.Sprintf("credit score %d", result.CreditScore), risk)
	return Finding{Risk: risk, Weight: a.Weight}, nil
}

// profileFields flattens the profile facts rule conditions may read, matching
// the assessment pipeline's field names.
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

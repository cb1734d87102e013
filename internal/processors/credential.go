package processors

import "github.com/trustguard/riskcore/internal/models"

// BreachChecker reports whether credentials in use are known-compromised.
// The production implementation fronts an external breach corpus.
type BreachChecker interface {
	IsBreached(userID string) bool
}

// failureBurstThreshold is how many consecutive failures count as a burst.
const failureBurstThreshold = 3

// CredentialAnomalyProcessor emits signals for known-breach credentials and
// consecutive-failure bursts.
type CredentialAnomalyProcessor struct {
	breaches BreachChecker
}

func NewCredentialAnomalyProcessor(breaches BreachChecker) *CredentialAnomalyProcessor {
	return &CredentialAnomalyProcessor{breaches: breaches}
}

func (p *CredentialAnomalyProcessor) Name() string { return "credential_anomaly" }

func (p *CredentialAnomalyProcessor) Process(userID string, in *Input) []models.RiskSignal {
	var signals []models.RiskSignal

	if p.breaches != nil && p.breaches.IsBreached(userID) {
		signals = append(signals, models.RiskSignal{
			Type:       "credential_anomaly",
			Value:      0.9,
			Confidence: 0.95,
			Timestamp:  in.Auth.Timestamp,
		})
	}

	if in.Profile != nil && in.Profile.Auth.ConsecutiveFailures >= failureBurstThreshold {
		value := 0.5 + 0.1*float64(in.Profile.Auth.ConsecutiveFailures-failureBurstThreshold)
		if value > 1 {
			value = 1
		}
		signals = append(signals, models.RiskSignal{
			Type:       "failed_attempts",
			Value:      value,
			Confidence: 0.9,
			Timestamp:  in.Auth.Timestamp,
		})
	}

	return signals
}

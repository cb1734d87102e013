package processors

import (
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// IPReputationProcessor flags anonymized networks and tenant high-risk
// countries.
type IPReputationProcessor struct{}

func NewIPReputationProcessor() *IPReputationProcessor {
	return &IPReputationProcessor{}
}

func (p *IPReputationProcessor) Name() string { return "ip_reputation" }

func (p *IPReputationProcessor) Process(userID string, in *Input) []models.RiskSignal {
	loc := in.Auth.Location
	if loc == nil {
		return nil
	}

	now := in.Auth.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var signals []models.RiskSignal
	if loc.IsVPN || loc.IsProxy || loc.IsTor {
		signals = append(signals, models.RiskSignal{
			Type:       "ip_reputation",
			Value:      0.8,
			Confidence: 0.9,
			Timestamp:  now,
		})
	}
	if in.Tenant != nil && in.Tenant.IsHighRiskCountry(loc.CountryCode) {
		signals = append(signals, models.RiskSignal{
			Type:       "ip_reputation",
			Value:      0.9,
			Confidence: 0.95,
			Timestamp:  now,
		})
	}
	return signals
}

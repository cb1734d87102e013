package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trustguard/riskcore/internal/models"
)

// Resolver maps assessed risk levels to required factors and, for
// transactions, to a verdict.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// RequiredFactors returns the factor list the user must satisfy for the level.
func (r *Resolver) RequiredFactors(level models.RiskLevel, p *models.AdaptivePolicy) []models.AuthFactor {
	factors := p.FactorsFor(level)
	out := make([]models.AuthFactor, len(factors))
	copy(out, factors)
	return out
}

// Verdict maps an assessed level against the tenant's default security level.
// At or below the default: allow; exactly one step above: review; further
// above: block.
func (r *Resolver) Verdict(level models.RiskLevel, tenant *models.TenantConfig) models.TransactionVerdict {
	diff := int(level) - int(tenant.DefaultLevel)
	switch {
	case diff <= 0:
		return models.VerdictAllow
	case diff == 1:
		return models.VerdictReview
	default:
		return models.VerdictBlock
	}
}

var reasonTemplates = map[string]string{
	"ip_reputation":      "anonymized or high-risk network (%.2f)",
	"geo_velocity":       "impossible travel speed (%.2f)",
	"device_trust":       "untrusted device (%.2f)",
	"behavioral":         "behaviour deviates from baseline (%.2f)",
	"time_pattern":       "activity at unusual hour (%.2f)",
	"new_location":       "sign-in from new location (%.2f)",
	"failed_attempts":    "recent failed attempts (%.2f)",
	"credential_anomaly": "credential anomaly (%.2f)",
	"rule_engine":        "tenant rules triggered (%.2f)",
	"ml":                 "model flagged this attempt (%.2f)",
	"ar_gesture":         "AR gesture mismatch (%.2f)",
	"ar_gaze":            "AR gaze mismatch (%.2f)",
	"ar_environment":     "AR environment mismatch (%.2f)",
	"ar_biometric":       "AR biometric mismatch (%.2f)",
}

// Reason builds the human-readable explanation from the top-3 signals by
// value, descending. Signals without a numeric value are skipped.
func (r *Resolver) Reason(signals []models.RiskSignal) string {
	type scored struct {
		signal models.RiskSignal
		value  float64
	}
	numeric := make([]scored, 0, len(signals))
	for _, s := range signals {
		if v, ok := s.NumericValue(); ok {
			numeric = append(numeric, scored{signal: s, value: v})
		}
	}
	if len(numeric) == 0 {
		return "no risk signals"
	}
	sort.SliceStable(numeric, func(i, j int) bool {
		return numeric[i].value > numeric[j].value
	})
	if len(numeric) > 3 {
		numeric = numeric[:3]
	}

	parts := make([]string, 0, len(numeric))
	for _, s := range numeric {
		tmpl, ok := reasonTemplates[s.signal.Type]
		if !ok {
			tmpl = s.signal.Type + " (%.2f)"
		}
		parts = append(parts, fmt.Sprintf(tmpl, s.value))
	}
	return strings.Join(parts, "; ")
}

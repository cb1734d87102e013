package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trustguard/riskcore/internal/models"
)

func tenantWithDefault(level models.RiskLevel) *models.TenantConfig {
	return &models.TenantConfig{TenantID: "t1", DefaultLevel: level}
}

func TestVerdictLadder(t *testing.T) {
	r := NewResolver()
	tenant := tenantWithDefault(models.RiskLevelMedium)

	assert.Equal(t, models.VerdictAllow, r.Verdict(models.RiskLevelLow, tenant))
	assert.Equal(t, models.VerdictAllow, r.Verdict(models.RiskLevelMedium, tenant))
	assert.Equal(t, models.VerdictReview, r.Verdict(models.RiskLevelHigh, tenant))
	assert.Equal(t, models.VerdictBlock, r.Verdict(models.RiskLevelCritical, tenant))
}

func TestVerdictHighDefaultTenant(t *testing.T) {
	r := NewResolver()
	tenant := tenantWithDefault(models.RiskLevelHigh)

	assert.Equal(t, models.VerdictAllow, r.Verdict(models.RiskLevelHigh, tenant))
	assert.Equal(t, models.VerdictReview, r.Verdict(models.RiskLevelCritical, tenant))
}

func TestRequiredFactorsCopies(t *testing.T) {
	r := NewResolver()
	p := DefaultPolicy()

	factors := r.RequiredFactors(models.RiskLevelHigh, &p)
	assert.Equal(t, p.FactorsHigh, factors)

	factors[0] = models.FactorSMS
	assert.Equal(t, models.FactorPassword, p.FactorsHigh[0])
}

func TestReasonTopThreeByValue(t *testing.T) {
	r := NewResolver()
	now := time.Now()
	signals := []models.RiskSignal{
		{Type: "behavioral", Value: 0.2, Confidence: 1, Timestamp: now},
		{Type: "geo_velocity", Value: 0.95, Confidence: 1, Timestamp: now},
		{Type: "time_pattern", Value: 0.3, Confidence: 1, Timestamp: now},
		{Type: "ip_reputation", Value: 0.6, Confidence: 1, Timestamp: now},
	}

	reason := r.Reason(signals)
	assert.Equal(t,
		"impossible travel speed (0.95); anonymized or high-risk network (0.60); activity at unusual hour (0.30)",
		reason)
}

func TestReasonUnknownSignalType(t *testing.T) {
	r := NewResolver()
	reason := r.Reason([]models.RiskSignal{
		{Type: "velocity_exceeded", Value: 0.7, Confidence: 1},
	})
	assert.Equal(t, "velocity_exceeded (0.70)", reason)
}

func TestReasonSkipsNonNumeric(t *testing.T) {
	r := NewResolver()
	reason := r.Reason([]models.RiskSignal{
		{Type: "behavioral", Value: "weird", Confidence: 1},
	})
	assert.Equal(t, "no risk signals", reason)
}

func TestReasonEmpty(t *testing.T) {
	assert.Equal(t, "no risk signals", NewResolver().Reason(nil))
}

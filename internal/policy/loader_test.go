package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/models"
)

const minimalRegistry = `
tenants:
  - tenant_id: acme-bank
    name: Acme Bank
    markets: [BR]
    regions: [BR]
    default_security_level: medium
    high_risk_countries: [KP]
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRegistryAppliesDefaults(t *testing.T) {
	registry, err := NewRegistry(writeRegistry(t, minimalRegistry), nil)
	require.NoError(t, err)

	tenant, ok := registry.Tenant("acme-bank")
	require.True(t, ok)
	assert.Equal(t, models.RiskLevelMedium, tenant.DefaultLevel)

	p := tenant.Policy
	assert.Equal(t, models.RiskThresholds{Medium: 0.3, High: 0.6, Critical: 0.8}, p.Thresholds)
	assert.InDelta(t, 0.7, p.Sensitivity, 1e-9)
	assert.InDelta(t, 900, p.GeoVelocityThreshold, 1e-9)
	assert.InDelta(t, 0.7, p.AlertThreshold, 1e-9)
	assert.Equal(t, 600*time.Second, p.AlertCooldown)
	assert.InDelta(t, 0.85, p.BlockThreshold, 1e-9)
	assert.Equal(t, []models.AuthFactor{models.FactorPassword}, p.FactorsLow)
	assert.Len(t, p.FactorsCritical, 4)
}

func TestNewRegistryUnknownTenant(t *testing.T) {
	registry, err := NewRegistry(writeRegistry(t, minimalRegistry), nil)
	require.NoError(t, err)

	_, ok := registry.Tenant("nobody")
	assert.False(t, ok)
}

func TestNewRegistryTenantOverrides(t *testing.T) {
	registry, err := NewRegistry(writeRegistry(t, `
tenants:
  - tenant_id: strict-bank
    regions: [PT]
    default_security_level: high
    policy:
      sensitivity: 0.9
      risk_thresholds:
        medium: 0.2
        high: 0.5
        critical: 0.75
      signal_weights:
        geo_velocity: 0.4
`), nil)
	require.NoError(t, err)

	tenant, ok := registry.Tenant("strict-bank")
	require.True(t, ok)
	assert.InDelta(t, 0.9, tenant.Policy.Sensitivity, 1e-9)
	assert.InDelta(t, 0.5, tenant.Policy.Thresholds.High, 1e-9)
	assert.InDelta(t, 0.4, WeightFor(&tenant.Policy, "geo_velocity"), 1e-9)
}

func TestNewRegistryRejectsEmptyFile(t *testing.T) {
	_, err := NewRegistry(writeRegistry(t, "tenants: []\n"), nil)
	assert.Error(t, err)
}

func TestNewRegistryRejectsDuplicateTenant(t *testing.T) {
	_, err := NewRegistry(writeRegistry(t, `
tenants:
  - tenant_id: acme-bank
    regions: [BR]
    default_security_level: low
  - tenant_id: acme-bank
    regions: [MZ]
    default_security_level: low
`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tenant id")
}

func TestNewRegistryRejectsUnknownDefaultLevel(t *testing.T) {
	_, err := NewRegistry(writeRegistry(t, `
tenants:
  - tenant_id: acme-bank
    regions: [BR]
    default_security_level: severe
`), nil)
	assert.Error(t, err)
}

func TestNewRegistryRejectsBadThresholdOrdering(t *testing.T) {
	_, err := NewRegistry(writeRegistry(t, `
tenants:
  - tenant_id: acme-bank
    regions: [BR]
    default_security_level: low
    policy:
      risk_thresholds:
        medium: 0.8
        high: 0.6
        critical: 0.9
`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds")
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	path := writeRegistry(t, minimalRegistry)
	registry, err := NewRegistry(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tenants: ["), 0o644))
	assert.Error(t, registry.Reload(nil))

	tenant, ok := registry.Tenant("acme-bank")
	require.True(t, ok)
	assert.Equal(t, "acme-bank", tenant.TenantID)
	assert.Len(t, registry.Tenants(), 1)
}

func TestValidatePolicy(t *testing.T) {
	base := DefaultPolicy()
	assert.NoError(t, ValidatePolicy(&base))

	badOrder := DefaultPolicy()
	badOrder.Thresholds = models.RiskThresholds{Medium: 0.7, High: 0.6, Critical: 0.8}
	assert.Error(t, ValidatePolicy(&badOrder))

	badSensitivity := DefaultPolicy()
	badSensitivity.Sensitivity = 1.5
	assert.Error(t, ValidatePolicy(&badSensitivity))

	badFactors := DefaultPolicy()
	badFactors.FactorsHigh = []models.AuthFactor{models.FactorPassword}
	badFactors.FactorsMedium = []models.AuthFactor{models.FactorPassword, models.FactorTOTP}
	assert.Error(t, ValidatePolicy(&badFactors))
}

func TestApplyPolicyDefaultsLeavesExplicitValues(t *testing.T) {
	p := models.AdaptivePolicy{Sensitivity: 0.4, AlertThreshold: 0.9}
	applyPolicyDefaults(&p)

	assert.InDelta(t, 0.4, p.Sensitivity, 1e-9)
	assert.InDelta(t, 0.9, p.AlertThreshold, 1e-9)
	assert.InDelta(t, 900, p.GeoVelocityThreshold, 1e-9)
	assert.Equal(t, 30, p.BaselineDays)
}

func TestWeightFor(t *testing.T) {
	p := DefaultPolicy()
	p.SignalWeights = map[string]float64{"behavioral": 0.33}

	assert.InDelta(t, 0.33, WeightFor(&p, "behavioral"), 1e-9)
	assert.InDelta(t, 0.20, WeightFor(&p, "ip_reputation"), 1e-9)
	assert.InDelta(t, 0.15, WeightFor(&p, "made_up_signal"), 1e-9)
	assert.InDelta(t, 0.50, WeightFor(nil, "rule_engine"), 1e-9)
}

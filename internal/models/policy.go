package models

import "time"

// RiskThresholds are the tenant-configured level boundaries.
type RiskThresholds struct {
	Medium   float64 `yaml:"medium" json:"medium" validate:"gte=0,lte=1"`
	High     float64 `yaml:"high" json:"high" validate:"gte=0,lte=1"`
	Critical float64 `yaml:"critical" json:"critical" validate:"gte=0,lte=1"`
}

// FeatureToggles enable or disable signal families per tenant.
type FeatureToggles struct {
	GeoCheck          bool `yaml:"geo_check" json:"geo_check"`
	DeviceFingerprint bool `yaml:"device_fingerprint" json:"device_fingerprint"`
	Behavioral        bool `yaml:"behavioral" json:"behavioral"`
	Velocity          bool `yaml:"velocity" json:"velocity"`
	ImpossibleTravel  bool `yaml:"impossible_travel" json:"impossible_travel"`
	ARGesture         bool `yaml:"ar_gesture" json:"ar_gesture"`
	ARGaze            bool `yaml:"ar_gaze" json:"ar_gaze"`
	AREnvironment     bool `yaml:"ar_environment" json:"ar_environment"`
	ARBiometric       bool `yaml:"ar_biometric" json:"ar_biometric"`
}

// AdaptivePolicy is the per-tenant knob set consumed by the scoring pipeline.
// The loader enforces factor monotonicity: a higher risk level never requires
// fewer factors than a lower one.
type AdaptivePolicy struct {
	Thresholds RiskThresholds `yaml:"risk_thresholds" json:"risk_thresholds"`

	FactorsLow      []AuthFactor `yaml:"factors_low" json:"factors_low"`
	FactorsMedium   []AuthFactor `yaml:"factors_medium" json:"factors_medium"`
	FactorsHigh     []AuthFactor `yaml:"factors_high" json:"factors_high"`
	FactorsCritical []AuthFactor `yaml:"factors_critical" json:"factors_critical"`

	Toggles FeatureToggles `yaml:"features" json:"features"`

	Sensitivity          float64 `yaml:"sensitivity" json:"sensitivity" validate:"gte=0,lte=1"`
	GeoVelocityThreshold float64 `yaml:"geo_velocity_threshold_kmh" json:"geo_velocity_threshold_kmh" validate:"gt=0"`
	BaselineDays         int     `yaml:"baseline_days" json:"baseline_days" validate:"gt=0"`
	TrustedDeviceExpiry  int     `yaml:"trusted_device_expiry_days" json:"trusted_device_expiry_days" validate:"gt=0"`

	AlertThreshold float64       `yaml:"alert_threshold" json:"alert_threshold" validate:"gte=0,lte=1"`
	AlertCooldown  time.Duration `yaml:"alert_cooldown" json:"alert_cooldown"`

	// SignalWeights override the aggregator defaults per signal type.
	SignalWeights map[string]float64 `yaml:"signal_weights" json:"signal_weights,omitempty"`

	// Transaction thresholds for the transaction consumer.
	SuspiciousThreshold float64 `yaml:"suspicious_threshold" json:"suspicious_threshold"`
	HighRiskThreshold   float64 `yaml:"high_risk_threshold" json:"high_risk_threshold"`
	BlockThreshold      float64 `yaml:"block_threshold" json:"block_threshold"`
}

// FactorsFor returns the factor list configured for a level.
func (p *AdaptivePolicy) FactorsFor(level RiskLevel) []AuthFactor {
	switch level {
	case RiskLevelCritical:
		return p.FactorsCritical
	case RiskLevelHigh:
		return p.FactorsHigh
	case RiskLevelMedium:
		return p.FactorsMedium
	default:
		return p.FactorsLow
	}
}

// LevelFor maps a score to a level using the tenant thresholds; ties go to the
// higher level.
func (p *AdaptivePolicy) LevelFor(score float64) RiskLevel {
	switch {
	case score >= p.Thresholds.Critical:
		return RiskLevelCritical
	case score >= p.Thresholds.High:
		return RiskLevelHigh
	case score >= p.Thresholds.Medium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// PolicyOverlay is the region-specific adjustment a regional analyzer merges
// into a tenant policy at load time. Zero values leave the base untouched.
type PolicyOverlay struct {
	GeoVelocityThreshold float64            `yaml:"geo_velocity_threshold_kmh,omitempty"`
	HighRiskCountries    []string           `yaml:"high_risk_countries,omitempty"`
	SignalWeights        map[string]float64 `yaml:"signal_weights,omitempty"`
	Rules                []interface{}      `yaml:"rules,omitempty"`
}

// TenantConfig is the tenant registry entry. Region overlays are keyed by
// region code (AO, BR, MZ, PT).
type TenantConfig struct {
	TenantID          string   `yaml:"tenant_id" json:"tenant_id" validate:"required"`
	Name              string   `yaml:"name" json:"name"`
	Markets           []string `yaml:"markets" json:"markets"`
	Regions           []string `yaml:"regions" json:"regions" validate:"required,min=1"`
	DefaultLevel      RiskLevel `yaml:"-" json:"default_security_level"`
	DefaultLevelName  string   `yaml:"default_security_level" json:"-" validate:"required"`
	RequiredFactors   []AuthFactor `yaml:"required_factors" json:"required_factors"`
	HighRiskCountries []string `yaml:"high_risk_countries" json:"high_risk_countries"`
	ComplianceSchemas []string `yaml:"compliance_schemas" json:"compliance_schemas"`

	Policy AdaptivePolicy `yaml:"policy" json:"policy"`

	// RegionOverlays are parsed by the tenant loader and merged through the
	// regional analyzers before the config is published.
	RegionOverlays map[string]PolicyOverlay `yaml:"region_overlays" json:"region_overlays,omitempty"`
}

// IsHighRiskCountry reports whether the country code is on the tenant list.
func (t *TenantConfig) IsHighRiskCountry(countryCode string) bool {
	for _, c := range t.HighRiskCountries {
		if c == countryCode {
			return true
		}
	}
	return false
}

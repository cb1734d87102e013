package policy

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/trustguard/riskcore/internal/models"
)

// DefaultSignalWeights are the aggregator weights used when a tenant does not
// override them.
var DefaultSignalWeights = map[string]float64{
	"ip_reputation":      0.20,
	"geo_velocity":       0.15,
	"device_trust":       0.15,
	"behavioral":         0.20,
	"time_pattern":       0.10,
	"new_location":       0.15,
	"failed_attempts":    0.20,
	"credential_anomaly": 0.20,
	"ar_gesture":         0.15,
	"ar_gaze":            0.15,
	"ar_environment":     0.15,
	"ar_biometric":       0.15,
	"rule_engine":        0.50,
	"ml":                 0.40,
}

// DefaultPolicy returns the baseline AdaptivePolicy applied before tenant and
// regional overrides.
func DefaultPolicy() models.AdaptivePolicy {
	return models.AdaptivePolicy{
		Thresholds: models.RiskThresholds{Medium: 0.3, High: 0.6, Critical: 0.8},
		FactorsLow: []models.AuthFactor{models.FactorPassword},
		FactorsMedium: []models.AuthFactor{
			models.FactorPassword, models.FactorTOTP,
		},
		FactorsHigh: []models.AuthFactor{
			models.FactorPassword, models.FactorTOTP, models.FactorPush,
		},
		FactorsCritical: []models.AuthFactor{
			models.FactorPassword, models.FactorTOTP, models.FactorPush, models.FactorBiometric,
		},
		Toggles: models.FeatureToggles{
			GeoCheck:          true,
			DeviceFingerprint: true,
			Behavioral:        true,
			Velocity:          true,
			ImpossibleTravel:  true,
		},
		Sensitivity:          0.7,
		GeoVelocityThreshold: 900,
		BaselineDays:         30,
		TrustedDeviceExpiry:  90,
		AlertThreshold:       0.7,
		AlertCooldown:        600 * time.Second,
		SuspiciousThreshold:  0.5,
		HighRiskThreshold:    0.7,
		BlockThreshold:       0.85,
	}
}

// registryFile is the YAML shape of the tenant registry.
type registryFile struct {
	Tenants []*models.TenantConfig `yaml:"tenants"`
}

// Registry holds the loaded tenant configurations. Lookups are lock-free;
// reloads swap the whole map atomically so readers never block.
type Registry struct {
	tenants  atomic.Pointer[map[string]*models.TenantConfig]
	validate *validator.Validate
	mu       sync.Mutex // serializes reloads
	path     string
}

// OverlayMerger is implemented by the regional analyzer registry; the loader
// uses it to fold region overlays into each tenant policy.
type OverlayMerger interface {
	MergeOverlays(cfg *models.TenantConfig) error
}

// NewRegistry loads the tenant registry from path. Configuration errors are
// fatal to the caller (exit code 1 per the CLI contract).
func NewRegistry(path string, merger OverlayMerger) (*Registry, error) {
	r := &Registry{
		validate: validator.New(),
		path:     path,
	}
	if err := r.load(merger); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file; operators trigger this through the admin
// API. A failed reload leaves the previous snapshot in place.
func (r *Registry) Reload(merger OverlayMerger) error {
	return r.load(merger)
}

func (r *Registry) load(merger OverlayMerger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read tenant registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse tenant registry: %w", err)
	}
	if len(file.Tenants) == 0 {
		return fmt.Errorf("tenant registry has no tenants")
	}

	tenants := make(map[string]*models.TenantConfig, len(file.Tenants))
	for _, tenant := range file.Tenants {
		if err := prepareTenant(tenant); err != nil {
			return fmt.Errorf("tenant %s: %w", tenant.TenantID, err)
		}
		// Structural validation runs after defaulting so minimal registry
		// entries pass the gt=0 tags.
		if err := r.validate.Struct(tenant); err != nil {
			return fmt.Errorf("tenant %s: validation failed: %w", tenant.TenantID, err)
		}
		if merger != nil {
			if err := merger.MergeOverlays(tenant); err != nil {
				return fmt.Errorf("tenant %s: overlay merge failed: %w", tenant.TenantID, err)
			}
		}
		if _, dup := tenants[tenant.TenantID]; dup {
			return fmt.Errorf("duplicate tenant id %s", tenant.TenantID)
		}
		tenants[tenant.TenantID] = tenant
	}

	r.tenants.Store(&tenants)
	log.Info().Int("tenant_count", len(tenants)).Str("path", r.path).Msg("Tenant registry loaded")
	return nil
}

// prepareTenant applies defaults and enforces the load-time invariants.
func prepareTenant(t *models.TenantConfig) error {
	level, err := models.ParseRiskLevel(t.DefaultLevelName)
	if err != nil {
		return fmt.Errorf("invalid default_security_level: %w", err)
	}
	t.DefaultLevel = level

	applyPolicyDefaults(&t.Policy)

	if err := ValidatePolicy(&t.Policy); err != nil {
		return err
	}
	return nil
}

func applyPolicyDefaults(p *models.AdaptivePolicy) {
	def := DefaultPolicy()
	if p.Thresholds.Medium == 0 && p.Thresholds.High == 0 && p.Thresholds.Critical == 0 {
		p.Thresholds = def.Thresholds
	}
	if len(p.FactorsLow) == 0 {
		p.FactorsLow = def.FactorsLow
	}
	if len(p.FactorsMedium) == 0 {
		p.FactorsMedium = def.FactorsMedium
	}
	if len(p.FactorsHigh) == 0 {
		p.FactorsHigh = def.FactorsHigh
	}
	if len(p.FactorsCritical) == 0 {
		p.FactorsCritical = def.FactorsCritical
	}
	if p.Sensitivity == 0 {
		p.Sensitivity = def.Sensitivity
	}
	if p.GeoVelocityThreshold == 0 {
		p.GeoVelocityThreshold = def.GeoVelocityThreshold
	}
	if p.BaselineDays == 0 {
		p.BaselineDays = def.BaselineDays
	}
	if p.TrustedDeviceExpiry == 0 {
		p.TrustedDeviceExpiry = def.TrustedDeviceExpiry
	}
	if p.AlertThreshold == 0 {
		p.AlertThreshold = def.AlertThreshold
	}
	if p.AlertCooldown == 0 {
		p.AlertCooldown = def.AlertCooldown
	}
	if p.SuspiciousThreshold == 0 {
		p.SuspiciousThreshold = def.SuspiciousThreshold
	}
	if p.HighRiskThreshold == 0 {
		p.HighRiskThreshold = def.HighRiskThreshold
	}
	if p.BlockThreshold == 0 {
		p.BlockThreshold = def.BlockThreshold
	}
}

// ValidatePolicy rejects policies violating the loader invariants: threshold
// ordering, sensitivity range and factor monotonicity.
func ValidatePolicy(p *models.AdaptivePolicy) error {
	th := p.Thresholds
	if !(th.Medium <= th.High && th.High <= th.Critical) {
		return fmt.Errorf("risk thresholds must be ordered medium <= high <= critical, got %.2f/%.2f/%.2f",
			th.Medium, th.High, th.Critical)
	}
	if p.Sensitivity < 0 || p.Sensitivity > 1 {
		return fmt.Errorf("sensitivity must be in [0,1], got %.2f", p.Sensitivity)
	}
	lists := [][]models.AuthFactor{p.FactorsLow, p.FactorsMedium, p.FactorsHigh, p.FactorsCritical}
	for i := 1; i < len(lists); i++ {
		if len(lists[i]) < len(lists[i-1]) {
			return fmt.Errorf("factor lists violate monotonicity: level %s requires %d factors, level %s requires %d",
				models.RiskLevel(i), len(lists[i]), models.RiskLevel(i-1), len(lists[i-1]))
		}
	}
	return nil
}

// Tenant returns the config snapshot for a tenant id.
func (r *Registry) Tenant(tenantID string) (*models.TenantConfig, bool) {
	tenants := r.tenants.Load()
	if tenants == nil {
		return nil, false
	}
	t, ok := (*tenants)[tenantID]
	return t, ok
}

// Tenants returns all loaded tenant configs.
func (r *Registry) Tenants() []*models.TenantConfig {
	tenants := r.tenants.Load()
	if tenants == nil {
		return nil
	}
	out := make([]*models.TenantConfig, 0, len(*tenants))
	for _, t := range *tenants {
		out = append(out, t)
	}
	return out
}

// WeightFor resolves the aggregation weight for a signal type under a policy.
func WeightFor(p *models.AdaptivePolicy, signalType string) float64 {
	if p != nil && p.SignalWeights != nil {
		if w, ok := p.SignalWeights[signalType]; ok {
			return w
		}
	}
	if w, ok := DefaultSignalWeights[signalType]; ok {
		return w
	}
	return 0.15
}

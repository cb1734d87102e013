package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/aggregator"
	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/policy"
	"github.com/trustguard/riskcore/internal/processors"
)

var assessClock = time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)

var (
	luandaLoc   = models.LocationData{CountryCode: "AO", City: "Luanda", Latitude: -8.8390, Longitude: 13.2894}
	saoPauloLoc = models.LocationData{CountryCode: "BR", City: "São Paulo", Latitude: -23.5505, Longitude: -46.6333}
)

func fullRegistry() *processors.Registry {
	matcher := processors.CosineMatcher{}
	return processors.NewRegistry(
		processors.NewIPReputationProcessor(),
		processors.NewGeoVelocityProcessor(),
		processors.NewDeviceAnalysisProcessor(),
		processors.NewBehavioralProcessor(),
		processors.NewTimePatternProcessor(),
		processors.NewCredentialAnomalyProcessor(nil),
		processors.NewARGestureProcessor(matcher),
		processors.NewARGazeProcessor(matcher),
		processors.NewAREnvironmentProcessor(matcher),
		processors.NewARBiometricProcessor(matcher),
	)
}

func testTenant() *models.TenantConfig {
	return &models.TenantConfig{
		TenantID:     "t1",
		Regions:      []string{"AO", "BR"},
		DefaultLevel: models.RiskLevelMedium,
		Policy:       policy.DefaultPolicy(),
	}
}

func TestAssessImpossibleTravelEscalates(t *testing.T) {
	ctx := context.Background()
	store := contextstore.New(contextstore.Config{}, nil)
	tenant := testTenant()

	// A successful login from Luanda half an hour before the assessed one.
	loc := luandaLoc
	store.UpdateProfile(ctx, "u1", "t1", &models.Event{
		Kind:      models.EventAuthentication,
		EventID:   "evt-1",
		UserID:    "u1",
		TenantID:  "t1",
		Timestamp: assessClock.Add(-30 * time.Minute),
		Auth: &models.AuthenticationEvent{
			Success:  true,
			Method:   "password",
			IP:       "203.0.113.9",
			Location: &loc,
		},
	}, nil)

	pipe := &Pipeline{
		Store:      store,
		Processors: fullRegistry(),
		Aggregator: aggregator.New(),
		Resolver:   policy.NewResolver(),
	}

	current := saoPauloLoc
	result, err := pipe.Assess(ctx, Request{
		Auth: &models.AuthContext{
			UserID:    "u1",
			TenantID:  "t1",
			IP:        "198.51.100.7",
			Location:  &current,
			Timestamp: assessClock,
			Tenant:    tenant,
		},
	})
	require.NoError(t, err)

	assessment := result.Assessment
	require.NotNil(t, assessment)
	assert.NotEqual(t, uuid.Nil, assessment.AssessmentID)

	var geo *models.RiskSignal
	for i := range assessment.Signals {
		if assessment.Signals[i].Type == "geo_velocity" {
			geo = &assessment.Signals[i]
		}
	}
	require.NotNil(t, geo, "expected a geo_velocity signal")
	assert.Equal(t, 0.95, geo.Value)
	assert.Equal(t, 0.85, geo.Confidence)

	assert.GreaterOrEqual(t, int(assessment.RiskLevel), int(models.RiskLevelHigh))
	assert.Subset(t, assessment.RequiredFactors, tenant.Policy.FactorsHigh)
	assert.Equal(t, models.VerdictBlock, result.Verdict)
	assert.NotEmpty(t, assessment.Reason)
}

func TestAssessUnknownTenant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tenants:
  - tenant_id: acme-bank
    name: Acme Bank
    markets: [BR]
    regions: [BR]
    default_security_level: medium
`), 0o644))
	registry, err := policy.NewRegistry(path, nil)
	require.NoError(t, err)

	pipe := &Pipeline{
		Tenants:    registry,
		Store:      contextstore.New(contextstore.Config{}, nil),
		Processors: fullRegistry(),
		Aggregator: aggregator.New(),
		Resolver:   policy.NewResolver(),
	}

	_, err = pipe.Assess(context.Background(), Request{
		Auth: &models.AuthContext{UserID: "u1", TenantID: "ghost", Timestamp: assessClock},
	})
	assert.Error(t, err)
}

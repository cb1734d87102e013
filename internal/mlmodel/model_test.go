package mlmodel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
)

func TestPredictNeutralFeatures(t *testing.T) {
	pred, err := NewLogisticModel().Predict(context.Background(), &Features{})

	require.NoError(t, err)
	// Only the two sigmoid terms contribute at zero.
	assert.InDelta(t, 0.0512, pred.Score, 0.01)
	assert.InDelta(t, 0.85, pred.Confidence, 1e-9)
	assert.Empty(t, pred.Anomalies)
	assert.Equal(t, "logistic-v1", pred.Version)
}

func TestPredictHighRiskFeatures(t *testing.T) {
	pred, err := NewLogisticModel().Predict(context.Background(), &Features{
		AmountZScore:       3,
		VelocityZScore:     2.5,
		FailedAttemptRatio: 1,
		DistanceFromLastKm: 600,
		HoursSinceLast:     1,
		IsNewLocation:      true,
		IsNewDevice:        true,
		IsHighRiskCountry:  true,
		IsVPNOrProxy:       true,
	})

	require.NoError(t, err)
	assert.Greater(t, pred.Score, 0.5)
	assert.Contains(t, pred.Anomalies, "amount_spike")
	assert.Contains(t, pred.Anomalies, "velocity_burst")
	assert.Contains(t, pred.Anomalies, "impossible_travel")
}

func TestPredictDocumentFlags(t *testing.T) {
	pred, err := NewLogisticModel().Predict(context.Background(), &Features{
		DocumentExpired:       true,
		DocumentFormatInvalid: true,
	})

	require.NoError(t, err)
	assert.Contains(t, pred.Anomalies, "document_expired")
	assert.Contains(t, pred.Anomalies, "document_format_invalid")
}

func TestPredictScoreStaysInUnitInterval(t *testing.T) {
	pred, err := NewLogisticModel().Predict(context.Background(), &Features{
		AmountZScore:       50,
		VelocityZScore:     50,
		FailedAttemptRatio: 50,
		DistanceFromLastKm: 10000,
		HoursSinceLast:     0.1,
		IsNewLocation:      true,
		IsNewDevice:        true,
		IsHighRiskCountry:  true,
		IsVPNOrProxy:       true,
		IsUnusualHour:      true,
		IsWeekend:          true,
		DocumentExpired:    true,
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, pred.Score, 1.0)
	assert.GreaterOrEqual(t, pred.Score, 0.0)
}

func TestExtractFeaturesZScores(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.TxBaseline.Observe(100)
	profile.TxBaseline.Observe(200)
	profile.TxBaseline.Observe(300)

	tx := &models.TransactionEvent{Amount: 400}
	f := ExtractFeatures(nil, profile, tx, 7, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC))

	// Baseline avg 200, stddev 100; velocity prior mean 3 stddev 2.
	assert.InDelta(t, 2.0, f.AmountZScore, 1e-9)
	assert.InDelta(t, 2.0, f.VelocityZScore, 1e-9)
}

func TestExtractFeaturesFailedAttemptRatio(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 10
	profile.Auth.ConsecutiveFailures = 3

	f := ExtractFeatures(nil, profile, nil, 0, time.Now())
	assert.InDelta(t, 0.6, f.FailedAttemptRatio, 1e-9)
}

func TestExtractFeaturesTimeOfDay(t *testing.T) {
	night := ExtractFeatures(nil, nil, nil, 0, time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC))
	assert.True(t, night.IsUnusualHour)
	assert.False(t, night.IsWeekend)

	saturday := ExtractFeatures(nil, nil, nil, 0, time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC))
	assert.False(t, saturday.IsUnusualHour)
	assert.True(t, saturday.IsWeekend)
}

func TestExtractFeaturesNoveltyAgainstProfile(t *testing.T) {
	now := time.Now()
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.UsualLocations.Touch("MZ/Maputo", now)
	profile.UsualDevices.Touch("dev-1", now)

	known := &models.AuthContext{
		Location: &models.LocationData{CountryCode: "MZ", City: "Maputo"},
		Device:   &models.DeviceFingerprint{DeviceID: "dev-1"},
	}
	f := ExtractFeatures(known, profile, nil, 0, now)
	assert.False(t, f.IsNewLocation)
	assert.False(t, f.IsNewDevice)

	unknown := &models.AuthContext{
		Location: &models.LocationData{CountryCode: "ZA", City: "Johannesburg"},
		Device:   &models.DeviceFingerprint{DeviceID: "dev-2"},
	}
	f = ExtractFeatures(unknown, profile, nil, 0, now)
	assert.True(t, f.IsNewLocation)
	assert.True(t, f.IsNewDevice)
}

func TestExtractFeaturesDistanceFromLastSuccess(t *testing.T) {
	now := time.Now()
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.LastSuccessAt = now.Add(-90 * time.Minute)
	profile.Auth.LastLocation = &models.LocationData{
		CountryCode: "AO", City: "Luanda", Latitude: -8.8390, Longitude: 13.2894,
	}

	auth := &models.AuthContext{
		Location: &models.LocationData{
			CountryCode: "BR", City: "São Paulo", Latitude: -23.5505, Longitude: -46.6333,
		},
	}
	f := ExtractFeatures(auth, profile, nil, 0, now)

	assert.InDelta(t, 6400, f.DistanceFromLastKm, 300)
	assert.InDelta(t, 1.5, f.HoursSinceLast, 0.01)
}

func TestExtractFeaturesNetworkAndTenant(t *testing.T) {
	auth := &models.AuthContext{
		Location: &models.LocationData{CountryCode: "CD", IsVPN: true},
		Tenant:   &models.TenantConfig{HighRiskCountries: []string{"CD"}},
	}

	f := ExtractFeatures(auth, nil, nil, 0, time.Now())
	assert.True(t, f.IsVPNOrProxy)
	assert.True(t, f.IsHighRiskCountry)
}

func TestExtractFeaturesNilInputsNeutral(t *testing.T) {
	f := ExtractFeatures(nil, nil, nil, 0, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC))
	assert.Equal(t, &Features{}, f)
}

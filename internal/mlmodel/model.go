package mlmodel

import (
	"context"
	"math"
	"time"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
)

// Features is the fixed-size vector every model consumes. Extraction is
// deterministic; models never see raw events.
type Features struct {
	AmountZScore       float64 `json:"amount_z_score"`
	VelocityZScore     float64 `json:"velocity_z_score"`
	FailedAttemptRatio float64 `json:"failed_attempt_ratio"`
	DistanceFromLastKm float64 `json:"distance_from_last_km"`
	HoursSinceLast     float64 `json:"hours_since_last"`

	IsNewLocation     bool `json:"is_new_location"`
	IsNewDevice       bool `json:"is_new_device"`
	IsHighRiskCountry bool `json:"is_high_risk_country"`
	IsVPNOrProxy      bool `json:"is_vpn_or_proxy"`
	IsUnusualHour     bool `json:"is_unusual_hour"`
	IsWeekend         bool `json:"is_weekend"`

	DocumentExpired       bool `json:"document_expired"`
	DocumentFormatInvalid bool `json:"document_format_invalid"`
}

// Prediction is a model output: fraud probability plus the model's own
// confidence in it.
type Prediction struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Anomalies  []string `json:"anomalies,omitempty"`
	Version    string   `json:"model_version"`
}

// Model scores a feature vector. Implementations must be safe for concurrent
// use; the consumers share one instance.
type Model interface {
	Predict(ctx context.Context, features *Features) (*Prediction, error)
	Version() string
}

// LogisticModel is the built-in scorer: a weighted sigmoid ensemble over the
// feature vector. It stands in where no trained model endpoint is deployed.
type LogisticModel struct {
	version string
}

func NewLogisticModel() *LogisticModel {
	return &LogisticModel{version: "logistic-v1"}
}

func (m *LogisticModel) Version() string { return m.version }

func (m *LogisticModel) Predict(_ context.Context, f *Features) (*Prediction, error) {
	var score float64
	var anomalies []string

	amountRisk := sigmoid(f.AmountZScore - 2)
	score += 0.20 * amountRisk
	if f.AmountZScore > 2.5 {
		anomalies = append(anomalies, "amount_spike")
	}

	velocityRisk := sigmoid(f.VelocityZScore - 1.5)
	score += 0.15 * velocityRisk
	if f.VelocityZScore > 2 {
		anomalies = append(anomalies, "velocity_burst")
	}

	score += 0.15 * clamp01(f.FailedAttemptRatio)

	var locationRisk float64
	if f.IsNewLocation {
		locationRisk += 0.3
	}
	if f.IsHighRiskCountry {
		locationRisk += 0.5
	}
	if f.IsVPNOrProxy {
		locationRisk += 0.3
	}
	if f.DistanceFromLastKm > 500 && f.HoursSinceLast < 2 {
		locationRisk += 0.4
		anomalies = append(anomalies, "impossible_travel")
	}
	score += 0.20 * clamp01(locationRisk)

	var timeRisk float64
	if f.IsUnusualHour {
		timeRisk += 0.3
	}
	if f.IsWeekend {
		timeRisk += 0.2
	}
	score += 0.10 * clamp01(timeRisk)

	var deviceRisk float64
	if f.IsNewDevice {
		deviceRisk += 0.5
	}
	score += 0.10 * clamp01(deviceRisk)

	var documentRisk float64
	if f.DocumentExpired {
		documentRisk += 0.6
		anomalies = append(anomalies, "document_expired")
	}
	if f.DocumentFormatInvalid {
		documentRisk += 0.8
		anomalies = append(anomalies, "document_format_invalid")
	}
	score += 0.10 * clamp01(documentRisk)

	return &Prediction{
		Score:      clamp01(score),
		Confidence: 0.85,
		Anomalies:  anomalies,
		Version:    m.version,
	}, nil
}

// Historical velocity statistics are approximated with fixed priors until
// per-user velocity baselines are tracked.
const (
	velocityPriorMean   = 3.0
	velocityPriorStdDev = 2.0
)

// ExtractFeatures builds the feature vector from the enriched context. Any of
// the inputs may be nil or zero; absent facts yield neutral features.
// txPerHour is the size of the user's sliding transaction window.
func ExtractFeatures(auth *models.AuthContext, profile *contextstore.BehavioralProfile, tx *models.TransactionEvent, txPerHour int, now time.Time) *Features {
	f := &Features{}

	hour := now.Hour()
	f.IsUnusualHour = hour >= 0 && hour < 6
	wd := now.Weekday()
	f.IsWeekend = wd == time.Saturday || wd == time.Sunday

	if tx != nil && profile != nil {
		if stddev := profile.TxBaseline.StdDev; stddev > 0 {
			f.AmountZScore = (tx.Amount - profile.TxBaseline.Avg) / stddev
		}
	}
	if txPerHour > 0 {
		f.VelocityZScore = (float64(txPerHour) - velocityPriorMean) / velocityPriorStdDev
	}

	if profile != nil {
		if profile.Auth.TotalAttempts > 0 {
			f.FailedAttemptRatio = float64(profile.Auth.ConsecutiveFailures) / 5
		}
		if auth != nil && auth.Location != nil {
			key := auth.Location.CountryCode + "/" + auth.Location.City
			f.IsNewLocation = !profile.UsualLocations.Contains(key)
		}
		if auth != nil && auth.Device != nil {
			f.IsNewDevice = !profile.UsualDevices.Contains(auth.Device.DeviceID)
		}
		if auth != nil && auth.Location != nil && profile.Auth.LastLocation != nil && !profile.Auth.LastSuccessAt.IsZero() {
			f.DistanceFromLastKm = haversineKm(
				profile.Auth.LastLocation.Latitude, profile.Auth.LastLocation.Longitude,
				auth.Location.Latitude, auth.Location.Longitude,
			)
			f.HoursSinceLast = now.Sub(profile.Auth.LastSuccessAt).Hours()
		}
	}

	if auth != nil && auth.Location != nil {
		f.IsVPNOrProxy = auth.Location.IsVPN || auth.Location.IsProxy || auth.Location.IsTor
		if auth.Tenant != nil {
			f.IsHighRiskCountry = auth.Tenant.IsHighRiskCountry(auth.Location.CountryCode)
		}
	}

	return f
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

const earthRadiusKm = 6371

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

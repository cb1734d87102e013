package processors

import (
	"math"

	"github.com/trustguard/riskcore/internal/models"
)

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two coordinates in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// GeoVelocityProcessor detects impossible travel between the previous
// successful authentication and the current attempt. Without a prior location
// it emits nothing.
type GeoVelocityProcessor struct{}

func NewGeoVelocityProcessor() *GeoVelocityProcessor {
	return &GeoVelocityProcessor{}
}

func (p *GeoVelocityProcessor) Name() string { return "geo_velocity" }

func (p *GeoVelocityProcessor) Process(userID string, in *Input) []models.RiskSignal {
	if in.Policy != nil && !in.Policy.Toggles.ImpossibleTravel {
		return nil
	}
	loc := in.Auth.Location
	if loc == nil || in.Profile == nil {
		return nil
	}
	prev := in.Profile.Auth.LastLocation
	if prev == nil || in.Profile.Auth.LastSuccessAt.IsZero() {
		return nil
	}

	elapsed := in.Auth.Timestamp.Sub(in.Profile.Auth.LastSuccessAt).Hours()
	if elapsed <= 0 {
		return nil
	}

	distance := Haversine(prev.Latitude, prev.Longitude, loc.Latitude, loc.Longitude)
	speed := distance / elapsed

	threshold := 900.0
	if in.Policy != nil && in.Policy.GeoVelocityThreshold > 0 {
		threshold = in.Policy.GeoVelocityThreshold
	}
	if speed < threshold {
		return nil
	}

	return []models.RiskSignal{{
		Type:       "geo_velocity",
		Value:      0.95,
		Confidence: 0.85,
		Timestamp:  in.Auth.Timestamp,
	}}
}

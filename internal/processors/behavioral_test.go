package processors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/policy"
)

var behavioralClock = time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)

func behavioralInput(profile *contextstore.BehavioralProfile, loc *models.LocationData, device *models.DeviceFingerprint, ts time.Time) *Input {
	pol := policy.DefaultPolicy()
	return &Input{
		Auth: &models.AuthContext{
			UserID:    "u1",
			TenantID:  "t1",
			Location:  loc,
			Device:    device,
			Timestamp: ts,
		},
		Profile: profile,
		Policy:  &pol,
	}
}

func TestBehavioralNoBaseline(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	in := behavioralInput(profile, &saoPaulo, nil, behavioralClock)

	assert.Empty(t, NewBehavioralProcessor().Process("u1", in))
}

func TestBehavioralUnseenLocation(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 40
	profile.UsualLocations.Touch("AO/Luanda", behavioralClock.Add(-24*time.Hour))

	in := behavioralInput(profile, &saoPaulo, nil, behavioralClock)
	signals := NewBehavioralProcessor().Process("u1", in)

	require.Len(t, signals, 1)
	assert.Equal(t, "behavioral", signals[0].Type)
	assert.InDelta(t, 0.35, signals[0].Value, 1e-9)
	// Confidence grows with the baseline sample size.
	assert.InDelta(t, 0.7, signals[0].Confidence, 1e-9)
}

func TestBehavioralFamiliarContextQuiet(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 40
	profile.UsualLocations.Touch("AO/Luanda", behavioralClock.Add(-24*time.Hour))
	profile.UsualDevices.Touch("dev-1", behavioralClock.Add(-24*time.Hour))
	for h := range profile.UsualHours {
		profile.UsualHours[h] = 10
	}
	for d := range profile.UsualDays {
		profile.UsualDays[d] = 10
	}

	in := behavioralInput(profile, &luanda, &models.DeviceFingerprint{DeviceID: "dev-1"}, behavioralClock)
	assert.Empty(t, NewBehavioralProcessor().Process("u1", in))
}

func TestBehavioralTimeOfDayDeviation(t *testing.T) {
	at := time.Date(2026, 4, 10, 3, 0, 0, 0, time.UTC)
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 200
	// Every hour and day is well used except the ones being tested, so the
	// current bucket sits more than two sigma below the mean.
	for h := range profile.UsualHours {
		profile.UsualHours[h] = 10
	}
	profile.UsualHours[at.Hour()] = 0
	for d := range profile.UsualDays {
		profile.UsualDays[d] = 10
	}
	profile.UsualDays[int(at.Weekday())] = 0

	in := behavioralInput(profile, nil, nil, at)
	signals := NewBehavioralProcessor().Process("u1", in)

	require.Len(t, signals, 1)
	assert.InDelta(t, 0.6, signals[0].Value, 1e-9)
	assert.InDelta(t, 0.95, signals[0].Confidence, 1e-9)
}

func TestBehavioralRecentWindowSuppressesNovelty(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 40
	profile.UsualLocations.Touch("AO/Luanda", behavioralClock.Add(-24*time.Hour))

	in := behavioralInput(profile, &saoPaulo, nil, behavioralClock)
	in.Recent = []models.Event{{
		Kind: models.EventAuthentication,
		Auth: &models.AuthenticationEvent{Location: &saoPaulo},
	}}

	assert.Empty(t, NewBehavioralProcessor().Process("u1", in))
}

func TestBehavioralValueCapped(t *testing.T) {
	at := time.Date(2026, 4, 10, 3, 0, 0, 0, time.UTC)
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 200
	profile.UsualLocations.Touch("AO/Luanda", at.Add(-24*time.Hour))
	profile.UsualDevices.Touch("dev-1", at.Add(-24*time.Hour))
	for h := range profile.UsualHours {
		profile.UsualHours[h] = 10
	}
	profile.UsualHours[at.Hour()] = 0
	for d := range profile.UsualDays {
		profile.UsualDays[d] = 10
	}
	profile.UsualDays[int(at.Weekday())] = 0

	// Two sigma deviations plus an unseen location and device would exceed 1.
	in := behavioralInput(profile, &saoPaulo, &models.DeviceFingerprint{DeviceID: "dev-9"}, at)
	signals := NewBehavioralProcessor().Process("u1", in)

	require.Len(t, signals, 1)
	assert.InDelta(t, 1.0, signals[0].Value, 1e-9)
}

func TestBehavioralToggleDisables(t *testing.T) {
	profile := contextstore.NewProfile("u1", "t1", 10)
	profile.Auth.TotalAttempts = 40

	in := behavioralInput(profile, &saoPaulo, nil, behavioralClock)
	in.Policy.Toggles.Behavioral = false

	assert.Empty(t, NewBehavioralProcessor().Process("u1", in))
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventTimestamp(t *testing.T) {
	rfc := "2026-03-03T14:30:00.123Z"
	want := time.Date(2026, 3, 3, 14, 30, 0, 123_000_000, time.UTC)

	tests := []struct {
		name string
		raw  interface{}
		want time.Time
		err  bool
	}{
		{"rfc3339 nano", rfc, want, false},
		{"numeric string millis", "1700000000000", time.UnixMilli(1700000000000), false},
		{"float64 millis", float64(1700000000000), time.UnixMilli(1700000000000), false},
		{"int64 millis", int64(1700000000000), time.UnixMilli(1700000000000), false},
		{"garbage string", "yesterday", time.Time{}, true},
		{"nil", nil, time.Time{}, true},
		{"bool", true, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEventTimestamp(tt.raw)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func validAuthEvent() *Event {
	return &Event{
		Kind:      EventAuthentication,
		EventID:   "evt-1",
		UserID:    "u1",
		TenantID:  "t1",
		Timestamp: time.Now(),
		Auth:      &AuthenticationEvent{Success: true, Method: "password", IP: "203.0.113.9"},
	}
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, validAuthEvent().Validate())

	missingID := validAuthEvent()
	missingID.EventID = ""
	assert.ErrorContains(t, missingID.Validate(), "event_id")

	missingUser := validAuthEvent()
	missingUser.UserID = ""
	assert.ErrorContains(t, missingUser.Validate(), "user_id")

	missingTenant := validAuthEvent()
	missingTenant.TenantID = ""
	assert.ErrorContains(t, missingTenant.Validate(), "tenant_id")

	zeroTime := validAuthEvent()
	zeroTime.Timestamp = time.Time{}
	assert.ErrorContains(t, zeroTime.Validate(), "timestamp")

	wrongVariant := validAuthEvent()
	wrongVariant.Kind = EventTransaction
	assert.ErrorContains(t, wrongVariant.Validate(), "without variant payload")

	unknownKind := validAuthEvent()
	unknownKind.Kind = EventKind("telemetry")
	assert.ErrorContains(t, unknownKind.Validate(), "unknown kind")
}

func TestRiskSignalNumericValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  float64
		ok    bool
	}{
		{"float64", 0.75, 0.75, true},
		{"float32", float32(0.5), 0.5, true},
		{"int", 1, 1, true},
		{"int64", int64(2), 2, true},
		{"bool true", true, 1, true},
		{"bool false", false, 0, true},
		{"json number", json.Number("0.42"), 0.42, true},
		{"bad json number", json.Number("abc"), 0, false},
		{"string", "high", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RiskSignal{Type: "x", Value: tt.value}.NumericValue()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestLevelForTiesGoUp(t *testing.T) {
	p := &AdaptivePolicy{Thresholds: RiskThresholds{Medium: 0.3, High: 0.6, Critical: 0.8}}

	assert.Equal(t, RiskLevelLow, p.LevelFor(0.29))
	assert.Equal(t, RiskLevelMedium, p.LevelFor(0.3))
	assert.Equal(t, RiskLevelHigh, p.LevelFor(0.6))
	assert.Equal(t, RiskLevelCritical, p.LevelFor(0.8))
	assert.Equal(t, RiskLevelCritical, p.LevelFor(1.0))
}

func TestRiskLevelStrings(t *testing.T) {
	assert.Equal(t, "medium", RiskLevelMedium.String())
	assert.Equal(t, "unknown", RiskLevel(9).String())

	level, err := ParseRiskLevel("critical")
	require.NoError(t, err)
	assert.Equal(t, RiskLevelCritical, level)

	_, err = ParseRiskLevel("severe")
	assert.Error(t, err)
}

func TestRiskLevelJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(RiskLevelHigh)
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))

	var level RiskLevel
	require.NoError(t, json.Unmarshal([]byte(`"low"`), &level))
	assert.Equal(t, RiskLevelLow, level)

	assert.Error(t, json.Unmarshal([]byte(`"severe"`), &level))
}

func TestSeverityForLevel(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityForLevel(RiskLevelLow))
	assert.Equal(t, SeverityMedium, SeverityForLevel(RiskLevelMedium))
	assert.Equal(t, SeverityHigh, SeverityForLevel(RiskLevelHigh))
	assert.Equal(t, SeverityCritical, SeverityForLevel(RiskLevelCritical))
}

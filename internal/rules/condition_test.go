package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/models"
)

// Tuesday 2026-03-03 14:30 UTC: a weekday inside business hours.
var tuesdayAfternoon = time.Date(2026, 3, 3, 14, 30, 0, 0, time.UTC)

// Saturday 2026-03-07 03:00 UTC.
var saturdayNight = time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC)

func envAt(now time.Time, fields map[string]interface{}) *Env {
	return &Env{Fields: fields, Now: now}
}

func TestThresholdOperators(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{
		"amount":  1500.0,
		"count":   3,
		"city":    "Maputo",
		"trusted": false,
	})

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt true", Condition{Type: "threshold", Field: "amount", Operator: ">", Value: 1000}, true},
		{"gt false", Condition{Type: "threshold", Field: "amount", Operator: ">", Value: 2000}, false},
		{"lt", Condition{Type: "threshold", Field: "count", Operator: "<", Value: 5}, true},
		{"gte boundary", Condition{Type: "threshold", Field: "amount", Operator: ">=", Value: 1500}, true},
		{"lte boundary", Condition{Type: "threshold", Field: "amount", Operator: "<=", Value: 1500}, true},
		{"eq number", Condition{Type: "threshold", Field: "count", Operator: "=", Value: 3.0}, true},
		{"eq string", Condition{Type: "threshold", Field: "city", Operator: "==", Value: "Maputo"}, true},
		{"eq bool", Condition{Type: "threshold", Field: "trusted", Operator: "=", Value: false}, true},
		{"neq", Condition{Type: "threshold", Field: "city", Operator: "!=", Value: "Beira"}, true},
		{"missing field", Condition{Type: "threshold", Field: "absent", Operator: ">", Value: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThresholdUnknownOperator(t *testing.T) {
	cond := Condition{Type: "threshold", Field: "amount", Operator: "~", Value: 1}
	_, err := cond.Evaluate(envAt(tuesdayAfternoon, map[string]interface{}{"amount": 1.0}))
	assert.Error(t, err)
}

func TestCompoundConditions(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{"amount": 1500.0, "is_vpn": true})

	over := Condition{Type: "threshold", Field: "amount", Operator: ">", Value: 1000}
	under := Condition{Type: "threshold", Field: "amount", Operator: "<", Value: 1000}
	vpn := Condition{Type: "threshold", Field: "is_vpn", Operator: "=", Value: true}

	and := Condition{Type: "compound", Operator: "AND", Conditions: []Condition{over, vpn}}
	got, err := and.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	andFail := Condition{Type: "compound", Operator: "AND", Conditions: []Condition{under, vpn}}
	got, err = andFail.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	or := Condition{Type: "compound", Operator: "OR", Conditions: []Condition{under, vpn}}
	got, err = or.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	empty := Condition{Type: "compound", Operator: "AND"}
	got, err = empty.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	bad := Condition{Type: "compound", Operator: "XOR", Conditions: []Condition{over}}
	_, err = bad.Evaluate(env)
	assert.Error(t, err)
}

func TestNotCondition(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{"amount": 100.0})
	inner := Condition{Type: "threshold", Field: "amount", Operator: ">", Value: 1000}

	not := Condition{Type: "not", Conditions: []Condition{inner}}
	got, err := not.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	arity := Condition{Type: "not", Conditions: []Condition{inner, inner}}
	_, err = arity.Evaluate(env)
	assert.Error(t, err)
}

func TestTimeRangeCondition(t *testing.T) {
	cond := Condition{Type: "time_range", Start: 0, End: 6}

	got, err := cond.Evaluate(envAt(saturdayNight, nil))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = cond.Evaluate(envAt(tuesdayAfternoon, nil))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestInListCondition(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{"service": "m-pesa", "count": 3})
	cond := Condition{Type: "in_list", Field: "service", Values: []string{"m-pesa", "e-mola"}}

	got, err := cond.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	cond.Values = []string{"pix"}
	got, err = cond.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	// Non-string fields never match.
	nonString := Condition{Type: "in_list", Field: "count", Values: []string{"3"}}
	got, err = nonString.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestStringConditions(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{"isp": "Angola Cables"})

	contains := Condition{Type: "contains", Field: "isp", Value: "Cable"}
	got, err := contains.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	emptyNeedle := Condition{Type: "contains", Field: "isp", Value: ""}
	got, err = emptyNeedle.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	prefix := Condition{Type: "starts_with", Field: "isp", Value: "Angola"}
	got, err = prefix.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPatternConditionIsAnchored(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{"doc": "123", "long": "1234"})
	cond := Condition{Type: "pattern", Field: "doc", Pattern: `[0-9]{3}`}

	got, err := cond.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	cond.Field = "long"
	got, err = cond.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	bad := Condition{Type: "pattern", Field: "doc", Pattern: `([0-9`}
	_, err = bad.Evaluate(env)
	assert.Error(t, err)
}

func TestClockConditions(t *testing.T) {
	business := Condition{Type: "business_hours"}
	weekend := Condition{Type: "weekend"}

	got, err := business.Evaluate(envAt(tuesdayAfternoon, nil))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = business.Evaluate(envAt(saturdayNight, nil))
	require.NoError(t, err)
	assert.False(t, got)

	got, err = weekend.Evaluate(envAt(saturdayNight, nil))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = weekend.Evaluate(envAt(tuesdayAfternoon, nil))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestHighRiskCountryCondition(t *testing.T) {
	cond := Condition{Type: "high_risk_country", Field: "location.country_code"}
	tenant := &models.TenantConfig{TenantID: "t1", HighRiskCountries: []string{"KP", "CD"}}

	env := &Env{
		Fields: map[string]interface{}{"location.country_code": "CD"},
		Now:    tuesdayAfternoon,
		Tenant: tenant,
	}
	got, err := cond.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	env.Fields["location.country_code"] = "PT"
	got, err = cond.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	env.Tenant = nil
	env.Fields["location.country_code"] = "CD"
	got, err = cond.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestTimeDiffMinutesCondition(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{
		"profile.last_success_at": tuesdayAfternoon.Add(-30 * time.Minute),
	})

	cond := Condition{Type: "time_diff_minutes", Field: "profile.last_success_at", Operator: ">", Value: 10}
	got, err := cond.Evaluate(env)
	require.NoError(t, err)
	assert.True(t, got)

	cond.Value = 60
	got, err = cond.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)

	cond.Field = "missing"
	got, err = cond.Evaluate(env)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestUnknownConditionType(t *testing.T) {
	cond := Condition{Type: "fuzzy_match"}
	_, err := cond.Evaluate(envAt(tuesdayAfternoon, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition type")
}

func TestGetOrDefault(t *testing.T) {
	env := envAt(tuesdayAfternoon, map[string]interface{}{"present": 1})
	assert.Equal(t, 1, env.GetOrDefault("present", 0))
	assert.Equal(t, 0, env.GetOrDefault("absent", 0))
}

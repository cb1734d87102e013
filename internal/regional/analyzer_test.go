package regional

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/models"
)

func analyzerFor(t *testing.T, region string) Analyzer {
	t.Helper()
	a, ok := NewRegistry().Get(region)
	require.True(t, ok)
	return a
}

func flagNames(flags []TxFlag) []string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		names = append(names, f.Name)
	}
	return names
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	registry := NewRegistry()
	for _, code := range []string{"AO", "br", "Mz", "pt"} {
		_, ok := registry.Get(code)
		assert.True(t, ok, code)
	}
	_, ok := registry.Get("US")
	assert.False(t, ok)
}

// txClock is an unremarkable weekday afternoon, clear of every region's
// unusual-hour window.
var txClock = time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)

func TestAnalyzeTransactionVelocityExceeded(t *testing.T) {
	br := analyzerFor(t, "BR")
	now := txClock

	// pix allows 15 per hour; 15 prior plus this one breaches the limit.
	history := make([]HistoryEntry, 0, 15)
	for i := 0; i < 15; i++ {
		history = append(history, HistoryEntry{
			Tx: models.TransactionEvent{TransactionID: fmt.Sprintf("tx-%d", i), Service: "pix", Amount: 50},
			At: now.Add(-time.Duration(i+1) * 3 * time.Minute),
		})
	}

	out := br.AnalyzeTransaction(&models.TransactionEvent{
		TransactionID: "tx-now", Service: "pix", Amount: 50,
	}, now, history)

	assert.Contains(t, flagNames(out.Flags), "velocity_exceeded")
	assert.Equal(t, models.VerdictReview, out.Recommendation)
}

func TestAnalyzeTransactionVelocityIgnoresOldHistory(t *testing.T) {
	br := analyzerFor(t, "BR")
	now := txClock

	history := make([]HistoryEntry, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, HistoryEntry{
			Tx: models.TransactionEvent{Service: "pix"},
			At: now.Add(-2 * time.Hour),
		})
	}

	out := br.AnalyzeTransaction(&models.TransactionEvent{Service: "pix", Amount: 50}, now, history)
	assert.NotContains(t, flagNames(out.Flags), "velocity_exceeded")
}

func TestAnalyzeTransactionRapidCashInCashOut(t *testing.T) {
	mz := analyzerFor(t, "MZ")
	now := txClock

	history := []HistoryEntry{{
		Tx: models.TransactionEvent{
			TransactionID: "tx-in", Service: "m-pesa",
			Direction: "cash_in", AgentID: "agent-7", Amount: 5000,
		},
		At: now.Add(-9 * time.Minute),
	}}

	out := mz.AnalyzeTransaction(&models.TransactionEvent{
		TransactionID: "tx-out", Service: "m-pesa",
		Direction: "cash_out", AgentID: "agent-7", Amount: 5000,
	}, now, history)

	names := flagNames(out.Flags)
	assert.Contains(t, names, "rapid_cash_in_cash_out")
	assert.Contains(t, names, "same_agent_cash_in_out")
	assert.InDelta(t, 0.75, out.Risk, 1e-9)
	assert.Equal(t, models.VerdictReview, out.Recommendation)
}

func TestAnalyzeTransactionCashOutDifferentAgent(t *testing.T) {
	mz := analyzerFor(t, "MZ")
	now := txClock

	history := []HistoryEntry{{
		Tx: models.TransactionEvent{Service: "m-pesa", Direction: "cash_in", AgentID: "agent-1"},
		At: now.Add(-5 * time.Minute),
	}}

	out := mz.AnalyzeTransaction(&models.TransactionEvent{
		Service: "m-pesa", Direction: "cash_out", AgentID: "agent-2", Amount: 100,
	}, now, history)

	names := flagNames(out.Flags)
	assert.Contains(t, names, "rapid_cash_in_cash_out")
	assert.NotContains(t, names, "same_agent_cash_in_out")
}

func TestAnalyzeTransactionCashOutOutsideWindow(t *testing.T) {
	mz := analyzerFor(t, "MZ")
	now := txClock

	history := []HistoryEntry{{
		Tx: models.TransactionEvent{Service: "m-pesa", Direction: "cash_in", AgentID: "agent-1"},
		At: now.Add(-25 * time.Minute),
	}}

	out := mz.AnalyzeTransaction(&models.TransactionEvent{
		Service: "m-pesa", Direction: "cash_out", AgentID: "agent-1", Amount: 100,
	}, now, history)

	assert.NotContains(t, flagNames(out.Flags), "rapid_cash_in_cash_out")
}

func TestAnalyzeTransactionAmountLimit(t *testing.T) {
	pt := analyzerFor(t, "PT")

	out := pt.AnalyzeTransaction(&models.TransactionEvent{Service: "mbway", Amount: 1000}, txClock, nil)
	assert.Contains(t, flagNames(out.Flags), "amount_limit_exceeded")

	out = pt.AnalyzeTransaction(&models.TransactionEvent{Service: "mbway", Amount: 750}, txClock, nil)
	assert.NotContains(t, flagNames(out.Flags), "amount_limit_exceeded")
}

func TestAnalyzeTransactionUnusualHour(t *testing.T) {
	br := analyzerFor(t, "BR")
	at := time.Date(2026, 4, 10, 3, 0, 0, 0, time.UTC)

	out := br.AnalyzeTransaction(&models.TransactionEvent{Service: "pix", Amount: 50}, at, nil)
	assert.Equal(t, []string{"unusual_hour"}, flagNames(out.Flags))
	assert.InDelta(t, 0.3, out.Risk, 1e-9)
	assert.Equal(t, models.VerdictAllow, out.Recommendation)
}

func TestAnalyzeTransactionCrossOperator(t *testing.T) {
	mz := analyzerFor(t, "MZ")
	now := txClock

	history := []HistoryEntry{{
		Tx: models.TransactionEvent{Service: "m-pesa", Operator: "vodacom"},
		At: now.Add(-20 * time.Minute),
	}}

	out := mz.AnalyzeTransaction(&models.TransactionEvent{
		Service: "m-pesa", Operator: "movitel", Amount: 100,
	}, now, history)

	assert.Contains(t, flagNames(out.Flags), "cross_operator")
}

func TestAnalyzeTransactionBlockRecommendation(t *testing.T) {
	mz := analyzerFor(t, "MZ")
	now := txClock

	history := []HistoryEntry{{
		Tx: models.TransactionEvent{Service: "m-pesa", Direction: "cash_in", AgentID: "agent-7"},
		At: now.Add(-5 * time.Minute),
	}}

	// Over the 25k limit plus a rapid same-agent cash-out pushes past 0.85.
	out := mz.AnalyzeTransaction(&models.TransactionEvent{
		Service: "m-pesa", Direction: "cash_out", AgentID: "agent-7", Amount: 30000,
	}, now, history)

	assert.GreaterOrEqual(t, out.Risk, 0.85)
	assert.Equal(t, models.VerdictBlock, out.Recommendation)
}

func TestAnalyzeTransactionUnknownServiceNoLimits(t *testing.T) {
	mz := analyzerFor(t, "MZ")

	out := mz.AnalyzeTransaction(&models.TransactionEvent{Service: "wire", Amount: 10_000_000}, txClock, nil)
	assert.Empty(t, out.Flags)
	assert.Equal(t, models.VerdictAllow, out.Recommendation)
}

func TestValidatePhone(t *testing.T) {
	ao := analyzerFor(t, "AO")
	mz := analyzerFor(t, "MZ")

	tests := []struct {
		analyzer Analyzer
		number   string
		valid    bool
		operator string
		format   string
	}{
		{ao, "+244 923 456 789", true, "unitel", "e164"},
		{ao, "00244991234567", true, "movicel", "international"},
		{ao, "951234567", true, "africell", "local"},
		{ao, "12345678", false, "", "local"},
		{ao, "9234567xx", false, "", "local"},
		{mz, "+258841234567", true, "vodacom", "e164"},
		{mz, "861234567", true, "movitel", "local"},
		{mz, "791234567", false, "", "local"},
	}
	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			out := tt.analyzer.ValidatePhone(tt.number)
			assert.Equal(t, tt.valid, out.Valid)
			assert.Equal(t, tt.operator, out.Operator)
			assert.Equal(t, tt.format, out.Format)
		})
	}
}

func TestAnalyzeLocation(t *testing.T) {
	br := analyzerFor(t, "BR")

	foreign := br.AnalyzeLocation(&models.LocationData{CountryCode: "US", City: "Miami"})
	assert.Contains(t, foreign.Flags, "foreign_location")
	assert.InDelta(t, 0.3, foreign.Risk, 1e-9)

	border := br.AnalyzeLocation(&models.LocationData{CountryCode: "BR", City: "Foz do Iguaçu"})
	assert.Contains(t, border.Flags, "high_risk_area")
	assert.Contains(t, border.Flags, "border_area")
	assert.True(t, border.IsHighRisk)
	assert.InDelta(t, 0.6, border.Risk, 1e-9)

	urban := br.AnalyzeLocation(&models.LocationData{CountryCode: "BR", City: "são paulo"})
	assert.True(t, urban.IsUrban)
	assert.Zero(t, urban.Risk)

	assert.Zero(t, br.AnalyzeLocation(nil).Risk)
}

func TestAnalyzeDevice(t *testing.T) {
	ao := analyzerFor(t, "AO")

	out := ao.AnalyzeDevice(&models.DeviceFingerprint{
		DeviceID:   "dev-1",
		IsRooted:   true,
		IsEmulator: true,
		Carrier:    "t-mobile",
		Language:   "ru-RU",
	})

	assert.ElementsMatch(t, []string{"rooted_device", "emulator", "unknown_carrier", "unusual_language"}, out.Flags)
	assert.InDelta(t, 1.0, out.Risk, 1e-9)

	clean := ao.AnalyzeDevice(&models.DeviceFingerprint{
		DeviceID: "dev-2",
		Carrier:  "Unitel",
		Language: "pt-AO",
	})
	assert.Empty(t, clean.Flags)
	assert.Zero(t, clean.Risk)
}

func TestMergeOverlaysAppliesRegionalRules(t *testing.T) {
	registry := NewRegistry()
	cfg := &models.TenantConfig{
		TenantID: "t1",
		Regions:  []string{"AO", "BR"},
	}

	require.NoError(t, registry.MergeOverlays(cfg))

	// AO contributes CD as high risk; BR raises the velocity weight.
	assert.True(t, cfg.IsHighRiskCountry("CD"))
	assert.InDelta(t, 0.25, cfg.Policy.SignalWeights["velocity_exceeded"], 1e-9)
}

func TestMergeOverlaysTenantOverlayWins(t *testing.T) {
	registry := NewRegistry()
	cfg := &models.TenantConfig{
		TenantID: "t1",
		Regions:  []string{"BR"},
		RegionOverlays: map[string]models.PolicyOverlay{
			"BR": {
				GeoVelocityThreshold: 700,
				SignalWeights:        map[string]float64{"velocity_exceeded": 0.4},
			},
		},
	}

	require.NoError(t, registry.MergeOverlays(cfg))
	assert.InDelta(t, 700, cfg.Policy.GeoVelocityThreshold, 1e-9)
	assert.InDelta(t, 0.4, cfg.Policy.SignalWeights["velocity_exceeded"], 1e-9)
}

func TestMergeOverlaysUnknownRegion(t *testing.T) {
	registry := NewRegistry()
	cfg := &models.TenantConfig{TenantID: "t1", Regions: []string{"XX"}}
	assert.Error(t, registry.MergeOverlays(cfg))
}

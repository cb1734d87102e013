package contextstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/models"
)

func TestTopKListBoundAndOrdering(t *testing.T) {
	list := NewTopKList(2)
	base := time.Now()

	list.Touch("a", base)
	list.Touch("a", base.Add(time.Second))
	list.Touch("b", base.Add(2*time.Second))
	list.Touch("c", base.Add(3*time.Second))

	// a keeps the top slot on count; the b/c tie goes to the most recent.
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "a", list.Entries[0].Key)
	assert.Equal(t, int64(2), list.Entries[0].Count)
	assert.Equal(t, "c", list.Entries[1].Key)

	assert.True(t, list.Contains("a"))
	assert.True(t, list.Contains("c"))
	assert.False(t, list.Contains("b"))
}

func TestTopKListLastSeenOnlyMovesForward(t *testing.T) {
	list := NewTopKList(5)
	now := time.Now()

	list.Touch("a", now)
	list.Touch("a", now.Add(-time.Hour))

	assert.Equal(t, now, list.Entries[0].LastSeen)
	assert.Equal(t, int64(2), list.Entries[0].Count)
}

func TestTransactionBaselineRunningStats(t *testing.T) {
	var b TransactionBaseline
	b.Observe(100)
	b.Observe(200)
	b.Observe(300)

	assert.Equal(t, int64(3), b.Count)
	assert.InDelta(t, 200, b.Avg, 1e-9)
	assert.InDelta(t, 300, b.Max, 1e-9)
	// Sample standard deviation of {100, 200, 300}.
	assert.InDelta(t, 100, b.StdDev, 1e-9)
}

func TestTransactionBaselineSingleObservation(t *testing.T) {
	var b TransactionBaseline
	b.Observe(500)

	assert.InDelta(t, 500, b.Avg, 1e-9)
	assert.Zero(t, b.StdDev)
}

func TestProfileAppliesTransaction(t *testing.T) {
	profile := NewProfile("u1", "t1", 10)
	ts := time.Now()
	event := &models.Event{
		Kind:      models.EventTransaction,
		EventID:   "evt-1",
		UserID:    "u1",
		TenantID:  "t1",
		Timestamp: ts,
		Transaction: &models.TransactionEvent{
			TransactionID: "tx-1",
			Amount:        250,
			Location:      &models.LocationData{CountryCode: "MZ", City: "Beira"},
			Device:        &models.DeviceFingerprint{DeviceID: "dev-9"},
		},
	}

	profile.apply(event, nil)

	assert.Equal(t, int64(1), profile.TxBaseline.Count)
	assert.InDelta(t, 250, profile.TxBaseline.Avg, 1e-9)
	assert.True(t, profile.UsualLocations.Contains("MZ/Beira"))
	assert.True(t, profile.UsualDevices.Contains("dev-9"))
	assert.Equal(t, int64(1), profile.UsualHours[ts.Hour()])
}

func TestProfileRecentEventsDigestBounded(t *testing.T) {
	profile := NewProfile("u1", "t1", 10)
	now := time.Now()

	for i := 0; i < profileRecentEventsMax+5; i++ {
		profile.apply(authEvent("u1", now.Add(time.Duration(i)*time.Second), true), nil)
	}

	assert.Len(t, profile.RecentEvents, profileRecentEventsMax)
}

func TestRiskIndicatorsDeduplicated(t *testing.T) {
	profile := NewProfile("u1", "t1", 10)
	now := time.Now()

	profile.apply(authEvent("u1", now, true), []string{"amount_spike"})
	profile.apply(authEvent("u1", now, true), []string{"amount_spike", "velocity_burst"})

	assert.Equal(t, []string{"amount_spike", "velocity_burst"}, profile.RiskIndicators)
}

func TestDeviceTrustExpiry(t *testing.T) {
	profile := NewProfile("u1", "t1", 10)
	now := time.Now()

	profile.TrustDevice("dev-1", now.Add(-30*24*time.Hour))

	assert.True(t, profile.IsDeviceTrusted("dev-1", 90, now))
	assert.False(t, profile.IsDeviceTrusted("dev-1", 14, now))
	assert.False(t, profile.IsDeviceTrusted("dev-unknown", 90, now))
}

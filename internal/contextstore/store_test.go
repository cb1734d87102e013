package contextstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/internal/models"
)

// fakePersister is a ProfileStore test double with switchable failure modes.
type fakePersister struct {
	mu       sync.Mutex
	profiles map[string]*BehavioralProfile
	failLoad bool
	failSave bool
	saves    int
}

func newFakePersister() *fakePersister {
	return &fakePersister{profiles: make(map[string]*BehavioralProfile)}
}

func (f *fakePersister) LoadProfile(_ context.Context, userID string) (*BehavioralProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return nil, fmt.Errorf("connection refused")
	}
	return f.profiles[userID], nil
}

func (f *fakePersister) SaveProfile(_ context.Context, profile *BehavioralProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSave {
		return fmt.Errorf("connection refused")
	}
	f.profiles[profile.UserID] = profile
	return nil
}

func authEvent(userID string, ts time.Time, success bool) *models.Event {
	return &models.Event{
		Kind:      models.EventAuthentication,
		EventID:   "evt-" + userID + ts.Format("150405"),
		UserID:    userID,
		TenantID:  "t1",
		Timestamp: ts,
		Auth: &models.AuthenticationEvent{
			Success: success,
			Method:  "password",
			IP:      "203.0.113.9",
			Location: &models.LocationData{
				CountryCode: "MZ",
				City:        "Maputo",
				Latitude:    -25.9692,
				Longitude:   32.5732,
			},
			Device: &models.DeviceFingerprint{DeviceID: "dev-1"},
		},
	}
}

func TestGetProfileLazyCreate(t *testing.T) {
	store := New(Config{TopK: 5}, nil)

	profile := store.GetProfile(context.Background(), "u1", "t1")
	require.NotNil(t, profile)
	assert.Equal(t, "u1", profile.UserID)
	assert.Equal(t, "t1", profile.TenantID)
	assert.Equal(t, 5, profile.UsualLocations.K)
	assert.Equal(t, 1, store.TrackedUsers())

	// A second lookup serves the same tracked user, as a fresh snapshot.
	again := store.GetProfile(context.Background(), "u1", "t1")
	assert.NotSame(t, profile, again)
	assert.Equal(t, profile.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, store.TrackedUsers())
}

func TestGetProfileDegradedLoad(t *testing.T) {
	persister := newFakePersister()
	persister.failLoad = true
	store := New(Config{}, persister)

	profile := store.GetProfile(context.Background(), "u1", "t1")
	require.NotNil(t, profile)
	assert.Zero(t, profile.Auth.TotalAttempts)
	assert.Equal(t, int64(1), store.MetricsSnapshot()["profile_load_failures"])
}

func TestGetProfileLoadsPersisted(t *testing.T) {
	persister := newFakePersister()
	persister.profiles["u1"] = &BehavioralProfile{
		UserID:   "u1",
		TenantID: "t1",
		Auth:     AuthStats{TotalAttempts: 12},
	}
	store := New(Config{TopK: 7}, persister)

	profile := store.GetProfile(context.Background(), "u1", "t1")
	assert.Equal(t, int64(12), profile.Auth.TotalAttempts)
	// Persisted profiles from older snapshots get the configured K.
	assert.Equal(t, 7, profile.UsualLocations.K)
	assert.Equal(t, 7, profile.UsualDevices.K)
}

func TestUpdateProfileAuthStreaks(t *testing.T) {
	store := New(Config{}, nil)
	ctx := context.Background()
	now := time.Now()

	store.UpdateProfile(ctx, "u1", "t1", authEvent("u1", now.Add(-3*time.Minute), false), nil)
	store.UpdateProfile(ctx, "u1", "t1", authEvent("u1", now.Add(-2*time.Minute), false), nil)

	profile := store.GetProfile(ctx, "u1", "t1")
	assert.Equal(t, int64(2), profile.Auth.TotalAttempts)
	assert.Equal(t, int64(2), profile.Auth.Failures)
	assert.Equal(t, 2, profile.Auth.ConsecutiveFailures)
	assert.True(t, profile.Auth.LastSuccessAt.IsZero())

	success := authEvent("u1", now, true)
	store.UpdateProfile(ctx, "u1", "t1", success, []string{"velocity_burst"})

	profile = store.GetProfile(ctx, "u1", "t1")
	assert.Equal(t, 0, profile.Auth.ConsecutiveFailures)
	assert.Equal(t, int64(1), profile.Auth.Successes)
	assert.Equal(t, now, profile.Auth.LastSuccessAt)
	require.NotNil(t, profile.Auth.LastLocation)
	assert.Equal(t, "Maputo", profile.Auth.LastLocation.City)
	assert.True(t, profile.UsualLocations.Contains("MZ/Maputo"))
	assert.True(t, profile.UsualDevices.Contains("dev-1"))
	assert.Equal(t, []string{"velocity_burst"}, profile.RiskIndicators)
}

func TestUpdateProfilePersistsOutOfBand(t *testing.T) {
	persister := newFakePersister()
	store := New(Config{}, persister)

	store.UpdateProfile(context.Background(), "u1", "t1", authEvent("u1", time.Now(), true), nil)

	assert.Equal(t, 1, persister.saves)
	require.Contains(t, persister.profiles, "u1")
	assert.Equal(t, int64(1), persister.profiles["u1"].Auth.Successes)
}

func TestUpdateProfileSaveFailureCounted(t *testing.T) {
	persister := newFakePersister()
	persister.failSave = true
	store := New(Config{}, persister)

	store.UpdateProfile(context.Background(), "u1", "t1", authEvent("u1", time.Now(), true), nil)

	assert.Equal(t, int64(1), store.MetricsSnapshot()["profile_save_failures"])
}

func TestSweepDropsExpiredEventsAndEmptyUsers(t *testing.T) {
	store := New(Config{MemoryWindow: time.Hour}, nil)
	now := time.Now()

	store.AppendRecentEvent("u1", *authEvent("u1", now.Add(-2*time.Hour), true))
	store.AppendRecentEvent("u1", *authEvent("u1", now.Add(-10*time.Minute), true))
	store.AppendRecentEvent("u2", *authEvent("u2", now.Add(-90*time.Minute), true))

	store.Sweep(now)

	kept := store.GetRecentEvents("u1")
	require.Len(t, kept, 1)
	assert.Equal(t, now.Add(-10*time.Minute), kept[0].Timestamp)
	assert.Empty(t, store.GetRecentEvents("u2"))

	metrics := store.MetricsSnapshot()
	assert.Equal(t, int64(1), metrics["sweep_runs"])
	assert.Equal(t, int64(2), metrics["swept_events"])
}

func TestSweepKeepsEventsInsideWindow(t *testing.T) {
	store := New(Config{MemoryWindow: time.Hour}, nil)
	now := time.Now()

	store.AppendRecentEvent("u1", *authEvent("u1", now.Add(-30*time.Minute), true))
	store.Sweep(now)

	assert.Len(t, store.GetRecentEvents("u1"), 1)
	assert.Equal(t, int64(0), store.MetricsSnapshot()["swept_events"])
}

func TestGetRecentEventsReturnsSnapshot(t *testing.T) {
	store := New(Config{}, nil)
	now := time.Now()
	store.AppendRecentEvent("u1", *authEvent("u1", now, true))

	snapshot := store.GetRecentEvents("u1")
	require.Len(t, snapshot, 1)
	snapshot[0].UserID = "mutated"

	assert.Equal(t, "u1", store.GetRecentEvents("u1")[0].UserID)
}

func TestGetProfileReturnsIsolatedSnapshot(t *testing.T) {
	store := New(Config{}, nil)
	ctx := context.Background()
	now := time.Now()

	store.UpdateProfile(ctx, "u1", "t1", authEvent("u1", now.Add(-time.Minute), true), []string{"amount_spike"})
	snapshot := store.GetProfile(ctx, "u1", "t1")

	// Updates landing after the read never show through the snapshot.
	store.UpdateProfile(ctx, "u1", "t1", authEvent("u1", now, false), []string{"velocity_burst"})
	assert.Equal(t, int64(1), snapshot.Auth.TotalAttempts)
	assert.Equal(t, []string{"amount_spike"}, snapshot.RiskIndicators)
	assert.Len(t, snapshot.RecentEvents, 1)

	// Nor does scribbling on the snapshot reach the store.
	snapshot.Auth.TotalAttempts = 99
	snapshot.RiskIndicators[0] = "mutated"
	snapshot.UsualLocations.Entries[0].Key = "mutated"
	snapshot.TrustedDevices["dev-evil"] = now
	snapshot.Auth.LastLocation.City = "mutated"

	fresh := store.GetProfile(ctx, "u1", "t1")
	assert.Equal(t, int64(2), fresh.Auth.TotalAttempts)
	assert.Equal(t, []string{"amount_spike", "velocity_burst"}, fresh.RiskIndicators)
	assert.True(t, fresh.UsualLocations.Contains("MZ/Maputo"))
	assert.NotContains(t, fresh.TrustedDevices, "dev-evil")
	assert.Equal(t, "Maputo", fresh.Auth.LastLocation.City)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	store := New(Config{}, newFakePersister())
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.UpdateProfile(ctx, "u1", "t1", authEvent("u1", now.Add(time.Duration(w*50+i)*time.Second), i%2 == 0), nil)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				profile := store.GetProfile(ctx, "u1", "t1")
				_ = profile.Auth.TotalAttempts
				_ = profile.UsualLocations.Contains("MZ/Maputo")
				_ = profile.RecentEvents
			}
		}()
	}
	wg.Wait()

	final := store.GetProfile(ctx, "u1", "t1")
	assert.Equal(t, int64(200), final.Auth.TotalAttempts)
	assert.Equal(t, int64(100), final.Auth.Successes)
}

func TestConfigDefaults(t *testing.T) {
	store := New(Config{}, nil)
	assert.Equal(t, time.Hour, store.cfg.MemoryWindow)
	assert.Equal(t, time.Minute, store.cfg.SweepInterval)
	assert.Equal(t, 10, store.cfg.TopK)
}

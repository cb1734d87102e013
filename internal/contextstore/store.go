package contextstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/models"
)

// ProfileStore is the out-of-band persistence behind the Context Store. Load
// failures are never fatal: the store degrades to an empty default profile.
type ProfileStore interface {
	LoadProfile(ctx context.Context, userID string) (*BehavioralProfile, error)
	SaveProfile(ctx context.Context, profile *BehavioralProfile) error
}

// Config bounds the store's memory.
type Config struct {
	MemoryWindow  time.Duration
	SweepInterval time.Duration
	TopK          int
}

// Metrics are the store's atomic counters, exposed to the observability
// contract as a snapshot.
type Metrics struct {
	ProfileLoadFailures atomic.Int64
	ProfileSaveFailures atomic.Int64
	SweepRuns           atomic.Int64
	SweptEvents         atomic.Int64
}

// Store is the per-user behavioural profile and recent-event memory. It uses
// a two-level locking scheme: mu guards the three maps, per-user locks guard
// profile mutation and the recent-events slice. The lookup path takes the
// global lock only to fetch the per-user lock, then releases it before
// touching user state, so no goroutine ever iterates a global map while
// holding a per-user lock and no goroutine holds two per-user locks.
type Store struct {
	cfg       Config
	persister ProfileStore

	mu        sync.RWMutex
	profiles  map[string]*BehavioralProfile
	recent    map[string][]models.Event
	userLocks map[string]*sync.Mutex

	metrics Metrics
}

func New(cfg Config, persister ProfileStore) *Store {
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &Store{
		cfg:       cfg,
		persister: persister,
		profiles:  make(map[string]*BehavioralProfile),
		recent:    make(map[string][]models.Event),
		userLocks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex for a user, creating it under the global lock.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.RLock()
	lock, ok := s.userLocks[userID]
	s.mu.RUnlock()
	if ok {
		return lock
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok = s.userLocks[userID]; ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.userLocks[userID] = lock
	return lock
}

// GetProfile returns a snapshot of the user's profile, lazily creating it.
// On first sighting the persister is consulted; a load error degrades to the
// empty default and increments the failure counter. The live profile never
// leaves the per-user lock, so callers may read the snapshot freely while
// concurrent updates land.
func (s *Store) GetProfile(ctx context.Context, userID, tenantID string) *BehavioralProfile {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.liveProfile(ctx, userID, tenantID).Snapshot()
}

// liveProfile returns the mutable profile, loading or creating it on first
// sighting. Caller holds the per-user lock.
func (s *Store) liveProfile(ctx context.Context, userID, tenantID string) *BehavioralProfile {
	s.mu.RLock()
	profile, ok := s.profiles[userID]
	s.mu.RUnlock()
	if ok {
		return profile
	}

	profile = s.loadOrDefault(ctx, userID, tenantID)

	s.mu.Lock()
	s.profiles[userID] = profile
	s.mu.Unlock()
	return profile
}

func (s *Store) loadOrDefault(ctx context.Context, userID, tenantID string) *BehavioralProfile {
	if s.persister != nil {
		profile, err := s.persister.LoadProfile(ctx, userID)
		if err != nil {
			s.metrics.ProfileLoadFailures.Add(1)
			log.Warn().Err(err).Str("user_id", userID).Msg("Profile load failed, using empty default")
		} else if profile != nil {
			if profile.UsualLocations.K == 0 {
				profile.UsualLocations.K = s.cfg.TopK
			}
			if profile.UsualDevices.K == 0 {
				profile.UsualDevices.K = s.cfg.TopK
			}
			return profile
		}
	}
	return NewProfile(userID, tenantID, s.cfg.TopK)
}

// AppendRecentEvent adds an event to the user's time-windowed memory.
// Insertion order equals the caller's delivery order.
func (s *Store) AppendRecentEvent(userID string, event models.Event) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.recent[userID] = append(s.recent[userID], event)
	s.mu.Unlock()
}

// GetRecentEvents returns a snapshot of the user's recent-events window.
func (s *Store) GetRecentEvents(userID string) []models.Event {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	events := s.recent[userID]
	s.mu.RUnlock()

	snapshot := make([]models.Event, len(events))
	copy(snapshot, events)
	return snapshot
}

// UpdateProfile folds an event and its detected anomalies into the user's
// profile and persists the result out-of-band. The persisted value is a
// snapshot taken before the lock is released, so a save never observes a
// half-applied concurrent update.
func (s *Store) UpdateProfile(ctx context.Context, userID, tenantID string, event *models.Event, anomalies []string) {
	lock := s.userLock(userID)
	lock.Lock()

	profile := s.liveProfile(ctx, userID, tenantID)
	profile.apply(event, anomalies)
	snapshot := profile.Snapshot()
	lock.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveProfile(ctx, snapshot); err != nil {
			s.metrics.ProfileSaveFailures.Add(1)
			log.Warn().Err(err).Str("user_id", userID).Msg("Profile save failed")
		}
	}
}

// StartSweeper runs the background memory sweeper until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep drops recent events older than the memory window. User ids are
// snapshotted under the global read lock first; each user is then swept under
// its own lock so sweeping never blocks unrelated users.
func (s *Store) Sweep(now time.Time) {
	cutoff := now.Add(-s.cfg.MemoryWindow)

	s.mu.RLock()
	userIDs := make([]string, 0, len(s.recent))
	for id := range s.recent {
		userIDs = append(userIDs, id)
	}
	s.mu.RUnlock()

	var swept int64
	for _, userID := range userIDs {
		lock := s.userLock(userID)
		lock.Lock()

		s.mu.Lock()
		events := s.recent[userID]
		kept := events[:0]
		for _, e := range events {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			} else {
				swept++
			}
		}
		if len(kept) == 0 {
			delete(s.recent, userID)
		} else {
			s.recent[userID] = kept
		}
		s.mu.Unlock()

		lock.Unlock()
	}

	s.metrics.SweepRuns.Add(1)
	s.metrics.SweptEvents.Add(swept)
	if swept > 0 {
		log.Debug().Int64("swept", swept).Int("users", len(userIDs)).Msg("Recent-events sweep complete")
	}
}

// MetricsSnapshot returns the current counter values.
func (s *Store) MetricsSnapshot() map[string]int64 {
	return map[string]int64{
		"profile_load_failures": s.metrics.ProfileLoadFailures.Load(),
		"profile_save_failures": s.metrics.ProfileSaveFailures.Load(),
		"sweep_runs":            s.metrics.SweepRuns.Load(),
		"swept_events":          s.metrics.SweptEvents.Load(),
	}
}

// TrackedUsers returns how many users currently have in-memory state.
func (s *Store) TrackedUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

package contextstore

import (
	"math"
	"sort"
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// FrequencyEntry is one slot of a bounded top-K list.
type FrequencyEntry struct {
	Key      string    `json:"key"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// TopKList keeps the K entries of highest frequency; ties are broken by the
// most recent LastSeen. The list is always sorted by count descending.
type TopKList struct {
	K       int              `json:"k"`
	Entries []FrequencyEntry `json:"entries"`
}

func NewTopKList(k int) TopKList {
	return TopKList{K: k}
}

// Touch records one observation of key at ts.
func (l *TopKList) Touch(key string, ts time.Time) {
	found := false
	for i := range l.Entries {
		if l.Entries[i].Key == key {
			l.Entries[i].Count++
			if ts.After(l.Entries[i].LastSeen) {
				l.Entries[i].LastSeen = ts
			}
			found = true
			break
		}
	}
	if !found {
		l.Entries = append(l.Entries, FrequencyEntry{Key: key, Count: 1, LastSeen: ts})
	}

	sort.SliceStable(l.Entries, func(i, j int) bool {
		if l.Entries[i].Count != l.Entries[j].Count {
			return l.Entries[i].Count > l.Entries[j].Count
		}
		return l.Entries[i].LastSeen.After(l.Entries[j].LastSeen)
	})
	if l.K > 0 && len(l.Entries) > l.K {
		l.Entries = l.Entries[:l.K]
	}
}

// Contains reports whether key is currently in the list.
func (l *TopKList) Contains(key string) bool {
	for _, e := range l.Entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// AuthStats aggregates authentication history for a user.
type AuthStats struct {
	TotalAttempts       int64                `json:"total_attempts"`
	Successes           int64                `json:"successes"`
	Failures            int64                `json:"failures"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastSuccessAt       time.Time            `json:"last_success_at"`
	LastLocation        *models.LocationData `json:"last_location,omitempty"`
}

// TransactionBaseline is the running amount statistic used for deviation
// checks. Sum and SumSquares feed the Welford-style stddev update.
type TransactionBaseline struct {
	Count      int64   `json:"count"`
	Avg        float64 `json:"avg"`
	Max        float64 `json:"max"`
	StdDev     float64 `json:"stddev"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`
}

// Observe folds one transaction amount into the baseline.
func (b *TransactionBaseline) Observe(amount float64) {
	b.Count++
	b.Sum += amount
	b.SumSquares += amount * amount
	b.Avg = b.Sum / float64(b.Count)
	if amount > b.Max {
		b.Max = amount
	}
	if b.Count > 1 {
		variance := (b.SumSquares - b.Sum*b.Sum/float64(b.Count)) / float64(b.Count-1)
		if variance < 0 {
			variance = 0
		}
		b.StdDev = math.Sqrt(variance)
	}
}

// profileRecentEventsMax bounds the event digest embedded in the profile;
// the full time-windowed sequence lives in the store's recent-events map.
const profileRecentEventsMax = 20

// BehavioralProfile is the per-user baseline the processors compare against.
// All mutation goes through the Store so access is serialized per user.
type BehavioralProfile struct {
	UserID         string              `json:"user_id"`
	TenantID       string              `json:"tenant_id"`
	UsualHours     [24]int64           `json:"usual_hour_counts"`
	UsualDays      [7]int64            `json:"usual_day_counts"`
	UsualLocations TopKList            `json:"usual_locations"`
	UsualDevices   TopKList            `json:"usual_devices"`
	Auth           AuthStats           `json:"auth_stats"`
	TxBaseline     TransactionBaseline `json:"transaction_baseline"`
	RiskIndicators []string            `json:"risk_indicators,omitempty"`
	RecentEvents   []models.Event      `json:"recent_events"`

	// ARTemplates hold the enrolled comparison templates per AR modality.
	ARTemplates map[string][]float64 `json:"ar_templates,omitempty"`

	TrustedDevices map[string]time.Time `json:"trusted_devices,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfile creates the empty default profile used for first sightings and
// for degraded profile-store reads.
func NewProfile(userID, tenantID string, topK int) *BehavioralProfile {
	now := time.Now().UTC()
	return &BehavioralProfile{
		UserID:         userID,
		TenantID:       tenantID,
		UsualLocations: NewTopKList(topK),
		UsualDevices:   NewTopKList(topK),
		TrustedDevices: make(map[string]time.Time),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// apply folds a normalized event into the profile. Caller holds the per-user
// lock.
func (p *BehavioralProfile) apply(event *models.Event, anomalies []string) {
	ts := event.Timestamp
	p.UsualHours[ts.Hour()]++
	p.UsualDays[int(ts.Weekday())]++

	switch event.Kind {
	case models.EventAuthentication:
		p.Auth.TotalAttempts++
		if event.Auth.Success {
			p.Auth.Successes++
			p.Auth.ConsecutiveFailures = 0
			p.Auth.LastSuccessAt = ts
			if event.Auth.Location != nil {
				loc := *event.Auth.Location
				p.Auth.LastLocation = &loc
				p.UsualLocations.Touch(locationKey(&loc), ts)
			}
			if event.Auth.Device != nil {
				p.UsualDevices.Touch(event.Auth.Device.DeviceID, ts)
			}
		} else {
			p.Auth.Failures++
			p.Auth.ConsecutiveFailures++
		}
	case models.EventTransaction:
		p.TxBaseline.Observe(event.Transaction.Amount)
		if event.Transaction.Location != nil {
			p.UsualLocations.Touch(locationKey(event.Transaction.Location), ts)
		}
		if event.Transaction.Device != nil {
			p.UsualDevices.Touch(event.Transaction.Device.DeviceID, ts)
		}
	case models.EventDevice:
		if event.Device.Device != nil {
			p.UsualDevices.Touch(event.Device.Device.DeviceID, ts)
		}
	case models.EventUserActivity:
		if event.Activity.Location != nil {
			p.UsualLocations.Touch(locationKey(event.Activity.Location), ts)
		}
	}

	for _, a := range anomalies {
		if !containsString(p.RiskIndicators, a) {
			p.RiskIndicators = append(p.RiskIndicators, a)
		}
	}

	p.RecentEvents = append(p.RecentEvents, *event)
	if len(p.RecentEvents) > profileRecentEventsMax {
		p.RecentEvents = p.RecentEvents[len(p.RecentEvents)-profileRecentEventsMax:]
	}
	p.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a deep copy of the profile. Readers work on snapshots so
// no profile memory is shared outside the per-user lock.
func (p *BehavioralProfile) Snapshot() *BehavioralProfile {
	out := *p
	out.UsualLocations.Entries = append([]FrequencyEntry(nil), p.UsualLocations.Entries...)
	out.UsualDevices.Entries = append([]FrequencyEntry(nil), p.UsualDevices.Entries...)
	out.RiskIndicators = append([]string(nil), p.RiskIndicators...)
	out.RecentEvents = append([]models.Event(nil), p.RecentEvents...)
	if p.Auth.LastLocation != nil {
		loc := *p.Auth.LastLocation
		out.Auth.LastLocation = &loc
	}
	if p.ARTemplates != nil {
		out.ARTemplates = make(map[string][]float64, len(p.ARTemplates))
		for key, template := range p.ARTemplates {
			out.ARTemplates[key] = append([]float64(nil), template...)
		}
	}
	if p.TrustedDevices != nil {
		out.TrustedDevices = make(map[string]time.Time, len(p.TrustedDevices))
		for device, registered := range p.TrustedDevices {
			out.TrustedDevices[device] = registered
		}
	}
	return &out
}

// IsDeviceTrusted reports whether the device is on the trusted list and its
// registration has not expired.
func (p *BehavioralProfile) IsDeviceTrusted(deviceID string, expiryDays int, now time.Time) bool {
	registered, ok := p.TrustedDevices[deviceID]
	if !ok {
		return false
	}
	return now.Sub(registered) <= time.Duration(expiryDays)*24*time.Hour
}

// TrustDevice registers a device on the trusted list.
func (p *BehavioralProfile) TrustDevice(deviceID string, now time.Time) {
	if p.TrustedDevices == nil {
		p.TrustedDevices = make(map[string]time.Time)
	}
	p.TrustedDevices[deviceID] = now
}

func locationKey(loc *models.LocationData) string {
	return loc.CountryCode + "/" + loc.City
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package processors

import (
	"math"

	"github.com/trustguard/riskcore/internal/models"
)

// unseenWindow is how many recent events are scanned for categorical novelty.
const unseenWindow = 50

// BehavioralProcessor compares the current attempt against the user's
// baseline. It emits one signal when at least two numeric features deviate by
// two sigma or more, or when a categorical value (location, device) is unseen
// in the recent window. Confidence scales with the baseline sample size.
type BehavioralProcessor struct{}

func NewBehavioralProcessor() *BehavioralProcessor {
	return &BehavioralProcessor{}
}

func (p *BehavioralProcessor) Name() string { return "behavioral" }

func (p *BehavioralProcessor) Process(userID string, in *Input) []models.RiskSignal {
	if in.Policy != nil && !in.Policy.Toggles.Behavioral {
		return nil
	}
	profile := in.Profile
	if profile == nil || profile.Auth.TotalAttempts == 0 {
		return nil
	}

	ts := in.Auth.Timestamp
	deviations := 0
	if z := bucketZScore(profile.UsualHours[:], ts.Hour()); z <= -2 {
		deviations++
	}
	if z := bucketZScore(profile.UsualDays[:], int(ts.Weekday())); z <= -2 {
		deviations++
	}

	unseen := 0
	if in.Auth.Location != nil {
		key := in.Auth.Location.CountryCode + "/" + in.Auth.Location.City
		if !profile.UsualLocations.Contains(key) && !seenInRecent(in.Recent, key, "") {
			unseen++
		}
	}
	if in.Auth.Device != nil {
		if !profile.UsualDevices.Contains(in.Auth.Device.DeviceID) &&
			!seenInRecent(in.Recent, "", in.Auth.Device.DeviceID) {
			unseen++
		}
	}

	if deviations < 2 && unseen == 0 {
		return nil
	}

	value := 0.3*float64(deviations) + 0.35*float64(unseen)
	if value > 1 {
		value = 1
	}

	sample := float64(profile.Auth.TotalAttempts)
	confidence := math.Min(0.95, 0.3+sample/100)

	return []models.RiskSignal{{
		Type:       "behavioral",
		Value:      value,
		Confidence: confidence,
		Timestamp:  ts,
	}}
}

// bucketZScore returns how far the given bucket's count sits from the mean of
// all buckets, in standard deviations. Negative values mean the bucket is
// rarely used by this user.
func bucketZScore(counts []int64, bucket int) float64 {
	var sum, sumSq float64
	for _, c := range counts {
		f := float64(c)
		sum += f
		sumSq += f * f
	}
	n := float64(len(counts))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance <= 0 {
		return 0
	}
	return (float64(counts[bucket]) - mean) / math.Sqrt(variance)
}

func seenInRecent(recent []models.Event, locationKey, deviceID string) bool {
	start := 0
	if len(recent) > unseenWindow {
		start = len(recent) - unseenWindow
	}
	for _, e := range recent[start:] {
		if e.Kind != models.EventAuthentication || e.Auth == nil {
			continue
		}
		if locationKey != "" && e.Auth.Location != nil {
			if e.Auth.Location.CountryCode+"/"+e.Auth.Location.City == locationKey {
				return true
			}
		}
		if deviceID != "" && e.Auth.Device != nil && e.Auth.Device.DeviceID == deviceID {
			return true
		}
	}
	return false
}

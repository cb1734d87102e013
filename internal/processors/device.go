package processors

import (
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// DeviceAnalysisProcessor flags devices not on the user's trusted list, or
// whose registration has expired.
type DeviceAnalysisProcessor struct{}

func NewDeviceAnalysisProcessor() *DeviceAnalysisProcessor {
	return &DeviceAnalysisProcessor{}
}

func (p *DeviceAnalysisProcessor) Name() string { return "device_analysis" }

func (p *DeviceAnalysisProcessor) Process(userID string, in *Input) []models.RiskSignal {
	if in.Policy != nil && !in.Policy.Toggles.DeviceFingerprint {
		return nil
	}
	device := in.Auth.Device
	if device == nil {
		return nil
	}

	now := in.Auth.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiryDays := 90
	if in.Policy != nil && in.Policy.TrustedDeviceExpiry > 0 {
		expiryDays = in.Policy.TrustedDeviceExpiry
	}

	trusted := device.Trusted
	if !trusted && in.Profile != nil {
		trusted = in.Profile.IsDeviceTrusted(device.DeviceID, expiryDays, now)
	}
	if trusted {
		return nil
	}

	return []models.RiskSignal{{
		Type:       "device_trust",
		Value:      0.7,
		Confidence: 0.9,
		Timestamp:  now,
	}}
}

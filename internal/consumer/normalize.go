package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// envelope is the source-agnostic wrapper around every ingested payload.
// Producers differ on whether ids live top-level or under metadata; both are
// accepted, with top-level winning.
type envelope struct {
	EventID   string                 `json:"event_id"`
	UserID    string                 `json:"user_id"`
	TenantID  string                 `json:"tenant_id"`
	EventType string                 `json:"event_type"`
	Timestamp interface{}            `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (e *envelope) metaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// decodeEnvelope fills the common event fields from a raw payload.
func decodeEnvelope(value []byte) (*envelope, *models.Event, error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, nil, fmt.Errorf("invalid event JSON: %w", err)
	}

	if env.EventID == "" {
		env.EventID = env.metaString("event_id")
	}
	if env.TenantID == "" {
		env.TenantID = env.metaString("tenant_id")
	}
	if env.UserID == "" {
		env.UserID = env.metaString("user_id")
	}

	raw := env.Timestamp
	if raw == nil && env.Metadata != nil {
		raw = env.Metadata["timestamp"]
	}
	ts, err := models.ParseEventTimestamp(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("event %s: %w", env.EventID, err)
	}

	event := &models.Event{
		EventID:    env.EventID,
		UserID:     env.UserID,
		TenantID:   env.TenantID,
		RegionCode: env.metaString("region_code"),
		Timestamp:  ts,
		Metadata:   env.Metadata,
	}
	return &env, event, nil
}

// authContextFrom builds the immutable request bundle for an authentication
// style event.
func authContextFrom(event *models.Event, ip string, device *models.DeviceFingerprint, location *models.LocationData, ar *models.ARData, method string) *models.AuthContext {
	return &models.AuthContext{
		UserID:     event.UserID,
		TenantID:   event.TenantID,
		IP:         ip,
		Device:     device,
		Location:   location,
		AR:         ar,
		AuthMethod: method,
		Timestamp:  event.Timestamp,
	}
}

// clampTimestamp guards against producers with far-future clocks.
func clampTimestamp(ts, now time.Time) time.Time {
	if ts.After(now.Add(5 * time.Minute)) {
		return now
	}
	return ts
}

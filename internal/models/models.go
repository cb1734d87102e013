package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the ordered risk categorization: LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

var riskLevelNames = [...]string{"low", "medium", "high", "critical"}

func (l RiskLevel) String() string {
	if l < RiskLevelLow || l > RiskLevelCritical {
		return "unknown"
	}
	return riskLevelNames[l]
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// ParseRiskLevel converts a string to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskLevelNames {
		if name == s {
			return RiskLevel(i), nil
		}
	}
	return RiskLevelLow, fmt.Errorf("unknown risk level %q", s)
}

// AuthFactor identifies an authentication factor. Unknown factors must be
// treated as non-satisfying by consumers.
type AuthFactor string

const (
	FactorPassword      AuthFactor = "password"
	FactorTOTP          AuthFactor = "totp"
	FactorSMS           AuthFactor = "sms"
	FactorEmail         AuthFactor = "email"
	FactorPush          AuthFactor = "push"
	FactorBiometric     AuthFactor = "biometric"
	FactorCertificate   AuthFactor = "certificate"
	FactorHardwareToken AuthFactor = "hardware-token"

	FactorARSpatialGesture AuthFactor = "ar-spatial-gesture"
	FactorARGazePattern    AuthFactor = "ar-gaze-pattern"
	FactorAREnvironment    AuthFactor = "ar-environment"
	FactorARBiometric3D    AuthFactor = "ar-biometric-3d"
)

var knownFactors = map[AuthFactor]bool{
	FactorPassword: true, FactorTOTP: true, FactorSMS: true, FactorEmail: true,
	FactorPush: true, FactorBiometric: true, FactorCertificate: true,
	FactorHardwareToken: true, FactorARSpatialGesture: true,
	FactorARGazePattern: true, FactorAREnvironment: true, FactorARBiometric3D: true,
}

// IsKnown reports whether the factor belongs to the closed set this core
// understands.
func (f AuthFactor) IsKnown() bool {
	return knownFactors[f]
}

// RiskSignal is a single risk contribution produced by a signal processor or
// the rule engine. Value is numeric (risk in [0,1]) or boolean; anything else
// is dropped by the aggregator.
type RiskSignal struct {
	Type       string      `json:"type"`
	Value      interface{} `json:"value"`
	Confidence float64     `json:"confidence"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NumericValue normalizes the signal value to a float64. Booleans map to 0/1;
// non-numeric values return ok=false.
func (s RiskSignal) NumericValue() (float64, bool) {
	switch v := s.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// DeviceFingerprint describes the device observed on a request.
type DeviceFingerprint struct {
	DeviceID       string    `json:"device_id"`
	UserAgent      string    `json:"user_agent"`
	OS             string    `json:"os"`
	Browser        string    `json:"browser"`
	Screen         string    `json:"screen"`
	Timezone       string    `json:"timezone"`
	Language       string    `json:"language"`
	Canvas         string    `json:"canvas,omitempty"`
	WebGL          string    `json:"webgl,omitempty"`
	Fonts          string    `json:"fonts,omitempty"`
	HWConcurrency  int       `json:"hw_concurrency,omitempty"`
	IsRooted       bool      `json:"is_rooted,omitempty"`
	IsEmulator     bool      `json:"is_emulator,omitempty"`
	Carrier        string    `json:"carrier,omitempty"`
	Trusted        bool      `json:"trusted"`
	LastSeen       time.Time `json:"last_seen"`
	RiskScore      float64   `json:"risk_score"`
}

// LocationData is the resolved geolocation and network reputation for an IP.
type LocationData struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ISP         string  `json:"isp,omitempty"`
	IsVPN       bool    `json:"is_vpn"`
	IsProxy     bool    `json:"is_proxy"`
	IsHosting   bool    `json:"is_hosting"`
	IsTor       bool    `json:"is_tor"`
	Confidence  float64 `json:"confidence"`
}

// ARData carries the augmented-reality sub-bundles attached to an auth request.
// Each sub-bundle is optional; processors that find theirs absent emit nothing.
type ARData struct {
	SpatialGesture []float64 `json:"spatial_gesture,omitempty"`
	GazePattern    []float64 `json:"gaze_pattern,omitempty"`
	Environment    []float64 `json:"environment,omitempty"`
	Biometric3D    []float64 `json:"biometric_3d,omitempty"`
	LivenessProof  *bool     `json:"liveness_proof,omitempty"`
}

// AuthContext is the immutable per-request bundle assembled at ingest.
type AuthContext struct {
	UserID     string             `json:"user_id"`
	TenantID   string             `json:"tenant_id"`
	SessionID  string             `json:"session_id,omitempty"`
	IP         string             `json:"ip"`
	Device     *DeviceFingerprint `json:"device,omitempty"`
	Location   *LocationData      `json:"location,omitempty"`
	AuthMethod string             `json:"auth_method,omitempty"`
	AR         *ARData            `json:"ar_data,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`

	// Tenant is the tenant-config snapshot taken when the request entered the
	// pipeline; policy swaps during a request do not affect it.
	Tenant *TenantConfig `json:"-"`
}

// RiskAssessment is the pipeline output for one authentication attempt or
// transaction.
type RiskAssessment struct {
	AssessmentID    uuid.UUID          `json:"assessment_id"`
	UserID          string             `json:"user_id"`
	TenantID        string             `json:"tenant_id"`
	SessionID       string             `json:"session_id,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	IP              string             `json:"ip"`
	Device          *DeviceFingerprint `json:"device,omitempty"`
	Location        *LocationData      `json:"location,omitempty"`
	Signals         []RiskSignal       `json:"signals"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	RiskScore       float64            `json:"risk_score"`
	RequiredFactors []AuthFactor       `json:"required_factors"`
	Reason          string             `json:"reason"`
	ProcessingMs    int64              `json:"processing_time_ms"`
}

// TransactionVerdict is the decision for a sensitive transaction.
type TransactionVerdict string

const (
	VerdictAllow  TransactionVerdict = "allow"
	VerdictReview TransactionVerdict = "review"
	VerdictBlock  TransactionVerdict = "block"
)

// AlertSeverity extends RiskLevel with an operator-page level used by the
// escalation matrix.
type AlertSeverity int

const (
	SeverityLow AlertSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityEmergency
)

var severityNames = [...]string{"low", "medium", "high", "critical", "emergency"}

func (s AlertSeverity) String() string {
	if s < SeverityLow || s > SeverityEmergency {
		return "unknown"
	}
	return severityNames[s]
}

func (s AlertSeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *AlertSeverity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for i, name := range severityNames {
		if name == str {
			*s = AlertSeverity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown alert severity %q", str)
}

// SeverityForLevel maps an assessed risk level to an alert severity.
func SeverityForLevel(level RiskLevel) AlertSeverity {
	switch level {
	case RiskLevelCritical:
		return SeverityCritical
	case RiskLevelHigh:
		return SeverityHigh
	case RiskLevelMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert is the payload dispatched by the notifier and published to the alert
// topic. AlertID is the idempotency key the gateway honours on retries.
type Alert struct {
	AlertID    uuid.UUID              `json:"alert_id"`
	UserID     string                 `json:"user_id"`
	TenantID   string                 `json:"tenant_id"`
	RegionCode string                 `json:"region_code"`
	Type       string                 `json:"type"`
	Severity   AlertSeverity          `json:"severity"`
	RiskScore  float64                `json:"risk_score"`
	Anomalies  []string               `json:"anomalies"`
	EventRef   string                 `json:"event_ref"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// JSONB is a helper type for PostgreSQL JSONB columns.
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

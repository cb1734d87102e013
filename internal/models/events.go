package models

import (
	"fmt"
	"strconv"
	"time"
)

// EventKind discriminates the normalized event union.
type EventKind string

const (
	EventAuthentication EventKind = "authentication"
	EventSession        EventKind = "session"
	EventDevice         EventKind = "device"
	EventUserActivity   EventKind = "user_activity"
	EventTransaction    EventKind = "transaction"
	EventDocument       EventKind = "document"
)

// Event is the normalized form every consumer produces from its raw topic
// payloads. Exactly one variant pointer is non-nil, matching Kind; Metadata
// keeps source fields the variants do not model.
type Event struct {
	Kind       EventKind              `json:"kind"`
	EventID    string                 `json:"event_id"`
	UserID     string                 `json:"user_id"`
	TenantID   string                 `json:"tenant_id"`
	RegionCode string                 `json:"region_code,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	Auth        *AuthenticationEvent `json:"auth,omitempty"`
	Session     *SessionEvent        `json:"session,omitempty"`
	Device      *DeviceEvent         `json:"device,omitempty"`
	Activity    *UserActivityEvent   `json:"activity,omitempty"`
	Transaction *TransactionEvent    `json:"transaction,omitempty"`
	Document    *DocumentEvent       `json:"document,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AuthenticationEvent records a login attempt.
type AuthenticationEvent struct {
	Success     bool               `json:"success"`
	Method      string             `json:"method"`
	FailureCode string             `json:"failure_code,omitempty"`
	IP          string             `json:"ip"`
	Device      *DeviceFingerprint `json:"device,omitempty"`
	Location    *LocationData      `json:"location,omitempty"`
	AR          *ARData            `json:"ar_data,omitempty"`
}

// SessionEvent records session lifecycle activity.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"` // created, refreshed, terminated
	IP        string `json:"ip"`
}

// DeviceEvent records device registration or change.
type DeviceEvent struct {
	Device *DeviceFingerprint `json:"device"`
	Action string             `json:"action"` // registered, seen, revoked
}

// UserActivityEvent records generic in-product activity.
type UserActivityEvent struct {
	Action   string        `json:"action"`
	Resource string        `json:"resource,omitempty"`
	IP       string        `json:"ip,omitempty"`
	Location *LocationData `json:"location,omitempty"`
}

// TransactionEvent records a payment, mobile-money or e-commerce transaction.
type TransactionEvent struct {
	TransactionID string             `json:"transaction_id"`
	Type          string             `json:"type"` // payment, mobile_money, pix, ecommerce
	Amount        float64            `json:"amount"`
	Currency      string             `json:"currency"`
	Recipient     string             `json:"recipient,omitempty"`
	Service       string             `json:"service,omitempty"`   // m-pesa, e-mola, mkesh, pix, multicaixa
	Operator      string             `json:"operator,omitempty"`  // vodacom, movitel, ...
	AgentID       string             `json:"agent_id,omitempty"`  // mobile-money agent
	Direction     string             `json:"direction,omitempty"` // cash_in, cash_out, transfer
	Channel       string             `json:"channel,omitempty"`
	Location      *LocationData      `json:"location,omitempty"`
	Device        *DeviceFingerprint `json:"device,omitempty"`
}

// DocumentEvent records a document submitted for validation.
type DocumentEvent struct {
	DocumentID     string            `json:"document_id"`
	DocumentType   string            `json:"document_type"` // bi, nif, cpf, cnpj, nuit, cc
	DocumentNumber string            `json:"document_number"`
	IssuingCountry string            `json:"issuing_country"`
	IssueDate      *time.Time        `json:"issue_date,omitempty"`
	ExpiryDate     *time.Time        `json:"expiry_date,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// Validate checks the invariants every normalized event must satisfy before it
// enters the pipeline.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event missing event_id")
	}
	if e.UserID == "" {
		return fmt.Errorf("event %s missing user_id", e.EventID)
	}
	if e.TenantID == "" {
		return fmt.Errorf("event %s missing tenant_id", e.EventID)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s missing timestamp", e.EventID)
	}
	switch e.Kind {
	case EventAuthentication:
		if e.Auth == nil {
			return fmt.Errorf("event %s kind %s without variant payload", e.EventID, e.Kind)
		}
	case EventSession:
		if e.Session == nil {
			return fmt.Errorf("event %s kind %s without variant payload", e.EventID, e.Kind)
		}
	case EventDevice:
		if e.Device == nil {
			return fmt.Errorf("event %s kind %s without variant payload", e.EventID, e.Kind)
		}
	case EventUserActivity:
		if e.Activity == nil {
			return fmt.Errorf("event %s kind %s without variant payload", e.EventID, e.Kind)
		}
	case EventTransaction:
		if e.Transaction == nil {
			return fmt.Errorf("event %s kind %s without variant payload", e.EventID, e.Kind)
		}
	case EventDocument:
		if e.Document == nil {
			return fmt.Errorf("event %s kind %s without variant payload", e.EventID, e.Kind)
		}
	default:
		return fmt.Errorf("event %s has unknown kind %q", e.EventID, e.Kind)
	}
	return nil
}

// ParseEventTimestamp accepts the two wire formats the ingest contract allows:
// ISO-8601 strings and epoch milliseconds (number or numeric string).
func ParseEventTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, nil
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
	case float64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

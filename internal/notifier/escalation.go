package notifier

import "github.com/trustguard/riskcore/internal/models"

// Recipient is one delivery target.
type Recipient struct {
	Address  string    `json:"address"`
	Channels []Channel `json:"channels"`
	Team     bool      `json:"team"`
}

// EscalationMatrix resolves security-team recipients by (region, severity,
// alert type). Region and type support the "*" wildcard; the most specific
// entry wins.
type EscalationMatrix struct {
	entries map[matrixKey][]string
}

type matrixKey struct {
	region   string
	severity models.AlertSeverity
	typ      string
}

// NewEscalationMatrix builds the default routing: every region escalates
// HIGH and above to its regional security desk, CRITICAL and EMERGENCY also
// page the global desk.
func NewEscalationMatrix() *EscalationMatrix {
	m := &EscalationMatrix{entries: make(map[matrixKey][]string)}
	for _, region := range []string{"AO", "BR", "MZ", "PT"} {
		for _, sev := range []models.AlertSeverity{models.SeverityHigh, models.SeverityCritical, models.SeverityEmergency} {
			m.Set(region, sev, "*", []string{"security-" + region})
		}
	}
	for _, sev := range []models.AlertSeverity{models.SeverityCritical, models.SeverityEmergency} {
		m.Set("*", sev, "*", []string{"security-global"})
	}
	m.Set("*", models.SeverityCritical, "account_compromise", []string{"security-global", "incident-response"})
	return m
}

// Set registers team addresses for a matrix cell.
func (m *EscalationMatrix) Set(region string, severity models.AlertSeverity, typ string, teams []string) {
	m.entries[matrixKey{region: region, severity: severity, typ: typ}] = teams
}

// Teams returns the union of matching cells, most specific first, without
// duplicates.
func (m *EscalationMatrix) Teams(region string, severity models.AlertSeverity, typ string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, key := range []matrixKey{
		{region, severity, typ},
		{region, severity, "*"},
		{"*", severity, typ},
		{"*", severity, "*"},
	} {
		for _, team := range m.entries[key] {
			if _, dup := seen[team]; dup {
				continue
			}
			seen[team] = struct{}{}
			out = append(out, team)
		}
	}
	return out
}

// ResolveRecipients expands an alert into its delivery targets. The user gets
// push+email unless the anomaly set indicates the account itself is
// compromised; severity HIGH and above adds the escalation teams, with SMS
// and push added for CRITICAL and EMERGENCY.
func ResolveRecipients(alert *models.Alert, matrix *EscalationMatrix) []Recipient {
	var out []Recipient

	if !isAccountCompromise(alert) {
		out = append(out, Recipient{
			Address:  alert.UserID,
			Channels: []Channel{ChannelPush, ChannelEmail},
		})
	}

	if alert.Severity >= models.SeverityHigh {
		channels := []Channel{ChannelEmail}
		if alert.Severity >= models.SeverityCritical {
			channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}
		}
		for _, team := range matrix.Teams(alert.RegionCode, alert.Severity, alert.Type) {
			out = append(out, Recipient{
				Address:  team,
				Channels: channels,
				Team:     true,
			})
		}
	}

	return out
}

func isAccountCompromise(alert *models.Alert) bool {
	if alert.Type == "account_compromise" {
		return true
	}
	for _, anomaly := range alert.Anomalies {
		if anomaly == "account_compromise" {
			return true
		}
	}
	return false
}

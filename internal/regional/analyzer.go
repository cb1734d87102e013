package regional

import (
	"fmt"
	"strings"
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// LocationAnalysis is the regional verdict on a resolved location.
type LocationAnalysis struct {
	Risk       float64  `json:"risk"`
	IsHighRisk bool     `json:"is_high_risk"`
	IsUrban    bool     `json:"is_urban"`
	Flags      []string `json:"flags,omitempty"`
}

// PhoneValidation is the result of checking a phone number against the
// region's numbering plan.
type PhoneValidation struct {
	Valid    bool   `json:"valid"`
	Operator string `json:"operator,omitempty"`
	Format   string `json:"format"`
}

// TxFlag is one named transaction finding with its risk value. Flags become
// risk signals in the transaction consumer, keeping their name as the type.
type TxFlag struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

// TxAnalysis is the regional verdict on a transaction given the user's
// recent history.
type TxAnalysis struct {
	Risk           float64                   `json:"risk"`
	Flags          []TxFlag                  `json:"flags,omitempty"`
	Recommendation models.TransactionVerdict `json:"recommendation"`
}

// DeviceAnalysis is the regional verdict on a device fingerprint.
type DeviceAnalysis struct {
	Risk  float64  `json:"risk"`
	Flags []string `json:"flags,omitempty"`
}

// HistoryEntry is one prior transaction in the user's sliding window.
type HistoryEntry struct {
	Tx models.TransactionEvent
	At time.Time
}

// Analyzer is a per-region heuristics module. Implementations are pure table
// lookups; the only per-region code path is which table is consulted.
type Analyzer interface {
	Region() string
	AnalyzeLocation(loc *models.LocationData) LocationAnalysis
	ValidatePhone(number string) PhoneValidation
	AnalyzeTransaction(tx *models.TransactionEvent, at time.Time, history []HistoryEntry) TxAnalysis
	AnalyzeDevice(dev *models.DeviceFingerprint) DeviceAnalysis
	ValidateDocument(doc *models.DocumentEvent, at time.Time) DocumentValidation
	RegionalRules() models.PolicyOverlay
}

// PhoneRule maps local-number prefixes to an operator.
type PhoneRule struct {
	Prefixes []string `yaml:"prefixes"`
	Operator string   `yaml:"operator"`
}

// ServiceLimits are the per-service transaction rules for a region.
type ServiceLimits struct {
	MaxAmount        float64       `yaml:"max_amount"`
	MaxPerHour       int           `yaml:"max_per_hour"`
	CashInOutWindow  time.Duration `yaml:"cash_in_out_window"`
	UnusualHourStart int           `yaml:"unusual_hour_start"`
	UnusualHourEnd   int           `yaml:"unusual_hour_end"`
}

// Table holds everything a region analyzer consults. Tables for the four
// supported regions are built in; deployments may override them from
// configuration at boot.
type Table struct {
	Code        string `yaml:"code"`
	CountryCode string `yaml:"country_code"`
	DialPrefix  string `yaml:"dial_prefix"`
	PhoneLength int    `yaml:"phone_length"`

	UrbanCities   []string `yaml:"urban_cities"`
	HighRiskAreas []string `yaml:"high_risk_areas"`
	BorderAreas   []string `yaml:"border_areas"`

	PhoneRules        []PhoneRule `yaml:"phone_rules"`
	KnownCarriers     []string    `yaml:"known_carriers"`
	ExpectedLanguages []string    `yaml:"expected_languages"`

	Services  map[string]ServiceLimits  `yaml:"services"`
	Documents map[string]DocumentFormat `yaml:"documents"`

	Overlay models.PolicyOverlay `yaml:"overlay"`
}

// tableAnalyzer implements Analyzer over one region table.
type tableAnalyzer struct {
	table     Table
	checksums ChecksumValidator
}

// NewAnalyzer builds an analyzer from a region table.
func NewAnalyzer(table Table) Analyzer {
	return &tableAnalyzer{table: table}
}

func (a *tableAnalyzer) Region() string { return a.table.Code }

func (a *tableAnalyzer) AnalyzeLocation(loc *models.LocationData) LocationAnalysis {
	var out LocationAnalysis
	if loc == nil {
		return out
	}

	if loc.CountryCode != "" && loc.CountryCode != a.table.CountryCode {
		out.Flags = append(out.Flags, "foreign_location")
		out.Risk += 0.3
	}
	if containsFold(a.table.UrbanCities, loc.City) {
		out.IsUrban = true
	}
	if containsFold(a.table.HighRiskAreas, loc.City) || containsFold(a.table.HighRiskAreas, loc.Region) {
		out.IsHighRisk = true
		out.Flags = append(out.Flags, "high_risk_area")
		out.Risk += 0.4
	}
	if containsFold(a.table.BorderAreas, loc.City) || containsFold(a.table.BorderAreas, loc.Region) {
		out.Flags = append(out.Flags, "border_area")
		out.Risk += 0.2
	}

	out.Risk = capRisk(out.Risk)
	return out
}

func (a *tableAnalyzer) ValidatePhone(number string) PhoneValidation {
	local, format := a.normalizePhone(number)
	out := PhoneValidation{Format: format}

	if a.table.PhoneLength > 0 && len(local) != a.table.PhoneLength {
		return out
	}
	for _, digit := range local {
		if digit < '0' || digit > '9' {
			return out
		}
	}

	for _, rule := range a.table.PhoneRules {
		for _, prefix := range rule.Prefixes {
			if strings.HasPrefix(local, prefix) {
				out.Valid = true
				out.Operator = rule.Operator
				return out
			}
		}
	}
	return out
}

// normalizePhone strips spacing and the region dial prefix, reporting which
// wire format the number arrived in.
func (a *tableAnalyzer) normalizePhone(number string) (local, format string) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, number)

	switch {
	case strings.HasPrefix(cleaned, "+"+a.table.DialPrefix):
		return strings.TrimPrefix(cleaned, "+"+a.table.DialPrefix), "e164"
	case strings.HasPrefix(cleaned, "00"+a.table.DialPrefix):
		return strings.TrimPrefix(cleaned, "00"+a.table.DialPrefix), "international"
	default:
		return cleaned, "local"
	}
}

func (a *tableAnalyzer) AnalyzeTransaction(tx *models.TransactionEvent, at time.Time, history []HistoryEntry) TxAnalysis {
	var out TxAnalysis
	out.Recommendation = models.VerdictAllow
	if tx == nil {
		return out
	}

	limits, ok := a.serviceLimits(tx)
	if ok {
		if limits.MaxAmount > 0 && tx.Amount > limits.MaxAmount {
			out.Flags = append(out.Flags, TxFlag{Name: "amount_limit_exceeded", Value: 0.5, Confidence: 0.9})
		}
		if limits.MaxPerHour > 0 {
			recent := countRecentSameService(tx, at, history)
			if recent+1 > limits.MaxPerHour {
				out.Flags = append(out.Flags, TxFlag{Name: "velocity_exceeded", Value: 0.7, Confidence: 0.95})
			}
		}
		if limits.CashInOutWindow > 0 && tx.Direction == "cash_out" {
			if entry, found := lastCashIn(tx, at, history, limits.CashInOutWindow); found {
				out.Flags = append(out.Flags, TxFlag{Name: "rapid_cash_in_cash_out", Value: 0.4, Confidence: 0.9})
				if tx.AgentID != "" && entry.Tx.AgentID == tx.AgentID {
					out.Flags = append(out.Flags, TxFlag{Name: "same_agent_cash_in_out", Value: 0.35, Confidence: 0.95})
				}
			}
		}
		if limits.UnusualHourEnd > limits.UnusualHourStart {
			hour := at.Hour()
			if hour >= limits.UnusualHourStart && hour < limits.UnusualHourEnd {
				out.Flags = append(out.Flags, TxFlag{Name: "unusual_hour", Value: 0.3, Confidence: 0.7})
			}
		}
	}

	if tx.Operator != "" && crossOperator(tx, at, history) {
		out.Flags = append(out.Flags, TxFlag{Name: "cross_operator", Value: 0.25, Confidence: 0.8})
	}

	for _, f := range out.Flags {
		out.Risk += f.Value
	}
	out.Risk = capRisk(out.Risk)

	switch {
	case out.Risk >= 0.85:
		out.Recommendation = models.VerdictBlock
	case out.Risk >= 0.5:
		out.Recommendation = models.VerdictReview
	}
	return out
}

func (a *tableAnalyzer) serviceLimits(tx *models.TransactionEvent) (ServiceLimits, bool) {
	if limits, ok := a.table.Services[strings.ToLower(tx.Service)]; ok {
		return limits, true
	}
	limits, ok := a.table.Services[strings.ToLower(tx.Type)]
	return limits, ok
}

func (a *tableAnalyzer) AnalyzeDevice(dev *models.DeviceFingerprint) DeviceAnalysis {
	var out DeviceAnalysis
	if dev == nil {
		return out
	}

	if dev.IsRooted {
		out.Flags = append(out.Flags, "rooted_device")
		out.Risk += 0.4
	}
	if dev.IsEmulator {
		out.Flags = append(out.Flags, "emulator")
		out.Risk += 0.4
	}
	if dev.Carrier != "" && !containsFold(a.table.KnownCarriers, dev.Carrier) {
		out.Flags = append(out.Flags, "unknown_carrier")
		out.Risk += 0.2
	}
	if dev.Language != "" && len(a.table.ExpectedLanguages) > 0 {
		lang := strings.SplitN(dev.Language, "-", 2)[0]
		if !containsFold(a.table.ExpectedLanguages, lang) {
			out.Flags = append(out.Flags, "unusual_language")
			out.Risk += 0.15
		}
	}

	out.Risk = capRisk(out.Risk)
	return out
}

func (a *tableAnalyzer) RegionalRules() models.PolicyOverlay {
	return a.table.Overlay
}

// Registry maps region codes to analyzers and folds their overlays into
// tenant policies at load time.
type Registry struct {
	analyzers map[string]Analyzer
}

// NewRegistry builds a registry over the built-in region tables.
func NewRegistry() *Registry {
	r := &Registry{analyzers: make(map[string]Analyzer, len(builtinTables))}
	for _, table := range builtinTables {
		r.analyzers[table.Code] = NewAnalyzer(table)
	}
	return r
}

// Register adds or replaces the analyzer for a region.
func (r *Registry) Register(a Analyzer) {
	r.analyzers[a.Region()] = a
}

// SetChecksumValidator plugs the external check-digit routine into every
// table-backed analyzer. Custom analyzers manage their own.
func (r *Registry) SetChecksumValidator(cv ChecksumValidator) {
	for _, a := range r.analyzers {
		if ta, ok := a.(*tableAnalyzer); ok {
			ta.checksums = cv
		}
	}
}

// Get returns the analyzer for a region code.
func (r *Registry) Get(region string) (Analyzer, bool) {
	a, ok := r.analyzers[strings.ToUpper(region)]
	return a, ok
}

// MergeOverlays folds, for each of the tenant's regions, first the region's
// built-in overlay and then the tenant's own region overlay into the tenant
// policy. Unknown regions are a configuration error.
func (r *Registry) MergeOverlays(cfg *models.TenantConfig) error {
	for _, region := range cfg.Regions {
		analyzer, ok := r.Get(region)
		if !ok {
			return fmt.Errorf("unsupported region %q", region)
		}
		applyOverlay(&cfg.Policy, cfg, analyzer.RegionalRules())
		if tenantOverlay, ok := cfg.RegionOverlays[strings.ToUpper(region)]; ok {
			applyOverlay(&cfg.Policy, cfg, tenantOverlay)
		}
	}
	return nil
}

func applyOverlay(p *models.AdaptivePolicy, cfg *models.TenantConfig, overlay models.PolicyOverlay) {
	if overlay.GeoVelocityThreshold > 0 {
		p.GeoVelocityThreshold = overlay.GeoVelocityThreshold
	}
	for _, country := range overlay.HighRiskCountries {
		if !cfg.IsHighRiskCountry(country) {
			cfg.HighRiskCountries = append(cfg.HighRiskCountries, country)
		}
	}
	if len(overlay.SignalWeights) > 0 {
		if p.SignalWeights == nil {
			p.SignalWeights = make(map[string]float64, len(overlay.SignalWeights))
		}
		for k, v := range overlay.SignalWeights {
			p.SignalWeights[k] = v
		}
	}
}

func countRecentSameService(tx *models.TransactionEvent, at time.Time, history []HistoryEntry) int {
	cutoff := at.Add(-time.Hour)
	count := 0
	for _, entry := range history {
		if entry.At.Before(cutoff) || entry.At.After(at) {
			continue
		}
		if strings.EqualFold(entry.Tx.Service, tx.Service) {
			count++
		}
	}
	return count
}

func lastCashIn(tx *models.TransactionEvent, at time.Time, history []HistoryEntry, window time.Duration) (HistoryEntry, bool) {
	var best HistoryEntry
	found := false
	cutoff := at.Add(-window)
	for _, entry := range history {
		if entry.Tx.Direction != "cash_in" || !strings.EqualFold(entry.Tx.Service, tx.Service) {
			continue
		}
		if entry.At.Before(cutoff) || entry.At.After(at) {
			continue
		}
		if !found || entry.At.After(best.At) {
			best = entry
			found = true
		}
	}
	return best, found
}

func crossOperator(tx *models.TransactionEvent, at time.Time, history []HistoryEntry) bool {
	cutoff := at.Add(-time.Hour)
	for _, entry := range history {
		if entry.At.Before(cutoff) || entry.At.After(at) {
			continue
		}
		if entry.Tx.Operator != "" && !strings.EqualFold(entry.Tx.Operator, tx.Operator) &&
			strings.EqualFold(entry.Tx.Service, tx.Service) {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func capRisk(r float64) float64 {
	if r > 1 {
		return 1
	}
	return r
}

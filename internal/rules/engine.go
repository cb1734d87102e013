package rules

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/trustguard/riskcore/internal/models"
)

// ruleBudget is the wall-clock budget for a single rule. A rule that blows
// the budget counts as not triggered.
const ruleBudget = 10 * time.Millisecond

// Rule is one declarative fraud rule. Market restricts the rule to a region
// code; empty or "all" applies everywhere.
type Rule struct {
	ID           string    `json:"id" yaml:"id" validate:"required"`
	Name         string    `json:"name" yaml:"name" validate:"required"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Market       string    `json:"market,omitempty" yaml:"market,omitempty"`
	Enabled      bool      `json:"enabled" yaml:"enabled"`
	Contribution float64   `json:"risk_contribution" yaml:"risk_contribution" validate:"gte=0,lte=1"`
	Condition    Condition `json:"condition" yaml:"condition"`
}

// TriggeredRule records one rule that fired during evaluation.
type TriggeredRule struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// Result is the outcome of evaluating the rule set against one context.
type Result struct {
	Triggered      []TriggeredRule `json:"triggered"`
	AggregateScore float64         `json:"aggregate_score"`
	TotalRules     int             `json:"total_rules"`
	TriggeredCount int             `json:"triggered_count"`
	Failed         int             `json:"failed"`
}

// Engine evaluates the loaded rule set. Rules can be swapped at runtime via
// Replace; evaluation holds a read lock only.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.Replace(rules)
	return e
}

// LoadRules reads a YAML rule file into a slice usable by NewEngine or
// Replace.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %q has no id", r.Name)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Contribution < 0 || r.Contribution > 1 {
			return nil, fmt.Errorf("rule %q: risk_contribution %v out of range", r.ID, r.Contribution)
		}
	}
	return doc.Rules, nil
}

// Replace swaps the active rule set.
func (e *Engine) Replace(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Rules returns a snapshot of the active rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every enabled rule matching the market against env. A rule
// whose condition errors, panics or exceeds its budget is logged and counted
// as not triggered; the remaining rules still run. The aggregate score is the
// capped sum of triggered contributions.
func (e *Engine) Evaluate(env *Env, market string) Result {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	result := Result{TotalRules: len(rules)}

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || !marketMatches(rule.Market, market) {
			continue
		}

		triggered, err := evaluateRule(rule, env)
		if err != nil {
			result.Failed++
			log.Warn().
				Err(err).
				Str("rule_id", rule.ID).
				Str("rule_name", rule.Name).
				Msg("Rule evaluation failed, skipping")
			continue
		}
		if !triggered {
			continue
		}

		result.Triggered = append(result.Triggered, TriggeredRule{
			ID:           rule.ID,
			Name:         rule.Name,
			Contribution: rule.Contribution,
		})
		result.AggregateScore += rule.Contribution
	}

	result.TriggeredCount = len(result.Triggered)
	if result.AggregateScore > 1 {
		result.AggregateScore = 1
	}
	return result
}

func evaluateRule(rule *Rule, env *Env) (triggered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			triggered = false
			err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()

	scoped := *env
	scoped.deadline = time.Now().Add(ruleBudget)
	return rule.Condition.Evaluate(&scoped)
}

func marketMatches(ruleMarket, market string) bool {
	return ruleMarket == "" || ruleMarket == "all" || ruleMarket == market
}

// BuildEnv flattens an authentication context and its profile into the field
// map conditions evaluate against.
func BuildEnv(auth *models.AuthContext, regionCode string, profile map[string]interface{}, now time.Time) *Env {
	fields := make(map[string]interface{}, 16+len(profile))
	fields["user_id"] = auth.UserID
	fields["tenant_id"] = auth.TenantID
	fields["region_code"] = regionCode
	fields["ip_address"] = auth.IP
	fields["timestamp"] = auth.Timestamp

	if auth.Location != nil {
		fields["location.country_code"] = auth.Location.CountryCode
		fields["location.city"] = auth.Location.City
		fields["location.is_vpn"] = auth.Location.IsVPN
		fields["location.is_proxy"] = auth.Location.IsProxy
		fields["location.is_tor"] = auth.Location.IsTor
	}
	if auth.Device != nil {
		fields["device.device_id"] = auth.Device.DeviceID
		fields["device.os"] = auth.Device.OS
		fields["device.is_rooted"] = auth.Device.IsRooted
		fields["device.is_emulator"] = auth.Device.IsEmulator
		fields["device.carrier"] = auth.Device.Carrier
		fields["device.trusted"] = auth.Device.Trusted
		fields["device.risk_score"] = auth.Device.RiskScore
	}
	for k, v := range profile {
		fields[k] = v
	}

	return &Env{Fields: fields, Now: now, Tenant: auth.Tenant}
}

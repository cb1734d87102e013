package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/trustguard/riskcore/internal/models"
)

// Env is the evaluation environment a condition reads from. Fields carry the
// flattened context, behaviour analysis and event values; conditions are pure
// predicates over it with no I/O.
type Env struct {
	Fields map[string]interface{}
	Now    time.Time
	Tenant *models.TenantConfig

	deadline time.Time
}

// Get returns a field value or a default when absent.
func (e *Env) Get(field string) interface{} {
	return e.Fields[field]
}

// GetOrDefault mirrors the helper exposed to rule authors.
func (e *Env) GetOrDefault(field string, def interface{}) interface{} {
	if v, ok := e.Fields[field]; ok && v != nil {
		return v
	}
	return def
}

// Condition is a tagged-variant predicate node. Type selects the variant:
//
//	threshold    Field Operator Value        (>, <, >=, <=, =, !=)
//	compound     Operator Conditions         (AND, OR)
//	not          Conditions[0]
//	time_range   Start <= local hour < End
//	in_list      Field Values                (is_in)
//	contains     Field Value                 (substring)
//	starts_with  Field Value
//	pattern      Field Pattern               (anchored regexp)
//	business_hours / weekend                 (on Env.Now)
//	high_risk_country                        (Field against tenant list)
//	time_diff_minutes Field Operator Value   (minutes since Field timestamp)
type Condition struct {
	Type       string        `json:"type" yaml:"type"`
	Field      string        `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   string        `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      interface{}   `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []string      `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern    string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Start      int           `json:"start,omitempty" yaml:"start,omitempty"`
	End        int           `json:"end,omitempty" yaml:"end,omitempty"`
}

var (
	patternMu    sync.RWMutex
	patternCache = make(map[string]*regexp.Regexp)
)

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	patternMu.RLock()
	re, ok := patternCache[pattern]
	patternMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, err
	}
	patternMu.Lock()
	patternCache[pattern] = re
	patternMu.Unlock()
	return re, nil
}

// Evaluate resolves the predicate against env. Evaluation past the per-rule
// deadline fails, which the engine treats as not triggered.
func (c *Condition) Evaluate(env *Env) (bool, error) {
	if !env.deadline.IsZero() && time.Now().After(env.deadline) {
		return false, fmt.Errorf("condition evaluation exceeded budget")
	}

	switch c.Type {
	case "threshold":
		return c.evaluateThreshold(env)
	case "compound":
		return c.evaluateCompound(env)
	case "not":
		if len(c.Conditions) != 1 {
			return false, fmt.Errorf("not condition requires exactly one child")
		}
		inner, err := c.Conditions[0].Evaluate(env)
		return !inner, err
	case "time_range":
		hour := env.Now.Hour()
		return hour >= c.Start && hour < c.End, nil
	case "in_list":
		s, ok := env.Get(c.Field).(string)
		if !ok {
			return false, nil
		}
		for _, v := range c.Values {
			if v == s {
				return true, nil
			}
		}
		return false, nil
	case "contains":
		s, _ := env.Get(c.Field).(string)
		sub, _ := c.Value.(string)
		return sub != "" && strings.Contains(s, sub), nil
	case "starts_with":
		s, _ := env.Get(c.Field).(string)
		prefix, _ := c.Value.(string)
		return prefix != "" && strings.HasPrefix(s, prefix), nil
	case "pattern":
		s, ok := env.Get(c.Field).(string)
		if !ok {
			return false, nil
		}
		re, err := compiledPattern(c.Pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
		}
		return re.MatchString(s), nil
	case "business_hours":
		wd := env.Now.Weekday()
		hour := env.Now.Hour()
		return wd >= time.Monday && wd <= time.Friday && hour >= 9 && hour < 18, nil
	case "weekend":
		wd := env.Now.Weekday()
		return wd == time.Saturday || wd == time.Sunday, nil
	case "high_risk_country":
		s, ok := env.Get(c.Field).(string)
		if !ok || env.Tenant == nil {
			return false, nil
		}
		return env.Tenant.IsHighRiskCountry(s), nil
	case "time_diff_minutes":
		ts, ok := env.Get(c.Field).(time.Time)
		if !ok {
			return false, nil
		}
		minutes := env.Now.Sub(ts).Minutes()
		return compareFloat(minutes, c.Value, c.Operator)
	default:
		return false, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

func (c *Condition) evaluateThreshold(env *Env) (bool, error) {
	fieldValue := env.Get(c.Field)

	switch c.Operator {
	case ">", "<", ">=", "<=":
		f, ok := toFloat64(fieldValue)
		if !ok {
			return false, nil
		}
		return compareFloat(f, c.Value, c.Operator)
	case "=", "==":
		return compareEqual(fieldValue, c.Value), nil
	case "!=":
		return !compareEqual(fieldValue, c.Value), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

func (c *Condition) evaluateCompound(env *Env) (bool, error) {
	if len(c.Conditions) == 0 {
		return false, nil
	}
	switch c.Operator {
	case "AND":
		for i := range c.Conditions {
			ok, err := c.Conditions[i].Evaluate(env)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "OR":
		for i := range c.Conditions {
			ok, err := c.Conditions[i].Evaluate(env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown compound operator %q", c.Operator)
	}
}

func compareFloat(a float64, b interface{}, op string) (bool, error) {
	bf, ok := toFloat64(b)
	if !ok {
		return false, nil
	}
	switch op {
	case ">":
		return a > bf, nil
	case "<":
		return a < bf, nil
	case ">=":
		return a >= bf, nil
	case "<=":
		return a <= bf, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func compareEqual(a, b interface{}) bool {
	if aBool, ok := a.(bool); ok {
		if bBool, ok := b.(bool); ok {
			return aBool == bBool
		}
	}
	aFloat, aOk := toFloat64(a)
	bFloat, bOk := toFloat64(b)
	if aOk && bOk {
		return aFloat == bFloat
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

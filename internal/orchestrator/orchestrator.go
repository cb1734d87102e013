package orchestrator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/models"
)

// Verdict is the orchestrated decision outcome.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReview  Verdict = "review"
	VerdictReject  Verdict = "reject"
)

// approveMargin scales the threshold down for the approve band.
const approveMargin = 0.7

// defaultDeadline bounds the whole fan-out when no deadline is configured.
const defaultDeadline = 2 * time.Second

// defaultThreshold applies when the tenant policy carries no high-risk
// threshold.
const defaultThreshold = 0.8

// Input is the shared request bundle every agent sees.
type Input struct {
	Auth        *models.AuthContext
	Region      string
	Profile     *contextstore.BehavioralProfile
	Signals     []models.RiskSignal
	Transaction *models.TransactionEvent
	TxPerHour   int
}

// Insight is one agent observation surfaced to reviewers.
type Insight struct {
	Agent   string  `json:"agent"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// AgentContext is the shared scratchpad agents write into while assessing.
// All methods are safe for concurrent use.
type AgentContext struct {
	mu          sync.Mutex
	insights    []Insight
	riskFactors map[string]struct{}
	indicators  map[string]float64
}

func NewAgentContext() *AgentContext {
	return &AgentContext{
		riskFactors: make(map[string]struct{}),
		indicators:  make(map[string]float64),
	}
}

// AddInsight records one observation.
func (ac *AgentContext) AddInsight(agent, summary string, score float64) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.insights = append(ac.insights, Insight{Agent: agent, Summary: summary, Score: score})
}

// AddRiskFactor records a named factor; duplicates collapse.
func (ac *AgentContext) AddRiskFactor(name string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.riskFactors[name] = struct{}{}
}

// SetIndicator records a named metric; the highest value wins on conflict.
func (ac *AgentContext) SetIndicator(name string, value float64) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if existing, ok := ac.indicators[name]; !ok || value > existing {
		ac.indicators[name] = value
	}
}

func (ac *AgentContext) snapshot() ([]Insight, []string, map[string]float64) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	insights := make([]Insight, len(ac.insights))
	copy(insights, ac.insights)

	factors := make([]string, 0, len(ac.riskFactors))
	for name := range ac.riskFactors {
		factors = append(factors, name)
	}
	sort.Strings(factors)

	indicators := make(map[string]float64, len(ac.indicators))
	for name, value := range ac.indicators {
		indicators[name] = value
	}
	return insights, factors, indicators
}

// Finding is one agent's weighted risk opinion.
type Finding struct {
	Risk   float64
	Weight float64
}

// Agent assesses the input and contributes a weighted risk opinion plus any
// insights it writes into the shared context.
type Agent interface {
	Name() string
	Assess(ctx context.Context, in *Input, ac *AgentContext) (Finding, error)
}

// Decision is the orchestrated outcome.
type Decision struct {
	Verdict     Verdict            `json:"verdict"`
	TotalRisk   float64            `json:"total_risk"`
	Confidence  float64            `json:"decision_confidence"`
	Insights    []Insight          `json:"insights,omitempty"`
	RiskFactors []string           `json:"risk_factors,omitempty"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
	Completed   []string           `json:"completed_agents"`
	Missed      []string           `json:"missed_agents,omitempty"`
	ElapsedMs   int64              `json:"elapsed_ms"`
}

// Orchestrator fans a request out to its agents in parallel under one global
// deadline and folds their findings into a verdict.
type Orchestrator struct {
	agents   []Agent
	deadline time.Duration
}

// New builds an orchestrator. A zero deadline falls back to the default.
func New(deadline time.Duration, agents ...Agent) *Orchestrator {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	return &Orchestrator{agents: agents, deadline: deadline}
}

type agentResult struct {
	name    string
	finding Finding
	err     error
}

// Decide runs the fan-out. Agents that miss the deadline or fail contribute
// nothing; the decision is taken over whatever completed in time.
func (o *Orchestrator) Decide(ctx context.Context, in *Input) *Decision {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	ac := NewAgentContext()
	results := make(chan agentResult, len(o.agents))
	for _, agent := range o.agents {
		go func(agent Agent) {
			finding, err := agent.Assess(ctx, in, ac)
			results <- agentResult{name: agent.Name(), finding: finding, err: err}
		}(agent)
	}

	completed := make([]string, 0, len(o.agents))
	var totalWeighted, totalWeight float64
	received := 0

collect:
	for received < len(o.agents) {
		select {
		case res := <-results:
			received++
			if res.err != nil {
				log.Warn().Err(res.err).Str("agent", res.name).Msg("Agent assessment failed")
				continue
			}
			if res.finding.Weight <= 0 {
				continue
			}
			completed = append(completed, res.name)
			totalWeighted += res.finding.Risk * res.finding.Weight
			totalWeight += res.finding.Weight

		case <-ctx.Done():
			break collect
		}
	}

	missed := missedAgents(o.agents, completed)

	risk := 0.5
	if totalWeight > 0 {
		risk = clamp01(totalWeighted / totalWeight)
	}

	threshold := thresholdFor(in)
	verdict, confidence := resolve(risk, threshold)

	insights, factors, indicators := ac.snapshot()
	decision := &Decision{
		Verdict:     verdict,
		TotalRisk:   risk,
		Confidence:  confidence,
		Insights:    insights,
		RiskFactors: factors,
		Indicators:  indicators,
		Completed:   completed,
		Missed:      missed,
		ElapsedMs:   time.Since(start).Milliseconds(),
	}

	log.Info().
		Str("verdict", string(verdict)).
		Float64("total_risk", risk).
		Float64("confidence", confidence).
		Strs("completed", completed).
		Strs("missed", missed).
		Msg("Orchestrated decision")
	return decision
}

// resolve maps total risk to the verdict band and its confidence.
func resolve(risk, threshold float64) (Verdict, float64) {
	switch {
	case risk <= approveMargin*threshold:
		return VerdictApprove, 1 - risk
	case risk > threshold:
		return VerdictReject, risk
	default:
		return VerdictReview, 0.5 - math.Abs(0.5-risk)
	}
}

func thresholdFor(in *Input) float64 {
	if in != nil && in.Auth != nil && in.Auth.Tenant != nil {
		if t := in.Auth.Tenant.Policy.HighRiskThreshold; t > 0 {
			return t
		}
	}
	return defaultThreshold
}

func missedAgents(agents []Agent, completed []string) []string {
	done := make(map[string]struct{}, len(completed))
	for _, name := range completed {
		done[name] = struct{}{}
	}
	var missed []string
	for _, agent := range agents {
		if _, ok := done[agent.Name()]; !ok {
			missed = append(missed, agent.Name())
		}
	}
	return missed
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

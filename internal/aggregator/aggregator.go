package aggregator

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/policy"
	"github.com/trustguard/riskcore/internal/rules"
)

// mlBlendWeight is the share of the combined score taken by the ML model
// when a prediction is available. The signal-derived base keeps the rest.
const mlBlendWeight = 0.4

// Input carries everything one aggregation needs. RuleResult and MLScore are
// optional; either may be absent when the corresponding stage did not run.
type Input struct {
	Signals    []models.RiskSignal
	RuleResult *rules.Result
	MLScore    *float64
	Policy     *models.AdaptivePolicy
	Timestamp  time.Time
}

// Output is the aggregated risk with the signal set that produced it,
// including the synthetic rule-engine signal when rules fired.
type Output struct {
	Score   float64
	Level   models.RiskLevel
	Signals []models.RiskSignal
}

// Aggregator folds processor signals, rule results and the optional ML score
// into a single calibrated risk score.
type Aggregator struct{}

func New() *Aggregator {
	return &Aggregator{}
}

// Aggregate computes the weighted signal mean, blends in the ML prediction,
// applies the tenant sensitivity remap and maps the score to a level.
//
// Each signal contributes value x weight x confidence, where the weight comes
// from the tenant signal-weight table. Signals whose value is not coercible
// to a number are dropped. With no usable signals the base defaults to 0.5.
func (a *Aggregator) Aggregate(in Input) Output {
	signals := in.Signals
	if in.RuleResult != nil && in.RuleResult.TriggeredCount > 0 {
		signals = append(signals, models.RiskSignal{
			Type:       "rule_engine",
			Value:      in.RuleResult.AggregateScore,
			Confidence: 1.0,
			Timestamp:  in.Timestamp,
		})
	}

	var weightedSum, weightTotal float64
	kept := signals[:0:0]
	for _, sig := range signals {
		value, ok := sig.NumericValue()
		if !ok {
			log.Debug().
				Str("signal_type", sig.Type).
				Msg("Dropping non-numeric risk signal")
			continue
		}
		weight := policy.WeightFor(in.Policy, sig.Type) * sig.Confidence
		weightedSum += value * weight
		weightTotal += weight
		kept = append(kept, sig)
	}

	base := 0.5
	if weightTotal > 0 {
		base = weightedSum / weightTotal
	}

	combined := base
	if in.MLScore != nil {
		combined = (1-mlBlendWeight)*base + mlBlendWeight*clamp01(*in.MLScore)
	}

	sensitivity := 0.7
	if in.Policy != nil {
		sensitivity = in.Policy.Sensitivity
	}
	score := clamp01(ApplySensitivity(combined, sensitivity))

	level := models.RiskLevelLow
	if in.Policy != nil {
		level = in.Policy.LevelFor(score)
	}

	return Output{Score: score, Level: level, Signals: kept}
}

// ApplySensitivity remaps a raw score around the neutral sensitivity of 0.5.
// Values above 0.5 push scores up, values below pull them down; 0 and 1 are
// fixpoints in both directions and 0.5 is the identity.
func ApplySensitivity(score, sensitivity float64) float64 {
	switch {
	case sensitivity > 0.5:
		return score + (1-score)*2*(sensitivity-0.5)*score
	case sensitivity < 0.5:
		return score - score*2*(0.5-sensitivity)*(1-score)
	default:
		return score
	}
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

package processors

import "github.com/trustguard/riskcore/internal/models"

// TimePatternProcessor flags authentication during the dead-of-night window.
type TimePatternProcessor struct{}

func NewTimePatternProcessor() *TimePatternProcessor {
	return &TimePatternProcessor{}
}

func (p *TimePatternProcessor) Name() string { return "time_pattern" }

func (p *TimePatternProcessor) Process(userID string, in *Input) []models.RiskSignal {
	hour := in.Auth.Timestamp.Hour()
	if hour < 2 || hour > 5 {
		return nil
	}
	return []models.RiskSignal{{
		Type:       "time_pattern",
		Value:      0.6,
		Confidence: 0.7,
		Timestamp:  in.Auth.Timestamp,
	}}
}

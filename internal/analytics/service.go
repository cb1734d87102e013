package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/internal/queue"
	"github.com/trustguard/riskcore/internal/repositories"
)

// TenantSummary aggregates one tenant's assessment and alert activity for a
// single day.
type TenantSummary struct {
	TenantID         string           `json:"tenant_id"`
	Date             string           `json:"date"`
	TotalAssessments int64            `json:"total_assessments"`
	AvgRiskScore     float64          `json:"avg_risk_score"`
	LevelCounts      map[string]int64 `json:"level_counts"`
	AlertCounts      map[string]int64 `json:"alert_counts"`
}

// Service provides assessment reporting for the API, cached in Redis.
type Service struct {
	assessments *repositories.AssessmentRepository
	alerts      *repositories.AlertRepository
	cache       *queue.CacheClient
}

func NewService(assessments *repositories.AssessmentRepository, alerts *repositories.AlertRepository, cache *queue.CacheClient) *Service {
	return &Service{assessments: assessments, alerts: alerts, cache: cache}
}

// TenantSummaryFor builds the summary for one tenant and day.
func (s *Service) TenantSummaryFor(ctx context.Context, tenantID string, date time.Time) (*TenantSummary, error) {
	cacheKey := fmt.Sprintf("tenant_summary:%s:%s", tenantID, date.Format("2006-01-02"))
	var cached TenantSummary
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	to := from.Add(24 * time.Hour)

	levels, err := s.assessments.LevelCounts(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count assessments: %w", err)
	}
	avg, err := s.assessments.AverageScore(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to average risk scores: %w", err)
	}
	alertCounts, err := s.alerts.SeverityCounts(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	var total int64
	for _, count := range levels {
		total += count
	}

	summary := &TenantSummary{
		TenantID:         tenantID,
		Date:             from.Format("2006-01-02"),
		TotalAssessments: total,
		AvgRiskScore:     avg,
		LevelCounts:      levels,
		AlertCounts:      alertCounts,
	}

	if s.cache != nil {
		cacheDuration := 5 * time.Minute
		if time.Since(from) > 24*time.Hour {
			cacheDuration = time.Hour
		}
		if err := s.cache.Set(ctx, cacheKey, summary, cacheDuration); err != nil {
			log.Warn().Err(err).Msg("Failed to cache tenant summary")
		}
	}
	return summary, nil
}

// TenantSummaryRange builds summaries over a date range, skipping days that
// fail.
func (s *Service) TenantSummaryRange(ctx context.Context, tenantID string, startDate, endDate time.Time) ([]*TenantSummary, error) {
	var summaries []*TenantSummary
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		summary, err := s.TenantSummaryFor(ctx, tenantID, d)
		if err != nil {
			log.Warn().Err(err).Time("date", d).Str("tenant_id", tenantID).Msg("Failed to summarize date")
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

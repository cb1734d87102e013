package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trustguard/riskcore/internal/models"
)

var ErrAssessmentNotFound = errors.New("assessment not found")

// AssessmentRepository is the audit trail of completed risk assessments.
type AssessmentRepository struct {
	db *Database
}

func NewAssessmentRepository(db *Database) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// Create records one assessment.
func (r *AssessmentRepository) Create(ctx context.Context, a *models.RiskAssessment) error {
	query := `
		INSERT INTO risk_assessments (
			id, user_id, tenant_id, session_id, assessed_at, ip,
			risk_score, risk_level, signals, required_factors, reason,
			processing_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	signals := models.JSONB{"signals": a.Signals}
	signalsBytes, _ := signals.Value()

	factors := make([]string, 0, len(a.RequiredFactors))
	for _, f := range a.RequiredFactors {
		factors = append(factors, string(f))
	}

	_, err := r.db.Pool.Exec(ctx, query,
		a.AssessmentID,
		a.UserID,
		a.TenantID,
		a.SessionID,
		a.Timestamp,
		a.IP,
		a.RiskScore,
		a.RiskLevel.String(),
		signalsBytes,
		factors,
		a.Reason,
		a.ProcessingMs,
		time.Now(),
	)
	return err
}

// GetByID retrieves one assessment.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RiskAssessment, error) {
	query := `
		SELECT id, user_id, tenant_id, session_id, assessed_at, ip,
			   risk_score, risk_level, signals, required_factors, reason,
			   processing_time_ms
		FROM risk_assessments
		WHERE id = $1
	`

	row := r.db.Pool.QueryRow(ctx, query, id)
	a, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetByUser lists a user's assessments newest first, paginated.
func (r *AssessmentRepository) GetByUser(ctx context.Context, userID string, page, pageSize int) ([]*models.RiskAssessment, int, error) {
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_assessments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, tenant_id, session_id, assessed_at, ip,
			   risk_score, risk_level, signals, required_factors, reason,
			   processing_time_ms
		FROM risk_assessments
		WHERE user_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assessments []*models.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		assessments = append(assessments, a)
	}
	return assessments, total, nil
}

// LevelCounts returns assessment counts per risk level for a tenant in a
// time range.
func (r *AssessmentRepository) LevelCounts(ctx context.Context, tenantID string, from, to time.Time) (map[string]int64, error) {
	query := `
		SELECT risk_level, COUNT(*)
		FROM risk_assessments
		WHERE tenant_id = $1 AND assessed_at >= $2 AND assessed_at < $3
		GROUP BY risk_level
	`

	rows, err := r.db.Pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		counts[level] = count
	}
	return counts, nil
}

// AverageScore returns the mean risk score for a tenant in a time range.
func (r *AssessmentRepository) AverageScore(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG(risk_score), 0)
		FROM risk_assessments
		WHERE tenant_id = $1 AND assessed_at >= $2 AND assessed_at < $3
	`

	var avg float64
	err := r.db.Pool.QueryRow(ctx, query, tenantID, from, to).Scan(&avg)
	return avg, err
}

func scanAssessment(row pgx.Row) (*models.RiskAssessment, error) {
	a := &models.RiskAssessment{}
	var level string
	var signalsBytes []byte
	var factors []string

	if err := row.Scan(
		&a.AssessmentID,
		&a.UserID,
		&a.TenantID,
		&a.SessionID,
		&a.Timestamp,
		&a.IP,
		&a.RiskScore,
		&level,
		&signalsBytes,
		&factors,
		&a.Reason,
		&a.ProcessingMs,
	); err != nil {
		return nil, err
	}

	if parsed, err := models.ParseRiskLevel(level); err == nil {
		a.RiskLevel = parsed
	}
	var signals models.JSONB
	if err := signals.Scan(signalsBytes); err == nil {
		if raw, ok := signals["signals"].([]interface{}); ok {
			a.Signals = decodeSignals(raw)
		}
	}
	for _, f := range factors {
		a.RequiredFactors = append(a.RequiredFactors, models.AuthFactor(f))
	}
	return a, nil
}

func decodeSignals(raw []interface{}) []models.RiskSignal {
	signals := make([]models.RiskSignal, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sig := models.RiskSignal{Value: entry["value"]}
		if t, ok := entry["type"].(string); ok {
			sig.Type = t
		}
		if c, ok := entry["confidence"].(float64); ok {
			sig.Confidence = c
		}
		if ts, ok := entry["timestamp"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				sig.Timestamp = parsed
			}
		}
		signals = append(signals, sig)
	}
	return signals
}

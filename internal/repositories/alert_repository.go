package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trustguard/riskcore/internal/models"
)

var ErrAlertNotFound = errors.New("alert not found")

// AlertRepository is the persistent alert log.
type AlertRepository struct {
	db *Database
}

func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create records one alert. Re-inserting the same alert_id is a no-op so
// dispatch retries stay idempotent.
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (
			id, user_id, tenant_id, region_code, alert_type, severity,
			risk_score, anomalies, event_ref, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	detailsBytes, _ := models.JSONB(alert.Details).Value()

	_, err := r.db.Pool.Exec(ctx, query,
		alert.AlertID,
		alert.UserID,
		alert.TenantID,
		alert.RegionCode,
		alert.Type,
		alert.Severity.String(),
		alert.RiskScore,
		alert.Anomalies,
		alert.EventRef,
		detailsBytes,
		alert.CreatedAt,
	)
	return err
}

// GetByID retrieves one alert.
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `
		SELECT id, user_id, tenant_id, region_code, alert_type, severity,
			   risk_score, anomalies, event_ref, details, created_at
		FROM alerts
		WHERE id = $1
	`

	row := r.db.Pool.QueryRow(ctx, query, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// GetRecent lists the newest alerts for a tenant.
func (r *AlertRepository) GetRecent(ctx context.Context, tenantID string, limit int) ([]*models.Alert, error) {
	query := `
		SELECT id, user_id, tenant_id, region_code, alert_type, severity,
			   risk_score, anomalies, event_ref, details, created_at
		FROM alerts
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// SeverityCounts returns alert counts per severity for a tenant in a time
// range.
func (r *AlertRepository) SeverityCounts(ctx context.Context, tenantID string, from, to time.Time) (map[string]int64, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY severity
	`

	rows, err := r.db.Pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		counts[severity] = count
	}
	return counts, nil
}

func scanAlert(row pgx.Row) (*models.Alert, error) {
	alert := &models.Alert{}
	var severity string
	var detailsBytes []byte

	if err := row.Scan(
		&alert.AlertID,
		&alert.UserID,
		&alert.TenantID,
		&alert.RegionCode,
		&alert.Type,
		&severity,
		&alert.RiskScore,
		&alert.Anomalies,
		&alert.EventRef,
		&detailsBytes,
		&alert.CreatedAt,
	); err != nil {
		return nil, err
	}

	for i, name := range []string{"low", "medium", "high", "critical", "emergency"} {
		if name == severity {
			alert.Severity = models.AlertSeverity(i)
			break
		}
	}
	var details models.JSONB
	if err := details.Scan(detailsBytes); err == nil && details != nil {
		alert.Details = details
	}
	return alert, nil
}

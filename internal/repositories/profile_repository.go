package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trustguard/riskcore/internal/contextstore"
)

// ProfileRepository persists behavioural profiles as JSONB documents. It
// implements contextstore.ProfileStore; the store treats every error here as
// non-fatal and degrades to an empty default.
type ProfileRepository struct {
	db *Database
}

func NewProfileRepository(db *Database) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// LoadProfile returns the stored profile, or (nil, nil) when the user has
// none yet.
func (r *ProfileRepository) LoadProfile(ctx context.Context, userID string) (*contextstore.BehavioralProfile, error) {
	query := `
		SELECT profile
		FROM behavioral_profiles
		WHERE user_id = $1
	`

	var raw []byte
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	profile := &contextstore.BehavioralProfile{}
	if err := json.Unmarshal(raw, profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return profile, nil
}

// SaveProfile upserts the profile document.
func (r *ProfileRepository) SaveProfile(ctx context.Context, profile *contextstore.BehavioralProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	query := `
		INSERT INTO behavioral_profiles (user_id, tenant_id, profile, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET tenant_id = $2, profile = $3, updated_at = $4
	`

	_, err = r.db.Pool.Exec(ctx, query, profile.UserID, profile.TenantID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// DeleteProfile removes a user's stored profile (data-erasure requests).
func (r *ProfileRepository) DeleteProfile(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM behavioral_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

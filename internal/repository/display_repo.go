package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
)

// PostgresDisplayRepo 显示覆盖 PostgreSQL 实现
type PostgresDisplayRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresDisplayRepo(db *sql.DB, logger *zap.Logger) *PostgresDisplayRepo {
	return &PostgresDisplayRepo{db: db, logger: logger}
}

func (r *PostgresDisplayRepo) Get(ctx context.Context, deviceID string) (*domain.DisplayOverride, error) {
	query := `
		SELECT id, device_id, animation_type, animation_id, animation_name,
		       show_home_icon, show_food_icon, show_poop_icon,
		       screen_type, updated_at, updated_by
		FROM display_overrides
		WHERE device_id = $1`

	var o domain.DisplayOverride
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&o.ID, &o.DeviceID, &o.AnimationType, &o.AnimationID, &o.AnimationName,
		&o.ShowHomeIcon, &o.ShowFoodIcon, &o.ShowPoopIcon,
		&o.ScreenType, &o.UpdatedAt, &o.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query display override: %w", err)
	}
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (r *PostgresDisplayRepo) Upsert(ctx context.Context, o *domain.DisplayOverride) error {
	query := `
		INSERT INTO display_overrides (
			device_id, animation_type, animation_id, animation_name,
			show_home_icon, show_food_icon, show_poop_icon,
			screen_type, updated_at, updated_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (device_id) DO UPDATE SET
			animation_type = EXCLUDED.animation_type,
			animation_id = EXCLUDED.animation_id,
			animation_name = EXCLUDED.animation_name,
			show_home_icon = EXCLUDED.show_home_icon,
			show_food_icon = EXCLUDED.show_food_icon,
			show_poop_icon = EXCLUDED.show_poop_icon,
			screen_type = EXCLUDED.screen_type,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		o.DeviceID, o.AnimationType, o.AnimationID, o.AnimationName,
		o.ShowHomeIcon, o.ShowFoodIcon, o.ShowPoopIcon,
		o.ScreenType, o.UpdatedAt.UTC(), o.UpdatedBy).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert display override: %w", err)
	}
	r.logger.Info("Display override saved",
		zap.String("device_id", o.DeviceID),
		zap.String("animation_name", o.AnimationName),
		zap.String("updated_by", o.UpdatedBy))
	return nil
}

func (r *PostgresDisplayRepo) Delete(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM display_overrides WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete display override: %w", err)
	}
	return nil
}

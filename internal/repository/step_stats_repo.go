package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
)

// PostgresStepStatRepo 步数日统计 PostgreSQL 实现
type PostgresStepStatRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStepStatRepo(db *sql.DB, logger *zap.Logger) *PostgresStepStatRepo {
	return &PostgresStepStatRepo{db: db, logger: logger}
}

func (r *PostgresStepStatRepo) AddSteps(ctx context.Context, deviceID string, day time.Time, steps int, avgInterval float64) error {
	// 累加当日步数，峰值取单批次最大；活动等级随总数重算
	query := `
		INSERT INTO step_statistics (device_id, date_recorded, total_steps, peak_steps, avg_step_interval, activity_level, updated_at)
		VALUES ($1, $2, $3, $3, $4, $5, now())
		ON CONFLICT (device_id, date_recorded) DO UPDATE SET
			total_steps = step_statistics.total_steps + EXCLUDED.total_steps,
			peak_steps = GREATEST(step_statistics.peak_steps, EXCLUDED.peak_steps),
			avg_step_interval = EXCLUDED.avg_step_interval,
			activity_level = CASE
				WHEN step_statistics.total_steps + EXCLUDED.total_steps = 0 THEN 'INACTIVE'
				WHEN step_statistics.total_steps + EXCLUDED.total_steps < 500 THEN 'LOW'
				WHEN step_statistics.total_steps + EXCLUDED.total_steps < 2000 THEN 'MODERATE'
				WHEN step_statistics.total_steps + EXCLUDED.total_steps < 5000 THEN 'HIGH'
				ELSE 'VERY_HIGH'
			END,
			updated_at = now()`

	_, err := r.db.ExecContext(ctx, query,
		deviceID, dateOnly(day), steps, avgInterval, domain.ActivityLevelFor(steps))
	if err != nil {
		return fmt.Errorf("failed to add steps: %w", err)
	}
	return nil
}

func (r *PostgresStepStatRepo) ReplaceDaily(ctx context.Context, s *domain.StepDailyStat) error {
	query := `
		INSERT INTO step_statistics (device_id, date_recorded, total_steps, peak_steps, avg_step_interval, activity_level, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (device_id, date_recorded) DO UPDATE SET
			total_steps = EXCLUDED.total_steps,
			peak_steps = EXCLUDED.peak_steps,
			avg_step_interval = EXCLUDED.avg_step_interval,
			activity_level = EXCLUDED.activity_level,
			updated_at = now()`

	_, err := r.db.ExecContext(ctx, query,
		s.DeviceID, dateOnly(s.Date), s.TotalSteps, s.PeakSteps, s.AvgStepInterval, s.ActivityLevel)
	if err != nil {
		return fmt.Errorf("failed to replace daily stat: %w", err)
	}
	return nil
}

func (r *PostgresStepStatRepo) Get(ctx context.Context, deviceID string, day time.Time) (*domain.StepDailyStat, error) {
	query := `
		SELECT id, device_id, date_recorded, total_steps, peak_steps, avg_step_interval, activity_level, updated_at
		FROM step_statistics
		WHERE device_id = $1 AND date_recorded = $2`

	var s domain.StepDailyStat
	err := r.db.QueryRowContext(ctx, query, deviceID, dateOnly(day)).Scan(
		&s.ID, &s.DeviceID, &s.Date, &s.TotalSteps, &s.PeakSteps,
		&s.AvgStepInterval, &s.ActivityLevel, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stat: %w", err)
	}
	return &s, nil
}

func (r *PostgresStepStatRepo) Range(ctx context.Context, deviceID string, from, to time.Time) ([]*domain.StepDailyStat, error) {
	query := `
		SELECT id, device_id, date_recorded, total_steps, peak_steps, avg_step_interval, activity_level, updated_at
		FROM step_statistics
		WHERE device_id = $1 AND date_recorded >= $2 AND date_recorded <= $3
		ORDER BY date_recorded ASC`

	rows, err := r.db.QueryContext(ctx, query, deviceID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query stat range: %w", err)
	}
	defer rows.Close()

	var out []*domain.StepDailyStat
	for rows.Next() {
		var s domain.StepDailyStat
		err := rows.Scan(&s.ID, &s.DeviceID, &s.Date, &s.TotalSteps, &s.PeakSteps,
			&s.AvgStepInterval, &s.ActivityLevel, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// dateOnly 归一化到 UTC 自然日零点（DATE 列）
func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

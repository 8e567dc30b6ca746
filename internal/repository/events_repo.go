package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
)

// PostgresEventRepo 重要事件 PostgreSQL 实现
type PostgresEventRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresEventRepo(db *sql.DB, logger *zap.Logger) *PostgresEventRepo {
	return &PostgresEventRepo{db: db, logger: logger}
}

func (r *PostgresEventRepo) Insert(ctx context.Context, e *domain.ImportantEvent) error {
	query := `
		INSERT INTO important_events (device_id, event_type, message, created_at, is_sent)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		e.DeviceID, e.EventType, e.Message, e.CreatedAt.UTC()).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	r.logger.Info("Important event recorded",
		zap.Int64("event_id", e.ID),
		zap.String("device_id", e.DeviceID),
		zap.String("event_type", e.EventType))
	return nil
}

func (r *PostgresEventRepo) Unsent(ctx context.Context, deviceID string, limit int) ([]*domain.ImportantEvent, error) {
	query := `
		SELECT id, device_id, event_type, message, created_at, is_sent
		FROM important_events
		WHERE device_id = $1 AND is_sent = FALSE
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent events: %w", err)
	}
	defer rows.Close()

	var out []*domain.ImportantEvent
	for rows.Next() {
		var e domain.ImportantEvent
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.EventType, &e.Message, &e.CreatedAt, &e.Sent); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *PostgresEventRepo) MarkSent(ctx context.Context, id int64) error {
	// 重复确认按成功处理（设备重试），行不存在才报未找到
	var sent bool
	err := r.db.QueryRowContext(ctx,
		`UPDATE important_events SET is_sent = TRUE WHERE id = $1 RETURNING is_sent`, id).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to mark event sent: %w", err)
	}
	return nil
}

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

// PostgresReadingRepo 传感器读数 PostgreSQL 实现
type PostgresReadingRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresReadingRepo(db *sql.DB, logger *zap.Logger) *PostgresReadingRepo {
	return &PostgresReadingRepo{db: db, logger: logger}
}

func (r *PostgresReadingRepo) Insert(ctx context.Context, rd *domain.Reading) error {
	query := `
		INSERT INTO sensor_readings (
			device_id, timestamp,
			accel_x, accel_y, accel_z,
			gyro_x, gyro_y, gyro_z,
			mic_level, orientation, orientation_confidence,
			calibrated_ax, calibrated_ay, calibrated_az,
			step_count, camera_image, image_filename, ai_caption
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		rd.DeviceID, rd.Timestamp.UTC(),
		rd.AccelX, rd.AccelY, rd.AccelZ,
		rd.GyroX, rd.GyroY, rd.GyroZ,
		rd.MicLevel, rd.Orientation, rd.OrientationConfidence,
		rd.CalibratedAX, rd.CalibratedAY, rd.CalibratedAZ,
		rd.StepCount, rd.Image, rd.ImageFilename, rd.Caption,
	).Scan(&rd.ID)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func (r *PostgresReadingRepo) Latest(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error) {
	query := selectReadingColumns + `
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

func (r *PostgresReadingRepo) LatestAccel(ctx context.Context, deviceID string) (float64, float64, float64, error) {
	query := `
		SELECT accel_x, accel_y, accel_z
		FROM sensor_readings
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT 1`

	var ax, ay, az float64
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&ax, &ay, &az)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to query latest accel: %w", err)
	}
	return ax, ay, az, nil
}

func (r *PostgresReadingRepo) ImageByID(ctx context.Context, id int64) ([]byte, string, error) {
	query := `
		SELECT camera_image, COALESCE(image_filename, '')
		FROM sensor_readings
		WHERE id = $1 AND camera_image IS NOT NULL`

	var image []byte
	var filename string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&image, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query image: %w", err)
	}
	return image, filename, nil
}

func (r *PostgresReadingRepo) LatestImage(ctx context.Context, deviceID string) ([]byte, string, string, error) {
	query := `
		SELECT camera_image, COALESCE(image_filename, ''), COALESCE(ai_caption, '')
		FROM sensor_readings
		WHERE device_id = $1 AND camera_image IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1`

	var image []byte
	var filename, caption string
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&image, &filename, &caption)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", "", ErrNotFound
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to query latest image: %w", err)
	}
	return image, filename, caption, nil
}

func (r *PostgresReadingRepo) SetCaption(ctx context.Context, id int64, caption string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sensor_readings SET ai_caption = $1 WHERE id = $2`, caption, id)
	if err != nil {
		return fmt.Errorf("failed to set caption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count caption update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresReadingRepo) UpdateLatestOrientation(ctx context.Context, deviceID, orientation string, confidence, ax, ay, az float64) error {
	query := `
		UPDATE sensor_readings SET
			orientation = $1, orientation_confidence = $2,
			calibrated_ax = $3, calibrated_ay = $4, calibrated_az = $5
		WHERE id = (
			SELECT id FROM sensor_readings
			WHERE device_id = $6
			ORDER BY timestamp DESC
			LIMIT 1
		)`

	res, err := r.db.ExecContext(ctx, query, orientation, confidence, ax, ay, az, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update latest orientation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count orientation update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresReadingRepo) UncaptionedImages(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT id FROM sensor_readings
		WHERE camera_image IS NOT NULL AND ai_caption IS NULL
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uncaptioned images: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresReadingRepo) Stats(ctx context.Context, deviceID string, day time.Time) (int, float64, error) {
	query := `
		SELECT COUNT(*), COALESCE(MAX(mic_level), 0)
		FROM sensor_readings
		WHERE device_id = $1 AND timestamp >= $2 AND timestamp < $3`

	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var count int
	var maxMic float64
	if err := r.db.QueryRowContext(ctx, query, deviceID, start, end).Scan(&count, &maxMic); err != nil {
		return 0, 0, fmt.Errorf("failed to query reading stats: %w", err)
	}
	return count, maxMic, nil
}

func (r *PostgresReadingRepo) DailyStepAggregate(ctx context.Context, deviceID string, day time.Time) (int, int, float64, error) {
	query := `
		SELECT COALESCE(SUM(step_count), 0),
		       COALESCE(MAX(step_count), 0),
		       COALESCE(AVG(CASE WHEN step_count > 0 THEN step_count END), 0)
		FROM sensor_readings
		WHERE device_id = $1 AND timestamp >= $2 AND timestamp < $3`

	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var total, peak int
	var avg float64
	if err := r.db.QueryRowContext(ctx, query, deviceID, start, end).Scan(&total, &peak, &avg); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to aggregate daily steps: %w", err)
	}
	return total, peak, avg, nil
}

func (r *PostgresReadingRepo) Devices(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT device_id FROM sensor_readings ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresReadingRepo) ExportRows(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error) {
	query := selectReadingColumns + `
		WHERE device_id = $1
		ORDER BY timestamp ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query export rows: %w", err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

func (r *PostgresReadingRepo) Clear(ctx context.Context, deviceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sensor_readings WHERE device_id = $1`, deviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared readings: %w", err)
	}
	r.logger.Info("Cleared sensor readings",
		zap.String("device_id", deviceID),
		zap.Int64("deleted", n))
	return n, nil
}

// 列表查询不回传图片本体，placeholder 标记存在与否
const selectReadingColumns = `
		SELECT id, device_id, timestamp,
		       accel_x, accel_y, accel_z,
		       gyro_x, gyro_y, gyro_z,
		       mic_level, orientation, orientation_confidence,
		       calibrated_ax, calibrated_ay, calibrated_az,
		       step_count, image_filename, ai_caption,
		       (camera_image IS NOT NULL) AS has_image
		FROM sensor_readings`

func collectReadings(rows *sql.Rows) ([]*domain.Reading, error) {
	var out []*domain.Reading
	for rows.Next() {
		var rd domain.Reading
		var hasImage bool
		err := rows.Scan(
			&rd.ID, &rd.DeviceID, &rd.Timestamp,
			&rd.AccelX, &rd.AccelY, &rd.AccelZ,
			&rd.GyroX, &rd.GyroY, &rd.GyroZ,
			&rd.MicLevel, &rd.Orientation, &rd.OrientationConfidence,
			&rd.CalibratedAX, &rd.CalibratedAY, &rd.CalibratedAZ,
			&rd.StepCount, &rd.ImageFilename, &rd.Caption,
			&hasImage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		rd.Timestamp = rd.Timestamp.UTC()
		if hasImage {
			rd.Image = imagePresentMarker
		}
		out = append(out, &rd)
	}
	return out, rows.Err()
}

var imagePresentMarker = []byte{0x01}

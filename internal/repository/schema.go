package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements 启动时建表（幂等）
// 正式环境由运维脚本建表，这里保证本地 `go run` 即可用
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id BIGSERIAL PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL DEFAULT 'ESP32_001',
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
		accel_x DOUBLE PRECISION NOT NULL DEFAULT 0,
		accel_y DOUBLE PRECISION NOT NULL DEFAULT 0,
		accel_z DOUBLE PRECISION NOT NULL DEFAULT 0,
		gyro_x DOUBLE PRECISION NOT NULL DEFAULT 0,
		gyro_y DOUBLE PRECISION NOT NULL DEFAULT 0,
		gyro_z DOUBLE PRECISION NOT NULL DEFAULT 0,
		mic_level DOUBLE PRECISION NOT NULL DEFAULT 0,
		orientation VARCHAR(20) NOT NULL DEFAULT 'UNKNOWN',
		orientation_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		calibrated_ax DOUBLE PRECISION NOT NULL DEFAULT 0,
		calibrated_ay DOUBLE PRECISION NOT NULL DEFAULT 0,
		calibrated_az DOUBLE PRECISION NOT NULL DEFAULT 0,
		step_count INTEGER NOT NULL DEFAULT 0,
		camera_image BYTEA,
		image_filename TEXT,
		ai_caption TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_readings_device_ts
		ON sensor_readings (device_id, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS step_statistics (
		id BIGSERIAL PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL,
		date_recorded DATE NOT NULL,
		total_steps INTEGER NOT NULL DEFAULT 0,
		peak_steps INTEGER NOT NULL DEFAULT 0,
		avg_step_interval DOUBLE PRECISION NOT NULL DEFAULT 0,
		activity_level VARCHAR(20) NOT NULL DEFAULT 'INACTIVE',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (device_id, date_recorded)
	)`,

	`CREATE TABLE IF NOT EXISTS important_events (
		id BIGSERIAL PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_sent BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_important_events_unsent
		ON important_events (device_id, is_sent, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS pet_state (
		id BIGSERIAL PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL UNIQUE,
		age INTEGER NOT NULL DEFAULT 0,
		stage VARCHAR(16) NOT NULL DEFAULT 'INFANT',
		health INTEGER NOT NULL DEFAULT 100,
		hunger DOUBLE PRECISION NOT NULL DEFAULT 0,
		cleanliness INTEGER NOT NULL DEFAULT 100,
		happiness INTEGER NOT NULL DEFAULT 100,
		energy INTEGER NOT NULL DEFAULT 100,
		poop_present BOOLEAN NOT NULL DEFAULT FALSE,
		poop_timestamp TIMESTAMPTZ,
		digestion_due_time TIMESTAMPTZ,
		current_menu VARCHAR(16) NOT NULL DEFAULT 'MAIN',
		current_emotion VARCHAR(20) NOT NULL DEFAULT 'IDLE',
		emotion_expire_at TIMESTAMPTZ,
		action_lock BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 0,
		last_feed_time TIMESTAMPTZ,
		last_play_time TIMESTAMPTZ,
		last_sleep_time TIMESTAMPTZ,
		last_clean_time TIMESTAMPTZ,
		last_age_increment TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS display_overrides (
		id BIGSERIAL PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL UNIQUE,
		animation_type VARCHAR(16) NOT NULL DEFAULT 'pet',
		animation_id INTEGER NOT NULL DEFAULT 1,
		animation_name VARCHAR(16) NOT NULL DEFAULT 'CHILD',
		show_home_icon BOOLEAN NOT NULL DEFAULT FALSE,
		show_food_icon BOOLEAN NOT NULL DEFAULT FALSE,
		show_poop_icon BOOLEAN NOT NULL DEFAULT FALSE,
		screen_type VARCHAR(16) NOT NULL DEFAULT 'MAIN',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_by VARCHAR(32) NOT NULL DEFAULT 'web_ui'
	)`,
}

// EnsureSchema 幂等创建全部表结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

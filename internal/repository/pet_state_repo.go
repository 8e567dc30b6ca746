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

// PostgresPetStateRepo 宠物状态 PostgreSQL 实现
// 写回带版本条件，0 行受影响即版本冲突，由引擎重试
type PostgresPetStateRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresPetStateRepo(db *sql.DB, logger *zap.Logger) *PostgresPetStateRepo {
	return &PostgresPetStateRepo{db: db, logger: logger}
}

const petStateColumns = `
	id, device_id, age, stage,
	health, hunger, cleanliness, happiness, energy,
	poop_present, poop_timestamp, digestion_due_time,
	current_menu, current_emotion, emotion_expire_at,
	action_lock, version,
	last_feed_time, last_play_time, last_sleep_time, last_clean_time,
	last_age_increment, created_at, updated_at`

func (r *PostgresPetStateRepo) Get(ctx context.Context, deviceID string) (*domain.PetState, error) {
	query := `SELECT` + petStateColumns + ` FROM pet_state WHERE device_id = $1`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	s, err := scanPetState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pet state: %w", err)
	}
	return s, nil
}

func (r *PostgresPetStateRepo) Create(ctx context.Context, s *domain.PetState) error {
	query := `
		INSERT INTO pet_state (
			device_id, age, stage,
			health, hunger, cleanliness, happiness, energy,
			poop_present, poop_timestamp, digestion_due_time,
			current_menu, current_emotion, emotion_expire_at,
			action_lock, version,
			last_feed_time, last_play_time, last_sleep_time, last_clean_time,
			last_age_increment, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.DeviceID, s.Age, s.Stage,
		s.Health, s.Hunger, s.Cleanliness, s.Happiness, s.Energy,
		s.PoopPresent, nullTime(s.PoopTimestamp), nullTime(s.DigestionDueAt),
		s.CurrentMenu, s.CurrentEmotion, nullTime(s.EmotionExpireAt),
		s.ActionLock, s.Version,
		nullTime(s.LastFeedTime), nullTime(s.LastPlayTime), nullTime(s.LastSleepTime), nullTime(s.LastCleanTime),
		s.LastAgeIncrement.UTC(), s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create pet state: %w", err)
	}
	r.logger.Info("Pet state created",
		zap.String("device_id", s.DeviceID),
		zap.Int64("id", s.ID))
	return nil
}

func (r *PostgresPetStateRepo) UpdateVersioned(ctx context.Context, s *domain.PetState, expectVersion int) error {
	query := `
		UPDATE pet_state SET
			age = $1, stage = $2,
			health = $3, hunger = $4, cleanliness = $5, happiness = $6, energy = $7,
			poop_present = $8, poop_timestamp = $9, digestion_due_time = $10,
			current_menu = $11, current_emotion = $12, emotion_expire_at = $13,
			action_lock = $14, version = $15,
			last_feed_time = $16, last_play_time = $17, last_sleep_time = $18, last_clean_time = $19,
			last_age_increment = $20, updated_at = $21
		WHERE device_id = $22 AND version = $23`

	res, err := r.db.ExecContext(ctx, query,
		s.Age, s.Stage,
		s.Health, s.Hunger, s.Cleanliness, s.Happiness, s.Energy,
		s.PoopPresent, nullTime(s.PoopTimestamp), nullTime(s.DigestionDueAt),
		s.CurrentMenu, s.CurrentEmotion, nullTime(s.EmotionExpireAt),
		s.ActionLock, s.Version,
		nullTime(s.LastFeedTime), nullTime(s.LastPlayTime), nullTime(s.LastSleepTime), nullTime(s.LastCleanTime),
		s.LastAgeIncrement.UTC(), s.UpdatedAt.UTC(),
		s.DeviceID, expectVersion)
	if err != nil {
		return fmt.Errorf("failed to update pet state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count pet state update: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresPetStateRepo) Devices(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT device_id FROM pet_state ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pet devices: %w", err)
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

// rowScanner 兼容 QueryRow 与 Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPetState(row rowScanner) (*domain.PetState, error) {
	var s domain.PetState
	var poopTS, digestion, emotionExp sql.NullTime
	var lastFeed, lastPlay, lastSleep, lastClean sql.NullTime
	err := row.Scan(
		&s.ID, &s.DeviceID, &s.Age, &s.Stage,
		&s.Health, &s.Hunger, &s.Cleanliness, &s.Happiness, &s.Energy,
		&s.PoopPresent, &poopTS, &digestion,
		&s.CurrentMenu, &s.CurrentEmotion, &emotionExp,
		&s.ActionLock, &s.Version,
		&lastFeed, &lastPlay, &lastSleep, &lastClean,
		&s.LastAgeIncrement, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.PoopTimestamp = fromNullTime(poopTS)
	s.DigestionDueAt = fromNullTime(digestion)
	s.EmotionExpireAt = fromNullTime(emotionExp)
	s.LastFeedTime = fromNullTime(lastFeed)
	s.LastPlayTime = fromNullTime(lastPlay)
	s.LastSleepTime = fromNullTime(lastSleep)
	s.LastCleanTime = fromNullTime(lastClean)
	s.LastAgeIncrement = s.LastAgeIncrement.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

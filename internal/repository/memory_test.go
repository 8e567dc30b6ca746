package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tamacloud/internal/domain"
)

func TestMemoryEventRepo_UnsentNewestFirstLimited(t *testing.T) {
	repo := NewMemoryEventRepo()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		e := &domain.ImportantEvent{
			DeviceID:  "ESP32_001",
			EventType: domain.EventHighSound,
			Message:   "loud",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Insert(ctx, e))
	}

	events, err := repo.Unsent(ctx, "ESP32_001", 10)
	require.NoError(t, err)
	require.Len(t, events, 10)
	// 最新在前
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt))
	assert.Equal(t, base.Add(11*time.Minute), events[0].CreatedAt)
}

func TestMemoryEventRepo_MarkSentRemovesFromPoll(t *testing.T) {
	repo := NewMemoryEventRepo()
	ctx := context.Background()

	e := &domain.ImportantEvent{DeviceID: "ESP32_001", EventType: domain.EventSuddenMotion, Message: "jolt", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Insert(ctx, e))

	require.NoError(t, repo.MarkSent(ctx, e.ID))
	require.NoError(t, repo.MarkSent(ctx, e.ID)) // 重复确认幂等

	events, err := repo.Unsent(ctx, "ESP32_001", 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.ErrorIs(t, repo.MarkSent(ctx, 999), ErrNotFound)
}

func TestMemoryPetStateRepo_VersionedUpdate(t *testing.T) {
	repo := NewMemoryPetStateRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	s := domain.NewPetState("ESP32_001", now)
	require.NoError(t, repo.Create(ctx, s))

	loaded, err := repo.Get(ctx, "ESP32_001")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Version)

	loaded.Hunger = 40
	loaded.Version = 1
	require.NoError(t, repo.UpdateVersioned(ctx, loaded, 0))

	// 旧版本写回被拒绝
	stale := s.Clone()
	stale.Version = 1
	assert.ErrorIs(t, repo.UpdateVersioned(ctx, stale, 0), ErrConflict)

	cur, err := repo.Get(ctx, "ESP32_001")
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Version)
	assert.Equal(t, 40.0, cur.Hunger)
}

func TestMemoryStepStatRepo_AddStepsAccumulates(t *testing.T) {
	repo := NewMemoryStepStatRepo()
	ctx := context.Background()
	day := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)

	require.NoError(t, repo.AddSteps(ctx, "ESP32_001", day, 300, 0.5))
	require.NoError(t, repo.AddSteps(ctx, "ESP32_001", day, 250, 0.4))

	s, err := repo.Get(ctx, "ESP32_001", day)
	require.NoError(t, err)
	assert.Equal(t, 550, s.TotalSteps)
	assert.Equal(t, 300, s.PeakSteps)
	assert.Equal(t, domain.ActivityModerate, s.ActivityLevel)

	_, err = repo.Get(ctx, "ESP32_002", day)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReadingRepo_LatestAndClear(t *testing.T) {
	repo := NewMemoryReadingRepo()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, &domain.Reading{
			DeviceID:  "ESP32_001",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			AccelX:    float64(i),
		}))
	}

	latest, err := repo.Latest(ctx, "ESP32_001", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 2.0, latest[0].AccelX)

	ax, _, _, err := repo.LatestAccel(ctx, "ESP32_001")
	require.NoError(t, err)
	assert.Equal(t, 2.0, ax)

	deleted, err := repo.Clear(ctx, "ESP32_001")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, _, _, err = repo.LatestAccel(ctx, "ESP32_001")
	assert.ErrorIs(t, err, ErrNotFound)
}

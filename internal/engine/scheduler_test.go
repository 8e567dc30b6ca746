package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
)

func newTestScheduler(t *testing.T) (*Scheduler, *Engine, *fakeClock) {
	t.Helper()
	e, repo, clock := newTestEngine(t)
	s := NewScheduler(e, repo, time.Minute, zap.NewNop())
	s.rand = func() float64 { return 1.0 } // 关掉随机生病
	return s, e, clock
}

func TestTickHungerGrowsByStageRate(t *testing.T) {
	s, e, _ := newTestSchedulerWithState(t, func(st *domain.PetState) {
		st.Stage = domain.StageAdult
	})
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx, testDevice))

	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	// 成体速率 8/30 每周期
	assert.InDelta(t, 8.0/30.0, st.Hunger, 1e-9)
	assert.Equal(t, 98, st.Energy)
}

func TestTickSkipsWhenActionLocked(t *testing.T) {
	s, e, _ := newTestSchedulerWithState(t, func(st *domain.PetState) {
		st.ActionLock = true
	})
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx, testDevice))

	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.Hunger)
	assert.Equal(t, 100, st.Energy)
}

func TestTickAgeProgression(t *testing.T) {
	s, e, clock := newTestScheduler(t)
	ctx := context.Background()

	_, err := e.AtomicUpdate(ctx, testDevice, func(st *domain.PetState, now time.Time) error {
		st.Age = 5
		st.Stage = domain.StageInfant
		st.LastAgeIncrement = now.Add(-25 * time.Hour)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx, testDevice))

	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 6, st.Age)
	assert.Equal(t, domain.StageChild, st.Stage)
	assert.Equal(t, clock.Now(), st.LastAgeIncrement)
}

func TestTickDigestionProducesPoop(t *testing.T) {
	s, e, clock := newTestScheduler(t)
	ctx := context.Background()

	due := clock.Now().Add(-time.Minute)
	_, err := e.AtomicUpdate(ctx, testDevice, func(st *domain.PetState, _ time.Time) error {
		st.DigestionDueAt = &due
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx, testDevice))

	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.True(t, st.PoopPresent)
	require.NotNil(t, st.PoopTimestamp)
	assert.Nil(t, st.DigestionDueAt)
	assert.Equal(t, domain.EmotionPoop, st.CurrentEmotion)
}

func TestTickNeglectedPoopHurtsHealth(t *testing.T) {
	s, e, clock := newTestScheduler(t)
	ctx := context.Background()

	poopAt := clock.Now().Add(-16 * time.Minute)
	_, err := e.AtomicUpdate(ctx, testDevice, func(st *domain.PetState, _ time.Time) error {
		st.PoopPresent = true
		st.PoopTimestamp = &poopAt
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx, testDevice))

	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 90, st.Health)
	// 搁置排泄物按生病情绪呈现
	assert.Equal(t, domain.EmotionSick, st.CurrentEmotion)
}

func TestTickOldAgeSickness(t *testing.T) {
	s, e, _ := newTestSchedulerWithState(t, func(st *domain.PetState) {
		st.Age = 20
		st.Stage = domain.StageOld
	})
	s.rand = func() float64 { return 0.001 } // 必然触发

	ctx := context.Background()
	require.NoError(t, s.Tick(ctx, testDevice))

	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 95, st.Health)
}

// 喂食 → 消化出排泄物 → 搁置 → 清理 的完整生命周期
func TestLifecycleFeedDigestNeglectClean(t *testing.T) {
	s, e, clock := newTestScheduler(t)
	ctx := context.Background()

	_, err := e.Feed(ctx, testDevice)
	require.NoError(t, err)

	// 31 分钟后消化到点，调度周期产生排泄物
	clock.Advance(31 * time.Minute)
	require.NoError(t, s.Tick(ctx, testDevice))
	st, err := e.Get(ctx, testDevice)
	require.NoError(t, err)
	require.True(t, st.PoopPresent)

	// 再过 16 分钟未清理，健康开始受罚
	clock.Advance(16 * time.Minute)
	require.NoError(t, s.Tick(ctx, testDevice))
	st, err = e.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 90, st.Health)
	assert.Equal(t, domain.EmotionSick, st.CurrentEmotion)

	// 清理后恢复
	st, cleaned, err := e.Clean(ctx, testDevice)
	require.NoError(t, err)
	assert.True(t, cleaned)
	assert.False(t, st.PoopPresent)
	assert.Equal(t, 95, st.Health)
	assert.Equal(t, 100, st.Cleanliness)
}

func newTestSchedulerWithState(t *testing.T, prep func(*domain.PetState)) (*Scheduler, *Engine, *fakeClock) {
	t.Helper()
	repo := repository.NewMemoryPetStateRepo()
	e := New(repo, zap.NewNop())
	clock := &fakeClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	e.SetClock(clock.Now)

	st := domain.NewPetState(testDevice, clock.Now())
	prep(st)
	require.NoError(t, repo.Create(context.Background(), st))

	s := NewScheduler(e, repo, time.Minute, zap.NewNop())
	s.rand = func() float64 { return 1.0 }
	return s, e, clock
}

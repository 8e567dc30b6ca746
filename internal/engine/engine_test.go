package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
)

const testDevice = "ESP32_001"

// fakeClock 可推进的测试时钟
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryPetStateRepo, *fakeClock) {
	t.Helper()
	repo := repository.NewMemoryPetStateRepo()
	e := New(repo, zap.NewNop())
	clock := &fakeClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	e.SetClock(clock.Now)
	return e, repo, clock
}

func TestGetOrCreateDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, err := e.GetOrCreate(context.Background(), testDevice)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Age)
	assert.Equal(t, domain.StageInfant, s.Stage)
	assert.Equal(t, 100, s.Health)
	assert.Equal(t, 0.0, s.Hunger)
	assert.Equal(t, 100, s.Cleanliness)
	assert.Equal(t, 100, s.Happiness)
	assert.Equal(t, 100, s.Energy)
	assert.Equal(t, domain.MenuMain, s.CurrentMenu)
	assert.Equal(t, domain.EmotionIdle, s.CurrentEmotion)
	assert.Equal(t, 0, s.Version)
}

func TestFeed(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.Hunger = 90
		return nil
	})
	require.NoError(t, err)

	s, err := e.Feed(ctx, testDevice)
	require.NoError(t, err)

	assert.Equal(t, 50.0, s.Hunger)
	assert.Equal(t, domain.EmotionEating, s.CurrentEmotion)
	require.NotNil(t, s.DigestionDueAt)
	assert.Equal(t, clock.Now().Add(30*time.Minute), *s.DigestionDueAt)
	require.NotNil(t, s.EmotionExpireAt)
	assert.Equal(t, clock.Now().Add(3*time.Second), *s.EmotionExpireAt)
	assert.False(t, s.ActionLock)

	// 饥饿不跌破 0
	s, err = e.Feed(ctx, testDevice)
	require.NoError(t, err)
	s, err = e.Feed(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Hunger)
}

func TestCleanNoopWhenAlreadyClean(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	before, err := e.GetOrCreate(ctx, testDevice)
	require.NoError(t, err)

	s, cleaned, err := e.Clean(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, cleaned)
	// 无事可做时不产生写入
	assert.Equal(t, before.Version, s.Version)
}

func TestCleanRemovesPoop(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	poopAt := clock.Now()
	_, err := e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.PoopPresent = true
		s.PoopTimestamp = &poopAt
		s.Cleanliness = 30
		s.Health = 60
		return nil
	})
	require.NoError(t, err)

	s, cleaned, err := e.Clean(ctx, testDevice)
	require.NoError(t, err)
	assert.True(t, cleaned)
	assert.False(t, s.PoopPresent)
	assert.Nil(t, s.PoopTimestamp)
	assert.Equal(t, 100, s.Cleanliness)
	assert.Equal(t, 65, s.Health)
	assert.Equal(t, domain.EmotionCleanSuccess, s.CurrentEmotion)
}

func TestInject(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	// 健康时打针是空操作
	s, injected, err := e.Inject(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, injected)
	assert.Equal(t, 100, s.Health)

	_, err = e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.Health = 50
		return nil
	})
	require.NoError(t, err)

	s, injected, err = e.Inject(ctx, testDevice)
	require.NoError(t, err)
	assert.True(t, injected)
	assert.Equal(t, 70, s.Health)
	assert.Equal(t, domain.EmotionRecover, s.CurrentEmotion)
}

func TestPlayResult(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.Happiness = 50
		return nil
	})
	require.NoError(t, err)

	s, err := e.PlayResult(ctx, testDevice, PlayWin)
	require.NoError(t, err)
	assert.Equal(t, 70, s.Happiness)
	assert.Equal(t, domain.EmotionWin, s.CurrentEmotion)

	s, err = e.PlayResult(ctx, testDevice, PlayLose)
	require.NoError(t, err)
	assert.Equal(t, 60, s.Happiness)
	assert.Equal(t, domain.EmotionLose, s.CurrentEmotion)

	_, err = e.PlayResult(ctx, testDevice, "DRAW")
	assert.ErrorIs(t, err, ErrInvalidPlayResult)
}

func TestSwitchMenu(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	s, err := e.SwitchMenu(ctx, testDevice, domain.MenuFood)
	require.NoError(t, err)
	assert.Equal(t, domain.MenuFood, s.CurrentMenu)

	_, err = e.SwitchMenu(ctx, testDevice, "GARAGE")
	assert.ErrorIs(t, err, ErrInvalidMenu)
}

func TestStartupReset(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.Age = 12
		s.Stage = domain.StageAdult
		s.Hunger = 80
		s.Health = 30
		s.PoopPresent = true
		return nil
	})
	require.NoError(t, err)

	s, err := e.StartupReset(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Age)
	assert.Equal(t, domain.StageInfant, s.Stage)
	assert.Equal(t, 100, s.Health)
	assert.Equal(t, 0.0, s.Hunger)
	assert.False(t, s.PoopPresent)
	// 版本继续单调递增，不随重置归零
	assert.Greater(t, s.Version, 1)
}

func TestAtomicUpdateVersionIncrements(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
			s.Happiness = 90 - i
			return nil
		})
		require.NoError(t, err)
	}
	s, err := repo.Get(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Version)
}

// conflictingRepo 前 remaining 次写入先执行 onConflict 再返回版本冲突，
// 模拟另一个写入者抢先落库
type conflictingRepo struct {
	*repository.MemoryPetStateRepo
	mu         sync.Mutex
	remaining  int
	onConflict func(ctx context.Context)
}

func (r *conflictingRepo) UpdateVersioned(ctx context.Context, s *domain.PetState, expectVersion int) error {
	r.mu.Lock()
	fire := r.remaining > 0
	if fire {
		r.remaining--
	}
	hook := r.onConflict
	r.mu.Unlock()
	if fire {
		if hook != nil {
			hook(ctx)
		}
		return repository.ErrConflict
	}
	return r.MemoryPetStateRepo.UpdateVersioned(ctx, s, expectVersion)
}

func TestAtomicUpdateRetriesAgainstFreshSnapshot(t *testing.T) {
	inner := repository.NewMemoryPetStateRepo()
	wrapped := &conflictingRepo{MemoryPetStateRepo: inner, remaining: 1}
	e := New(wrapped, zap.NewNop())
	other := New(inner, zap.NewNop())
	ctx := context.Background()

	_, err := e.GetOrCreate(ctx, testDevice)
	require.NoError(t, err)

	// 首次写入前让并发写入者先提交一版
	wrapped.onConflict = func(ctx context.Context) {
		_, err := other.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
			s.Happiness = 10
			return nil
		})
		require.NoError(t, err)
	}

	runs := 0
	s, err := e.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		runs++
		s.Energy = 70
		return nil
	})
	require.NoError(t, err)

	// 冲突后变更闭包在新快照上重跑，并发写入的结果不被覆盖
	assert.Equal(t, 2, runs)
	assert.Equal(t, 10, s.Happiness)
	assert.Equal(t, 70, s.Energy)
	assert.Equal(t, 2, s.Version)
}

func TestCleanNoopWhenConcurrentCleanWins(t *testing.T) {
	inner := repository.NewMemoryPetStateRepo()
	wrapped := &conflictingRepo{MemoryPetStateRepo: inner, remaining: 1}
	e := New(wrapped, zap.NewNop())
	other := New(inner, zap.NewNop())
	ctx := context.Background()

	poopAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	_, err := other.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.Health = 60
		s.Cleanliness = 40
		s.PoopPresent = true
		s.PoopTimestamp = &poopAt
		return nil
	})
	require.NoError(t, err)

	// 前置检查和变更之间另一个 Clean 抢先提交
	wrapped.onConflict = func(ctx context.Context) {
		_, cleaned, err := other.Clean(ctx, testDevice)
		require.NoError(t, err)
		require.True(t, cleaned)
	}

	s, cleaned, err := e.Clean(ctx, testDevice)
	require.NoError(t, err)

	// 已经干净的宠物不重复加成：健康只 +5 一次
	assert.False(t, cleaned)
	assert.False(t, s.PoopPresent)
	assert.Equal(t, 65, s.Health)
	assert.False(t, s.ActionLock)
}

func TestInjectNoopWhenConcurrentInjectWins(t *testing.T) {
	inner := repository.NewMemoryPetStateRepo()
	wrapped := &conflictingRepo{MemoryPetStateRepo: inner, remaining: 1}
	e := New(wrapped, zap.NewNop())
	other := New(inner, zap.NewNop())
	ctx := context.Background()

	_, err := other.AtomicUpdate(ctx, testDevice, func(s *domain.PetState, _ time.Time) error {
		s.Health = 60
		return nil
	})
	require.NoError(t, err)

	wrapped.onConflict = func(ctx context.Context) {
		_, injected, err := other.Inject(ctx, testDevice)
		require.NoError(t, err)
		require.True(t, injected)
	}

	s, injected, err := e.Inject(ctx, testDevice)
	require.NoError(t, err)

	// 并发打针把健康抬到阈值以上后不再加成
	assert.False(t, injected)
	assert.Equal(t, 80, s.Health)
	assert.False(t, s.ActionLock)
}

func TestEmotionPriority(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	old := now.Add(-20 * time.Minute)
	recent := now.Add(-5 * time.Minute)

	tests := []struct {
		name string
		prep func(s *domain.PetState)
		want string
	}{
		{"重病优先", func(s *domain.PetState) { s.Health = 30; s.PoopPresent = true; s.Hunger = 90 }, domain.EmotionSick},
		{"新鲜排泄物", func(s *domain.PetState) { s.PoopPresent = true; s.PoopTimestamp = &recent }, domain.EmotionPoop},
		{"搁置排泄物按生病算", func(s *domain.PetState) { s.PoopPresent = true; s.PoopTimestamp = &old }, domain.EmotionSick},
		{"成体饥饿", func(s *domain.PetState) { s.Stage = domain.StageAdult; s.Hunger = 80 }, domain.EmotionHunger},
		{"幼体饥饿哭闹", func(s *domain.PetState) { s.Stage = domain.StageInfant; s.Hunger = 80 }, domain.EmotionCry},
		{"困倦", func(s *domain.PetState) { s.Energy = 20; s.Happiness = 90 }, domain.EmotionSleep},
		{"高兴", func(s *domain.PetState) { s.Happiness = 90 }, domain.EmotionHappy},
		{"低落", func(s *domain.PetState) { s.Happiness = 30 }, domain.EmotionSad},
		{"默认待机", func(s *domain.PetState) { s.Happiness = 60 }, domain.EmotionIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.NewPetState(testDevice, now)
			tt.prep(s)
			assert.Equal(t, tt.want, EmotionFor(s, now))
		})
	}
}

func TestEmotionLockHolds(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s := domain.NewPetState(testDevice, now)
	s.Health = 10
	setTransientEmotion(s, domain.EmotionEating, now)

	// 锁定期内保持临时情绪
	assert.Equal(t, domain.EmotionEating, EmotionFor(s, now.Add(2*time.Second)))
	// 过期后按优先级重算
	assert.Equal(t, domain.EmotionSick, EmotionFor(s, now.Add(4*time.Second)))
}

package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
)

// 生命周期调度口径
const (
	ageInterval     = 24 * time.Hour
	energyDecay     = 2
	neglectPenalty  = 10
	oldSicknessOdds = 0.01
	oldSickPenalty  = 5
	hungerRateDenom = 30.0 // 速率口径按 30 分钟，周期为 60 秒，每周期加 rate/30
)

// 各阶段每 30 分钟的饥饿增速
var stageHungerRate = map[string]float64{
	domain.StageInfant: 15,
	domain.StageChild:  10,
	domain.StageAdult:  8,
	domain.StageOld:    12,
	domain.StageEnd:    0,
}

// Scheduler 宠物生命周期调度器
// 每 60 秒对每个已知设备跑一轮：年龄推进、饥饿增长、消化排泄、
// 搁置惩罚、精力衰减、老年随机生病、情绪重算
// 周期内串行执行，动作锁置位时整周期跳过
type Scheduler struct {
	engine *Engine
	states repository.PetStateRepo
	logger *zap.Logger

	interval time.Duration
	rand     func() float64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewScheduler(engine *Engine, states repository.PetStateRepo, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		states:   states,
		logger:   logger,
		interval: interval,
		rand:     rand.Float64,
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(runCtx)
	s.logger.Info("Pet scheduler started", zap.Duration("interval", s.interval))
}

// Stop 停止调度并等待当前周期结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.logger.Info("Pet scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickAll(ctx)
		}
	}
}

func (s *Scheduler) tickAll(ctx context.Context) {
	devices, err := s.states.Devices(ctx)
	if err != nil {
		s.logger.Error("Scheduler failed to list devices", zap.Error(err))
		return
	}
	for _, deviceID := range devices {
		if err := s.Tick(ctx, deviceID); err != nil {
			// 单设备失败只记日志，本周期跳过该设备
			s.logger.Error("Scheduler cycle failed",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}
}

// ErrActionLocked 动作进行中，本周期跳过
var ErrActionLocked = errors.New("action in progress")

// Tick 对单个设备执行一个调度周期
func (s *Scheduler) Tick(ctx context.Context, deviceID string) error {
	current, err := s.states.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if current.ActionLock {
		s.logger.Debug("Scheduler skipping locked pet", zap.String("device_id", deviceID))
		return nil
	}

	result, err := s.engine.AtomicUpdate(ctx, deviceID, func(st *domain.PetState, now time.Time) error {
		if st.ActionLock {
			return ErrActionLocked
		}
		s.applyCycle(st, now)
		return nil
	})
	if errors.Is(err, ErrActionLocked) {
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Debug("Pet cycle complete",
		zap.String("device_id", deviceID),
		zap.Int("age", result.Age),
		zap.String("stage", result.Stage),
		zap.String("emotion", result.CurrentEmotion))
	return nil
}

func (s *Scheduler) applyCycle(st *domain.PetState, now time.Time) {
	// 年龄推进：每满 24 小时 +1，阶段随之重算
	if now.Sub(st.LastAgeIncrement) > ageInterval {
		st.Age++
		st.LastAgeIncrement = now
		st.Stage = domain.StageForAge(st.Age)
	}

	// 饥饿增长：阶段速率按 30 分钟折算到 60 秒周期
	st.Hunger += stageHungerRate[st.Stage] / hungerRateDenom
	if st.Hunger > 100 {
		st.Hunger = 100
	}

	// 消化到点且当前无排泄物时产生排泄物
	if st.DigestionDueAt != nil && now.After(*st.DigestionDueAt) && !st.PoopPresent {
		st.PoopPresent = true
		poopAt := now
		st.PoopTimestamp = &poopAt
		st.DigestionDueAt = nil
	}

	// 排泄物搁置超 15 分钟每周期扣健康
	if st.PoopPresent && st.PoopTimestamp != nil && now.Sub(*st.PoopTimestamp) > poopNeglectWindow {
		st.Health = clamp(st.Health - neglectPenalty)
	}

	// 精力衰减
	st.Energy = clamp(st.Energy - energyDecay)

	// 老年随机生病
	if st.Stage == domain.StageOld && s.rand() < oldSicknessOdds {
		st.Health = clamp(st.Health - oldSickPenalty)
	}

	// 情绪重算（锁定期内 EmotionFor 会保持原情绪）
	st.CurrentEmotion = EmotionFor(st, now)
}

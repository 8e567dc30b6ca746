package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
)

// 版本冲突重试上限与退避步长
const (
	maxUpdateRetries = 5
	retryBackoff     = 20 * time.Millisecond
)

// ErrConflict 重试耗尽后的版本冲突
var ErrConflict = repository.ErrConflict

// Engine 宠物状态引擎
// 所有状态变更走 AtomicUpdate：加载快照 → 合并变更 → 版本 +1 条件写回
// 冲突重试由引擎统一处理，调用方的变更函数必须无副作用
type Engine struct {
	states repository.PetStateRepo
	logger *zap.Logger

	// 状态写回成功后的通知钩子（实时推送），可为 nil
	onChange func(*domain.PetState)

	// 测试注入时钟
	now func() time.Time
}

func New(states repository.PetStateRepo, logger *zap.Logger) *Engine {
	return &Engine{
		states: states,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetOnChange 注册状态变更通知（启动装配时调用一次）
func (e *Engine) SetOnChange(fn func(*domain.PetState)) { e.onChange = fn }

// SetClock 注入时钟（仅测试）
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Get 读取宠物状态，不存在返回 repository.ErrNotFound
func (e *Engine) Get(ctx context.Context, deviceID string) (*domain.PetState, error) {
	return e.states.Get(ctx, deviceID)
}

// GetOrCreate 读取宠物状态，首次引用时以默认值创建
func (e *Engine) GetOrCreate(ctx context.Context, deviceID string) (*domain.PetState, error) {
	s, err := e.states.Get(ctx, deviceID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	fresh := domain.NewPetState(deviceID, e.now())
	if err := e.states.Create(ctx, fresh); err != nil {
		// 并发创建撞到唯一约束时回读即可
		if s, getErr := e.states.Get(ctx, deviceID); getErr == nil {
			return s, nil
		}
		return nil, fmt.Errorf("failed to create pet state: %w", err)
	}
	e.logger.Info("Pet state initialized", zap.String("device_id", deviceID))
	return fresh, nil
}

// Mutation 在状态快照上施加变更；now 为本次更新的统一时间基准
type Mutation func(s *domain.PetState, now time.Time) error

// AtomicUpdate 乐观并发更新
// 每轮重试重新加载最新快照再施加变更；版本冲突最多重试 5 次后放弃
func (e *Engine) AtomicUpdate(ctx context.Context, deviceID string, mutate Mutation) (*domain.PetState, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		loaded, err := e.GetOrCreate(ctx, deviceID)
		if err != nil {
			return nil, err
		}

		now := e.now()
		next := loaded.Clone()
		if err := mutate(next, now); err != nil {
			return nil, err
		}

		next.Version = loaded.Version + 1
		next.UpdatedAt = now

		err = e.states.UpdateVersioned(ctx, next, loaded.Version)
		if errors.Is(err, repository.ErrConflict) {
			e.logger.Debug("Pet state version conflict, retrying",
				zap.String("device_id", deviceID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		if e.onChange != nil {
			e.onChange(next)
		}
		return next, nil
	}
	e.logger.Warn("Pet state update gave up after retries", zap.String("device_id", deviceID))
	return nil, ErrConflict
}

// withActionLock 动作执行期间置锁让调度器跳过本周期，结束时随变更一并解锁
// 锁只是协作性提示，正确性始终由版本号保证
func (e *Engine) withActionLock(ctx context.Context, deviceID string, mutate Mutation) (*domain.PetState, error) {
	_, err := e.AtomicUpdate(ctx, deviceID, func(s *domain.PetState, _ time.Time) error {
		s.ActionLock = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := e.AtomicUpdate(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		if mErr := mutate(s, now); mErr != nil {
			return mErr
		}
		s.ActionLock = false
		return nil
	})
	if err != nil {
		// 动作失败也要解锁，否则调度器会一直跳过
		if _, unlockErr := e.AtomicUpdate(ctx, deviceID, func(s *domain.PetState, _ time.Time) error {
			s.ActionLock = false
			return nil
		}); unlockErr != nil {
			e.logger.Error("Failed to release action lock",
				zap.String("device_id", deviceID), zap.Error(unlockErr))
		}
		return nil, err
	}
	return result, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
)

// 动作口径
const (
	feedHungerRelief  = 40.0
	digestionDuration = 30 * time.Minute
	cleanHealthBonus  = 5
	injectHealthBonus = 20
	healthyThreshold  = 80
	winHappinessBonus = 20
	losePenalty       = 10
)

// 对局结果
const (
	PlayWin  = "WIN"
	PlayLose = "LOSE"
)

// ErrInvalidMenu 非法菜单取值
var ErrInvalidMenu = fmt.Errorf("invalid menu")

// ErrInvalidPlayResult 非法对局结果
var ErrInvalidPlayResult = fmt.Errorf("invalid play result")

// errNoEffect 变更重跑时前置条件已不成立，放弃写入
var errNoEffect = fmt.Errorf("action has no effect")

// Feed 喂食：饥饿 −40（下限 0），开启 30 分钟消化计时，临时情绪 EATING
func (e *Engine) Feed(ctx context.Context, deviceID string) (*domain.PetState, error) {
	result, err := e.withActionLock(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		applyFeed(s, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Pet fed",
		zap.String("device_id", deviceID),
		zap.Float64("hunger", result.Hunger))
	return result, nil
}

// AutoFeed 图像上传即喂食（拍到的画面就是食物），不走动作锁
func (e *Engine) AutoFeed(ctx context.Context, deviceID string) (*domain.PetState, error) {
	result, err := e.AtomicUpdate(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		applyFeed(s, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Pet auto-fed via image upload",
		zap.String("device_id", deviceID),
		zap.Float64("hunger", result.Hunger))
	return result, nil
}

func applyFeed(s *domain.PetState, now time.Time) {
	s.Hunger = s.Hunger - feedHungerRelief
	if s.Hunger < 0 {
		s.Hunger = 0
	}
	feedAt := now
	due := now.Add(digestionDuration)
	s.LastFeedTime = &feedAt
	s.DigestionDueAt = &due
	setTransientEmotion(s, domain.EmotionEating, now)
}

// Clean 清理：无排泄物时原样返回不写库；否则清除排泄物、清洁度回满、健康 +5
func (e *Engine) Clean(ctx context.Context, deviceID string) (*domain.PetState, bool, error) {
	current, err := e.GetOrCreate(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if !current.PoopPresent {
		return current, false, nil
	}

	// 前置条件在闭包里按最新快照复核：重试或并发清理之间排泄物可能已被清掉
	result, err := e.withActionLock(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		if !s.PoopPresent {
			return errNoEffect
		}
		s.PoopPresent = false
		s.PoopTimestamp = nil
		s.Cleanliness = 100
		s.Health = clamp(s.Health + cleanHealthBonus)
		cleanAt := now
		s.LastCleanTime = &cleanAt
		setTransientEmotion(s, domain.EmotionCleanSuccess, now)
		return nil
	})
	if errors.Is(err, errNoEffect) {
		latest, gerr := e.Get(ctx, deviceID)
		if gerr != nil {
			return nil, false, gerr
		}
		return latest, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e.logger.Info("Pet cleaned",
		zap.String("device_id", deviceID),
		zap.Int("health", result.Health))
	return result, true, nil
}

// Inject 打针：健康 ≥80 时原样返回不写库；否则健康 +20，临时情绪 RECOVER
func (e *Engine) Inject(ctx context.Context, deviceID string) (*domain.PetState, bool, error) {
	current, err := e.GetOrCreate(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if current.Health >= healthyThreshold {
		return current, false, nil
	}

	result, err := e.withActionLock(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		if s.Health >= healthyThreshold {
			return errNoEffect
		}
		s.Health = clamp(s.Health + injectHealthBonus)
		setTransientEmotion(s, domain.EmotionRecover, now)
		return nil
	})
	if errors.Is(err, errNoEffect) {
		latest, gerr := e.Get(ctx, deviceID)
		if gerr != nil {
			return nil, false, gerr
		}
		return latest, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e.logger.Info("Pet injected",
		zap.String("device_id", deviceID),
		zap.Int("health", result.Health))
	return result, true, nil
}

// PlayResult 记录对局结果：WIN 快乐 +20，LOSE 快乐 −10，临时情绪同名
func (e *Engine) PlayResult(ctx context.Context, deviceID, result string) (*domain.PetState, error) {
	if result != PlayWin && result != PlayLose {
		return nil, ErrInvalidPlayResult
	}

	state, err := e.withActionLock(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		playAt := now
		s.LastPlayTime = &playAt
		if result == PlayWin {
			s.Happiness = clamp(s.Happiness + winHappinessBonus)
			setTransientEmotion(s, domain.EmotionWin, now)
		} else {
			s.Happiness = clamp(s.Happiness - losePenalty)
			setTransientEmotion(s, domain.EmotionLose, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Play result recorded",
		zap.String("device_id", deviceID),
		zap.String("result", result),
		zap.Int("happiness", state.Happiness))
	return state, nil
}

// SwitchMenu 切换当前菜单（按钮菜单与摄像头遮挡菜单共用）
func (e *Engine) SwitchMenu(ctx context.Context, deviceID, menu string) (*domain.PetState, error) {
	if !domain.ValidMenu(menu) {
		return nil, ErrInvalidMenu
	}
	state, err := e.AtomicUpdate(ctx, deviceID, func(s *domain.PetState, _ time.Time) error {
		s.CurrentMenu = menu
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Menu switched",
		zap.String("device_id", deviceID),
		zap.String("menu", menu))
	return state, nil
}

// StartupReset 设备每次开机宠物回到初始状态（年龄 0、体征回满、清空计时器）
func (e *Engine) StartupReset(ctx context.Context, deviceID string) (*domain.PetState, error) {
	state, err := e.AtomicUpdate(ctx, deviceID, func(s *domain.PetState, now time.Time) error {
		fresh := domain.NewPetState(deviceID, now)
		fresh.ID = s.ID
		fresh.CreatedAt = s.CreatedAt
		*s = *fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Pet reset to infant on device startup", zap.String("device_id", deviceID))
	return state, nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

package display

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/engine"
	"tamacloud/internal/repository"
)

// 开机复位后的新生画面锁定窗口
const startupLockWindow = 5 * time.Second

// ErrInvalidAnimation 非法动画编号
var ErrInvalidAnimation = fmt.Errorf("invalid animation id")

// 手动覆盖可选的动画编号（设备固件口径 0-3）
var animationNames = map[int]string{
	0: domain.StageInfant,
	1: domain.StageChild,
	2: domain.StageAdult,
	3: domain.StageOld,
}

// Projector 显示投影
// 设备轮询时按优先级决定画面：开机锁定 > 手动覆盖 > 宠物自动投影 > 兜底
// 设备端没有任何兜底渲染，投影永远给出可渲染的描述
type Projector struct {
	overrides repository.DisplayRepo
	engine    *engine.Engine
	logger    *zap.Logger

	now func() time.Time
}

func NewProjector(overrides repository.DisplayRepo, eng *engine.Engine, logger *zap.Logger) *Projector {
	return &Projector{
		overrides: overrides,
		engine:    eng,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 注入时钟（仅测试）
func (p *Projector) SetClock(now func() time.Time) { p.now = now }

// Project 计算设备当前应显示的画面
func (p *Projector) Project(ctx context.Context, deviceID string) (*domain.DisplayDescriptor, error) {
	now := p.now()

	override, err := p.overrides.Get(ctx, deviceID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if override != nil {
		// 开机复位 5 秒内强制新生画面，覆盖其余一切；
		// 超时后不按手动覆盖回放，直接落回宠物自动投影
		if override.UpdatedBy == domain.UpdatedByDeviceStartup {
			elapsed := now.Sub(override.UpdatedAt)
			if elapsed < startupLockWindow {
				remaining := (startupLockWindow - elapsed).Seconds()
				return &domain.DisplayDescriptor{
					AnimationID:   0,
					AnimationName: domain.StageInfant,
					AnimationType: "pet",
					Stage:         domain.StageInfant,
					Mode:          domain.DisplayModeStartupReset,
					ScreenType:    domain.MenuMain,
					Message:       fmt.Sprintf("Device startup - INFANT locked for %.1fs", remaining),
				}, nil
			}
		} else {
			// 手动覆盖原样回放
			return &domain.DisplayDescriptor{
				AnimationID:   override.AnimationID,
				AnimationName: override.AnimationName,
				AnimationType: override.AnimationType,
				Stage:         override.AnimationName,
				Mode:          domain.DisplayModeManual,
				ShowHomeIcon:  override.ShowHomeIcon,
				ShowFoodIcon:  override.ShowFoodIcon,
				ShowPoopIcon:  override.ShowPoopIcon,
				ScreenType:    override.ScreenType,
				Message:       "Manual selection: " + override.AnimationName,
			}, nil
		}
	}

	pet, err := p.engine.Get(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return defaultDescriptor(), nil
	}
	if err != nil {
		return nil, err
	}

	return p.automatic(ctx, pet, now)
}

// automatic 宠物自动投影，含菜单子状态机的副作用
func (p *Projector) automatic(ctx context.Context, pet *domain.PetState, now time.Time) (*domain.DisplayDescriptor, error) {
	playEating := false

	// 退出分支必须排在饥饿分支之前：进食后 Hunger 通常仍 ≤50，
	// 若先匹配饥饿分支则永远回不到主界面
	switch {
	case pet.CurrentMenu == domain.MenuFood && pet.CurrentEmotion == domain.EmotionEating:
		// 进食动画已播过，本次轮询回主界面
		updated, err := p.engine.AtomicUpdate(ctx, pet.DeviceID, func(s *domain.PetState, _ time.Time) error {
			s.CurrentMenu = domain.MenuMain
			s.CurrentEmotion = domain.EmotionIdle
			return nil
		})
		if err != nil {
			p.logger.Warn("Failed to leave food menu", zap.String("device_id", pet.DeviceID), zap.Error(err))
		} else {
			pet = updated
		}

	case pet.CurrentMenu == domain.MenuFood && pet.Hunger <= 50:
		// 不再饥饿：本次轮询在食物菜单播放进食动画，下次轮询回主界面
		playEating = true
		updated, err := p.engine.AtomicUpdate(ctx, pet.DeviceID, func(s *domain.PetState, _ time.Time) error {
			s.CurrentEmotion = domain.EmotionEating
			return nil
		})
		if err != nil {
			p.logger.Warn("Failed to set eating emotion", zap.String("device_id", pet.DeviceID), zap.Error(err))
		} else {
			pet = updated
		}

	case pet.CurrentMenu == domain.MenuToilet && !pet.PoopPresent:
		// 已清理干净，回主界面
		updated, err := p.engine.AtomicUpdate(ctx, pet.DeviceID, func(s *domain.PetState, _ time.Time) error {
			s.CurrentMenu = domain.MenuMain
			s.CurrentEmotion = domain.EmotionIdle
			return nil
		})
		if err != nil {
			p.logger.Warn("Failed to leave toilet menu", zap.String("device_id", pet.DeviceID), zap.Error(err))
		} else {
			pet = updated
		}
	}

	hungry := pet.Hunger > 70

	return &domain.DisplayDescriptor{
		AnimationID:   domain.AnimationIDForStage(pet.Stage),
		AnimationName: pet.Stage,
		AnimationType: "pet",
		Stage:         pet.Stage,
		Mode:          domain.DisplayModeAutomatic,
		Emotion:       pet.CurrentEmotion,
		CurrentMenu:   pet.CurrentMenu,
		Health:        pet.Health,
		Hunger:        pet.Hunger,
		Cleanliness:   pet.Cleanliness,
		Happiness:     pet.Happiness,
		Energy:        pet.Energy,
		Age:           pet.Age,
		PoopPresent:   pet.PoopPresent,
		IsHungry:      hungry,
		ShowHomeIcon:  true,
		ShowFoodIcon:  hungry,
		ShowPoopIcon:  pet.PoopPresent,
		ScreenType:    pet.CurrentMenu,

		PlayEatingAnimation: playEating,

		Message: fmt.Sprintf("Pet: %s | Emotion: %s", pet.Stage, pet.CurrentEmotion),
	}, nil
}

// SetOverride 写入手动覆盖（web 按钮）
func (p *Projector) SetOverride(ctx context.Context, deviceID string, animationID int, animationType string) (*domain.DisplayOverride, error) {
	name, ok := animationNames[animationID]
	if !ok {
		return nil, ErrInvalidAnimation
	}
	if animationType == "" {
		animationType = "pet"
	}

	o := &domain.DisplayOverride{
		DeviceID:      deviceID,
		AnimationType: animationType,
		AnimationID:   animationID,
		AnimationName: name,
		ScreenType:    domain.MenuMain,
		UpdatedAt:     p.now(),
		UpdatedBy:     domain.UpdatedByWebUI,
	}
	if err := p.overrides.Upsert(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ClearOverride 清除手动覆盖，回到自动投影
func (p *Projector) ClearOverride(ctx context.Context, deviceID string) error {
	return p.overrides.Delete(ctx, deviceID)
}

// ToggleIcon 切换覆盖记录上的图标位（home/food/poop）
func (p *Projector) ToggleIcon(ctx context.Context, deviceID, icon string, show bool) (*domain.DisplayOverride, error) {
	o, err := p.overrides.Get(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		o = &domain.DisplayOverride{
			DeviceID:      deviceID,
			AnimationType: "pet",
			AnimationID:   1,
			AnimationName: domain.StageChild,
			ScreenType:    domain.MenuMain,
			UpdatedBy:     domain.UpdatedByWebUI,
		}
	} else if err != nil {
		return nil, err
	}

	switch icon {
	case "home":
		o.ShowHomeIcon = show
	case "food":
		o.ShowFoodIcon = show
	case "poop":
		o.ShowPoopIcon = show
	default:
		return nil, fmt.Errorf("unknown icon: %s", icon)
	}
	o.UpdatedAt = p.now()
	o.UpdatedBy = domain.UpdatedByWebUI

	if err := p.overrides.Upsert(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// StartupComplete 设备开机完成：宠物归零并写入开机覆盖，锁定新生画面 5 秒
func (p *Projector) StartupComplete(ctx context.Context, deviceID string) (*domain.DisplayDescriptor, error) {
	if _, err := p.engine.StartupReset(ctx, deviceID); err != nil {
		return nil, err
	}

	o := &domain.DisplayOverride{
		DeviceID:      deviceID,
		AnimationType: "pet",
		AnimationID:   0,
		AnimationName: domain.StageInfant,
		ScreenType:    domain.MenuMain,
		UpdatedAt:     p.now(),
		UpdatedBy:     domain.UpdatedByDeviceStartup,
	}
	if err := p.overrides.Upsert(ctx, o); err != nil {
		return nil, err
	}

	p.logger.Info("Device startup complete, pet reset", zap.String("device_id", deviceID))
	return &domain.DisplayDescriptor{
		AnimationID:   0,
		AnimationName: domain.StageInfant,
		AnimationType: "pet",
		Stage:         domain.StageInfant,
		Mode:          domain.DisplayModeStartupReset,
		CurrentMenu:   domain.MenuMain,
		ScreenType:    domain.MenuMain,
		Message:       "Pet reset to INFANT - initial display state sent",
	}, nil
}

func defaultDescriptor() *domain.DisplayDescriptor {
	return &domain.DisplayDescriptor{
		AnimationID:   1,
		AnimationName: domain.StageChild,
		AnimationType: "pet",
		Stage:         domain.StageChild,
		Mode:          domain.DisplayModeDefault,
		Emotion:       domain.EmotionIdle,
		CurrentMenu:   domain.MenuMain,
		Health:        100,
		Cleanliness:   100,
		Happiness:     100,
		Energy:        100,
		ShowHomeIcon:  true,
		ScreenType:    domain.MenuMain,
		Message:       "Default pet state",
	}
}

package engine

import (
	"time"

	"tamacloud/internal/domain"
)

// 情绪口径
const (
	hungryThreshold   = 70.0
	sickThreshold     = 40
	tiredThreshold    = 30
	happyThreshold    = 80
	sadThreshold      = 40
	poopNeglectWindow = 15 * time.Minute
	emotionLockTTL    = 3 * time.Second
)

// EmotionFor 按优先级推导当前情绪
// 临时情绪锁未过期时保持原情绪；其后依次：重病 > 排泄（搁置超 15 分钟按生病算）>
// 饥饿（幼体哭闹）> 困倦 > 按快乐度落到 HAPPY/SAD/IDLE
func EmotionFor(s *domain.PetState, now time.Time) string {
	if s.EmotionLocked(now) {
		return s.CurrentEmotion
	}

	if s.Health < sickThreshold {
		return domain.EmotionSick
	}

	if s.PoopPresent {
		if s.PoopTimestamp != nil && now.Sub(*s.PoopTimestamp) > poopNeglectWindow {
			return domain.EmotionSick
		}
		return domain.EmotionPoop
	}

	if s.Hunger > hungryThreshold {
		if s.Stage == domain.StageInfant {
			return domain.EmotionCry
		}
		return domain.EmotionHunger
	}

	if s.Energy < tiredThreshold {
		return domain.EmotionSleep
	}

	if s.Happiness > happyThreshold {
		return domain.EmotionHappy
	}
	if s.Happiness < sadThreshold {
		return domain.EmotionSad
	}
	return domain.EmotionIdle
}

// setTransientEmotion 设置带 3 秒过期的临时情绪
func setTransientEmotion(s *domain.PetState, emotion string, now time.Time) {
	expire := now.Add(emotionLockTTL)
	s.CurrentEmotion = emotion
	s.EmotionExpireAt = &expire
}

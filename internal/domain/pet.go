package domain

import "time"

// 生命周期阶段（按年龄映射）
const (
	StageInfant = "INFANT"
	StageChild  = "CHILD"
	StageAdult  = "ADULT"
	StageOld    = "OLD"
	StageEnd    = "END"
)

// 菜单
const (
	MenuMain   = "MAIN"
	MenuHealth = "HEALTH"
	MenuClean  = "CLEAN"
	MenuFeed   = "FEED"
	MenuPlay   = "PLAY"
	MenuFood   = "FOOD_MENU"
	MenuToilet = "TOILET_MENU"
)

// 情绪
const (
	EmotionIdle         = "IDLE"
	EmotionHappy        = "HAPPY"
	EmotionSad          = "SAD"
	EmotionSick         = "SICK"
	EmotionPoop         = "POOP"
	EmotionHunger       = "HUNGER"
	EmotionCry          = "CRY"
	EmotionSleep        = "SLEEP"
	EmotionEating       = "EATING"
	EmotionWin          = "WIN"
	EmotionLose         = "LOSE"
	EmotionRecover      = "RECOVER"
	EmotionCleanSuccess = "CLEAN_SUCCESS"
)

// StageForAge 按年龄映射生命周期阶段
// 阈值：≤5 INFANT，≤10 CHILD，≤17 ADULT，≤21 OLD，其余 END
func StageForAge(age int) string {
	switch {
	case age <= 5:
		return StageInfant
	case age <= 10:
		return StageChild
	case age <= 17:
		return StageAdult
	case age <= 21:
		return StageOld
	default:
		return StageEnd
	}
}

// ValidMenu 校验菜单取值（全集）
func ValidMenu(menu string) bool {
	switch menu {
	case MenuMain, MenuHealth, MenuClean, MenuFeed, MenuPlay, MenuFood, MenuToilet:
		return true
	}
	return false
}

// PetState 宠物状态领域模型（对应 pet_state 表）
// 每个设备恰好一行，首次引用时以默认值创建
// Version 每次成功写入严格 +1，写回以加载时的版本为条件（乐观并发）
type PetState struct {
	ID       int64  `db:"id"`
	DeviceID string `db:"device_id"`

	// 生命周期
	Age   int    `db:"age"`
	Stage string `db:"stage"`

	// 体征（除 Hunger 外为 [0,100] 整数）
	// Hunger 为浮点：引擎每个周期累加 stageRate/30，小数部分是可观测行为
	Health      int     `db:"health"`
	Hunger      float64 `db:"hunger"`
	Cleanliness int     `db:"cleanliness"`
	Happiness   int     `db:"happiness"`
	Energy      int     `db:"energy"`

	// 排泄
	PoopPresent     bool       `db:"poop_present"`
	PoopTimestamp   *time.Time `db:"poop_timestamp"`
	DigestionDueAt  *time.Time `db:"digestion_due_time"`

	// 交互
	CurrentMenu     string     `db:"current_menu"`
	CurrentEmotion  string     `db:"current_emotion"`
	EmotionExpireAt *time.Time `db:"emotion_expire_at"` // 临时情绪锁

	// 并发控制
	ActionLock bool `db:"action_lock"` // 协作性提示；正确性由 Version 保证
	Version    int  `db:"version"`

	// 记录
	LastFeedTime     *time.Time `db:"last_feed_time"`
	LastPlayTime     *time.Time `db:"last_play_time"`
	LastSleepTime    *time.Time `db:"last_sleep_time"`
	LastCleanTime    *time.Time `db:"last_clean_time"`
	LastAgeIncrement time.Time  `db:"last_age_increment"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// NewPetState 按文档默认值创建宠物状态（设备首次引用或重启重置）
func NewPetState(deviceID string, now time.Time) *PetState {
	return &PetState{
		DeviceID:         deviceID,
		Age:              0,
		Stage:            StageInfant,
		Health:           100,
		Hunger:           0,
		Cleanliness:      100,
		Happiness:        100,
		Energy:           100,
		CurrentMenu:      MenuMain,
		CurrentEmotion:   EmotionIdle,
		Version:          0,
		LastAgeIncrement: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// EmotionLocked 临时情绪锁是否仍然生效
func (p *PetState) EmotionLocked(now time.Time) bool {
	return p.EmotionExpireAt != nil && p.EmotionExpireAt.After(now)
}

// ToJSON 转换为JSON格式（对外快照）
func (p *PetState) ToJSON() map[string]any {
	m := map[string]any{
		"device_id":       p.DeviceID,
		"age":             p.Age,
		"stage":           p.Stage,
		"health":          p.Health,
		"hunger":          p.Hunger,
		"cleanliness":     p.Cleanliness,
		"happiness":       p.Happiness,
		"energy":          p.Energy,
		"poop_present":    p.PoopPresent,
		"current_menu":    p.CurrentMenu,
		"current_emotion": p.CurrentEmotion,
		"action_lock":     p.ActionLock,
		"version":         p.Version,
		"created_at":      p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.PoopTimestamp != nil {
		m["poop_timestamp"] = p.PoopTimestamp.UTC().Format(time.RFC3339)
	}
	if p.DigestionDueAt != nil {
		m["digestion_due_time"] = p.DigestionDueAt.UTC().Format(time.RFC3339)
	}
	if p.EmotionExpireAt != nil {
		m["emotion_expire_at"] = p.EmotionExpireAt.UTC().Format(time.RFC3339)
	}
	if p.LastFeedTime != nil {
		m["last_feed_time"] = p.LastFeedTime.UTC().Format(time.RFC3339)
	}
	if p.LastCleanTime != nil {
		m["last_clean_time"] = p.LastCleanTime.UTC().Format(time.RFC3339)
	}
	if p.LastPlayTime != nil {
		m["last_play_time"] = p.LastPlayTime.UTC().Format(time.RFC3339)
	}
	return m
}

// Clone 深拷贝（引擎在快照上合并补丁，不修改加载结果）
func (p *PetState) Clone() *PetState {
	cp := *p
	cp.PoopTimestamp = cloneTime(p.PoopTimestamp)
	cp.DigestionDueAt = cloneTime(p.DigestionDueAt)
	cp.EmotionExpireAt = cloneTime(p.EmotionExpireAt)
	cp.LastFeedTime = cloneTime(p.LastFeedTime)
	cp.LastPlayTime = cloneTime(p.LastPlayTime)
	cp.LastSleepTime = cloneTime(p.LastSleepTime)
	cp.LastCleanTime = cloneTime(p.LastCleanTime)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

package domain

import "time"

// 投影模式
const (
	DisplayModeStartupReset = "STARTUP_RESET"
	DisplayModeManual       = "MANUAL"
	DisplayModeAutomatic    = "AUTOMATIC"
	DisplayModeDefault      = "DEFAULT"
)

// 覆盖记录的写入来源
const (
	UpdatedByWebUI         = "web_ui"
	UpdatedByDeviceStartup = "device_startup"
	UpdatedBySystemInit    = "system_init"
)

// AnimationIDForStage 阶段到设备动画 id 的映射（设备固件的历史编号）
func AnimationIDForStage(stage string) int {
	switch stage {
	case StageInfant:
		return 0
	case StageChild:
		return 1
	case StageAdult:
		return 2
	case StageOld, StageEnd:
		return 3
	}
	return 1
}

// DisplayOverride 手动显示覆盖（对应 display_overrides 表）
// 存在时优先于宠物自动投影；设备启动复位后 5 秒内强制新生画面
type DisplayOverride struct {
	ID            int64     `db:"id"`
	DeviceID      string    `db:"device_id"`
	AnimationType string    `db:"animation_type"`
	AnimationID   int       `db:"animation_id"`
	AnimationName string    `db:"animation_name"`
	ShowHomeIcon  bool      `db:"show_home_icon"`
	ShowFoodIcon  bool      `db:"show_food_icon"`
	ShowPoopIcon  bool      `db:"show_poop_icon"`
	ScreenType    string    `db:"screen_type"`
	UpdatedAt     time.Time `db:"updated_at"`
	UpdatedBy     string    `db:"updated_by"`
}

// DisplayDescriptor 设备轮询得到的显示描述
// 设备没有任何兜底渲染，所以投影永远返回一个可渲染的描述，绝不返回错误
type DisplayDescriptor struct {
	AnimationID   int    `json:"animation_id"`
	AnimationName string `json:"animation_name"`
	AnimationType string `json:"animation_type"`
	Stage         string `json:"stage"`
	Mode          string `json:"mode"`

	Emotion     string `json:"current_emotion,omitempty"`
	CurrentMenu string `json:"current_menu,omitempty"`

	Health      int     `json:"health,omitempty"`
	Hunger      float64 `json:"hunger,omitempty"`
	Cleanliness int     `json:"cleanliness,omitempty"`
	Happiness   int     `json:"happiness,omitempty"`
	Energy      int     `json:"energy,omitempty"`
	Age         int     `json:"age,omitempty"`
	PoopPresent bool    `json:"poop_present"`
	IsHungry    bool    `json:"is_hungry"`

	ShowHomeIcon bool   `json:"show_home_icon"`
	ShowFoodIcon bool   `json:"show_food_icon"`
	ShowPoopIcon bool   `json:"show_poop_icon"`
	ScreenType   string `json:"screen_type"`

	PlayEatingAnimation   bool `json:"play_eating_animation"`
	PlayCleaningAnimation bool `json:"play_cleaning_animation"`

	Message string `json:"message,omitempty"`
}

package domain

import (
	"math"
	"time"
)

// 活动等级（按当日总步数划分）
const (
	ActivityInactive = "INACTIVE"
	ActivityLow      = "LOW"
	ActivityModerate = "MODERATE"
	ActivityHigh     = "HIGH"
	ActivityVeryHigh = "VERY_HIGH"
)

// StepDailyStat 每日步数统计（对应 step_statistics 表）
// 每设备每自然日一行；即时路径乐观累加，60秒聚合路径按读数全量重算并覆盖
type StepDailyStat struct {
	ID              int64     `db:"id"`
	DeviceID        string    `db:"device_id"`
	Date            time.Time `db:"date_recorded"` // DATE，UTC 自然日
	TotalSteps      int       `db:"total_steps"`
	PeakSteps       int       `db:"peak_steps"` // 单批次最大步数
	AvgStepInterval float64   `db:"avg_step_interval"`
	ActivityLevel   string    `db:"activity_level"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// ActivityLevelFor 按当日总步数映射活动等级
func ActivityLevelFor(totalSteps int) string {
	switch {
	case totalSteps == 0:
		return ActivityInactive
	case totalSteps < 500:
		return ActivityLow
	case totalSteps < 2000:
		return ActivityModerate
	case totalSteps < 5000:
		return ActivityHigh
	default:
		return ActivityVeryHigh
	}
}

// ToJSON 转换为JSON格式
func (s *StepDailyStat) ToJSON() map[string]any {
	return map[string]any{
		"date":              s.Date.UTC().Format("2006-01-02"),
		"total_steps":       s.TotalSteps,
		"peak_steps":        s.PeakSteps,
		"avg_step_interval": math.Round(s.AvgStepInterval*100) / 100,
		"activity_level":    s.ActivityLevel,
		"updated_at":        s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

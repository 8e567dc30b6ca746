package domain

import "time"

// 重要事件类型
const (
	EventHighSound    = "high_sound"
	EventSuddenMotion = "sudden_motion"
)

// ImportantEvent 重要事件领域模型（对应 important_events 表）
// 由摄取路径的事件检测写入，设备轮询后按 id 确认送达
type ImportantEvent struct {
	ID        int64     `db:"id"`
	DeviceID  string    `db:"device_id"`
	EventType string    `db:"event_type"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
	Sent      bool      `db:"is_sent"`
}

// ToJSON 转换为JSON格式（设备轮询响应）
func (e *ImportantEvent) ToJSON() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"device_id":  e.DeviceID,
		"event_type": e.EventType,
		"message":    e.Message,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

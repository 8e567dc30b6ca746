package domain

import "time"

// Reading 传感器读数领域模型（对应 sensor_readings 表）
// 设备每上报一个批次写入一行；除 AI 描述回填外不可变
type Reading struct {
	// 主键
	ID int64 `db:"id"` // BIGSERIAL

	// 设备索引
	DeviceID string `db:"device_id"` // VARCHAR, NOT NULL

	// 时间戳
	Timestamp time.Time `db:"timestamp"` // TIMESTAMPTZ, NOT NULL, UTC

	// 原始传感器值
	AccelX   float64 `db:"accel_x"`
	AccelY   float64 `db:"accel_y"`
	AccelZ   float64 `db:"accel_z"`
	GyroX    float64 `db:"gyro_x"`
	GyroY    float64 `db:"gyro_y"`
	GyroZ    float64 `db:"gyro_z"`
	MicLevel float64 `db:"mic_level"`

	// 服务端派生值
	Orientation           string  `db:"orientation"`            // VARCHAR(20), NEUTRAL/INVERTED/LEFT/RIGHT/FORWARD/BACK/UNKNOWN
	OrientationConfidence float64 `db:"orientation_confidence"` // 0-100
	CalibratedAX          float64 `db:"calibrated_ax"`
	CalibratedAY          float64 `db:"calibrated_ay"`
	CalibratedAZ          float64 `db:"calibrated_az"`
	StepCount             int     `db:"step_count"` // 本批次检出步数

	// 图像（可选）
	Image         []byte  `db:"camera_image"`   // BYTEA, nullable
	ImageFilename *string `db:"image_filename"` // nullable
	Caption       *string `db:"ai_caption"`     // nullable, 由标注器事后回填
}

// HasImage 是否携带图像
func (r *Reading) HasImage() bool { return len(r.Image) > 0 }

// Magnitude 加速度模长（m/s²）
func (r *Reading) Magnitude() float64 {
	return magnitude(r.AccelX, r.AccelY, r.AccelZ)
}

// ToJSON 转换为JSON格式（用于HTTP响应，不含图像二进制）
func (r *Reading) ToJSON() map[string]any {
	m := map[string]any{
		"id":                     r.ID,
		"device_id":              r.DeviceID,
		"timestamp":              r.Timestamp.UTC().Format(time.RFC3339),
		"accel_x":                r.AccelX,
		"accel_y":                r.AccelY,
		"accel_z":                r.AccelZ,
		"gyro_x":                 r.GyroX,
		"gyro_y":                 r.GyroY,
		"gyro_z":                 r.GyroZ,
		"mic_level":              r.MicLevel,
		"orientation":            r.Orientation,
		"orientation_confidence": r.OrientationConfidence,
		"calibrated_ax":          r.CalibratedAX,
		"calibrated_ay":          r.CalibratedAY,
		"calibrated_az":          r.CalibratedAZ,
		"step_count":             r.StepCount,
		"has_image":              r.HasImage(),
	}
	if r.Caption != nil {
		m["ai_caption"] = *r.Caption
	}
	if r.ImageFilename != nil {
		m["image_filename"] = *r.ImageFilename
	}
	return m
}

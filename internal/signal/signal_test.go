package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectOrientation(t *testing.T) {
	tests := []struct {
		name       string
		ax, ay, az float64
		want       string
	}{
		{"平放", 0, 0, 9.81, OrientationNeutral},
		{"倒置", 0, 0, -9.81, OrientationInverted},
		{"右倾", 9.0, 0, 1.0, OrientationRight},
		{"左倾", -9.0, 0, 1.0, OrientationLeft},
		{"后仰", 0, 9.0, 1.0, OrientationBack},
		{"前倾", 0, -9.0, 1.0, OrientationForward},
		{"无主导轴回落", 3.0, 3.0, 3.0, OrientationNeutral},
		{"主导但未过阈值回落", 0, 0, 5.0, OrientationNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := DetectOrientation(tt.ax, tt.ay, tt.az)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectOrientationConfidence(t *testing.T) {
	// 静止 1g 时置信度满分
	_, conf := DetectOrientation(0, 0, 9.81)
	assert.InDelta(t, 100.0, conf, 0.001)

	// 偏离 1g 每 m/s² 扣 10 分
	_, conf = DetectOrientation(0, 0, 12.81)
	assert.InDelta(t, 70.0, conf, 0.001)

	// 不会为负
	_, conf = DetectOrientation(0, 0, 100)
	assert.Equal(t, 0.0, conf)
}

func TestStepCounter_ThresholdAndRefractory(t *testing.T) {
	c := NewStepCounter()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	// 平方和低于阈值不计步（100² = 10000 不严格大于阈值）
	assert.Equal(t, 0, c.Detect(100, 0, 0, base))

	// 超阈值计一步
	assert.Equal(t, 1, c.Detect(101, 0, 0, base))

	// 不应期内的第二个峰被抑制
	assert.Equal(t, 0, c.Detect(120, 0, 0, base.Add(100*time.Millisecond)))

	// 过了不应期再次计步
	assert.Equal(t, 1, c.Detect(120, 0, 0, base.Add(400*time.Millisecond)))

	assert.Equal(t, int64(2), c.Total())

	c.Reset()
	assert.Equal(t, int64(0), c.Total())
	// 复位后不应期同样清除
	assert.Equal(t, 1, c.Detect(120, 0, 0, base.Add(450*time.Millisecond)))
}

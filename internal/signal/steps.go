package signal

import (
	"sync"
	"time"
)

// 计步参数（沿用设备固件的 stoss/barrier 口径，不做单位归一）
const (
	stepBarrier     = 10000.0               // 三轴平方和阈值
	stepMinInterval = 200 * time.Millisecond // 两步之间的最小间隔
)

// StepCounter 计步器：阈值 + 不应期
// 每设备一个实例，内部互斥保护最后一步时间与累计值
type StepCounter struct {
	mu       sync.Mutex
	lastStep time.Time
	total    int64
}

func NewStepCounter() *StepCounter {
	return &StepCounter{}
}

// Detect 对单个读数判定是否出步
// stoss = ax² + ay² + az² 超过阈值、且距上一步超过不应期才计 1 步
func (c *StepCounter) Detect(ax, ay, az float64, at time.Time) int {
	stoss := ax*ax + ay*ay + az*az
	if stoss <= stepBarrier {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastStep.IsZero() && at.Sub(c.lastStep) <= stepMinInterval {
		return 0
	}
	c.lastStep = at
	c.total++
	return 1
}

// Total 设备启动以来的累计步数
func (c *StepCounter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Reset 清零累计值与不应期
func (c *StepCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.lastStep = time.Time{}
}

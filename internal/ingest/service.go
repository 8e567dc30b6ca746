package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
	"tamacloud/internal/signal"
)

// 事件检测阈值
const (
	highSoundThreshold    = 80.0
	suddenMotionThreshold = 5.0 // m/s² 模长突变
	batchReadingSpacing   = 100 * time.Millisecond
)

// DefaultDeviceID 设备未自报 ID 时的缺省值
const DefaultDeviceID = "ESP32_001"

// Publisher 实时推送接口（broadcast.Hub 实现）
type Publisher interface {
	Publish(topic, deviceID string, payload any)
}

// BatchReading 批次里的单个子读数
type BatchReading struct {
	AccelX float64 `json:"accel_x"`
	AccelY float64 `json:"accel_y"`
	AccelZ float64 `json:"accel_z"`
}

// SensorBatch 设备缓冲上报的高频子读数
type SensorBatch struct {
	Readings []BatchReading `json:"readings"`
}

// SensorPayload 设备上报的遥测包
type SensorPayload struct {
	DeviceID string  `json:"device_id"`
	AccelX   float64 `json:"accel_x"`
	AccelY   float64 `json:"accel_y"`
	AccelZ   float64 `json:"accel_z"`
	GyroX    float64 `json:"gyro_x"`
	GyroY    float64 `json:"gyro_y"`
	GyroZ    float64 `json:"gyro_z"`
	MicLevel float64 `json:"mic_level"`

	SensorBatch *SensorBatch `json:"sensor_batch,omitempty"`
}

// OrientationPayload 设备端已标定的姿态包
type OrientationPayload struct {
	DeviceID     string  `json:"device_id"`
	Direction    string  `json:"direction"`
	Confidence   float64 `json:"confidence"`
	CalibratedAX float64 `json:"calibrated_ax"`
	CalibratedAY float64 `json:"calibrated_ay"`
	CalibratedAZ float64 `json:"calibrated_az"`
}

// Service 遥测摄取
// 服务端计步与姿态推断、读数落库、重要事件检出、步数即时累计、实时推送
type Service struct {
	readings repository.ReadingRepo
	events   repository.EventRepo
	stats    repository.StepStatRepo
	hub      Publisher
	logger   *zap.Logger

	now func() time.Time

	mu       sync.Mutex
	counters map[string]*signal.StepCounter
	lastMag  map[string]float64
	magSeen  map[string]bool
}

func NewService(readings repository.ReadingRepo, events repository.EventRepo, stats repository.StepStatRepo, hub Publisher, logger *zap.Logger) *Service {
	return &Service{
		readings: readings,
		events:   events,
		stats:    stats,
		hub:      hub,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		counters: make(map[string]*signal.StepCounter),
		lastMag:  make(map[string]float64),
		magSeen:  make(map[string]bool),
	}
}

// SetClock 注入时钟（仅测试）
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Counter 设备的计步器（按需创建）
func (s *Service) Counter(deviceID string) *signal.StepCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[deviceID]
	if !ok {
		c = signal.NewStepCounter()
		s.counters[deviceID] = c
	}
	return c
}

// Process 处理一个遥测包：计步、姿态、落库、事件、即时统计、推送
func (s *Service) Process(ctx context.Context, p *SensorPayload) (*domain.Reading, error) {
	if p.DeviceID == "" {
		p.DeviceID = DefaultDeviceID
	}
	now := s.now()
	counter := s.Counter(p.DeviceID)

	// 批次按 100ms 间隔还原子读数时间轴；没有批次就按单读数判定
	steps := 0
	if p.SensorBatch != nil && len(p.SensorBatch.Readings) > 0 {
		for idx, r := range p.SensorBatch.Readings {
			at := now.Add(time.Duration(idx) * batchReadingSpacing)
			steps += counter.Detect(r.AccelX, r.AccelY, r.AccelZ, at)
		}
	} else {
		steps = counter.Detect(p.AccelX, p.AccelY, p.AccelZ, now)
	}

	orientation, confidence := signal.DetectOrientation(p.AccelX, p.AccelY, p.AccelZ)

	reading := &domain.Reading{
		DeviceID:              p.DeviceID,
		Timestamp:             now,
		AccelX:                p.AccelX,
		AccelY:                p.AccelY,
		AccelZ:                p.AccelZ,
		GyroX:                 p.GyroX,
		GyroY:                 p.GyroY,
		GyroZ:                 p.GyroZ,
		MicLevel:              p.MicLevel,
		Orientation:           orientation,
		OrientationConfidence: confidence,
		CalibratedAX:          p.AccelX,
		CalibratedAY:          p.AccelY,
		CalibratedAZ:          p.AccelZ,
		StepCount:             steps,
	}

	// 事件检出在落库前做：基准补值要拿到“上一条”读数
	s.detectEvents(ctx, p, now)

	if err := s.readings.Insert(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to store reading: %w", err)
	}

	// 即时路径：检出步数立刻累加到当日统计，不等 60 秒重算
	if steps > 0 {
		if err := s.stats.AddSteps(ctx, p.DeviceID, now, steps, 0); err != nil {
			s.logger.Warn("Failed to record immediate steps",
				zap.String("device_id", p.DeviceID), zap.Error(err))
		}
		s.logger.Info("Steps detected",
			zap.String("device_id", p.DeviceID),
			zap.Int("steps", steps),
			zap.Int64("total", counter.Total()))
	}

	if s.hub != nil {
		s.hub.Publish("sensor_update", p.DeviceID, map[string]any{
			"timestamp": now.Format(time.RFC3339),
			"accel_x":   p.AccelX,
			"accel_y":   p.AccelY,
			"accel_z":   p.AccelZ,
			"gyro_x":    p.GyroX,
			"gyro_y":    p.GyroY,
			"gyro_z":    p.GyroZ,
			"mic_level": p.MicLevel,
		})
		s.hub.Publish("orientation_update", p.DeviceID, map[string]any{
			"timestamp":  now.Format(time.RFC3339),
			"direction":  orientation,
			"confidence": confidence,
		})
		if steps > 0 {
			s.hub.Publish("step_counter_update", p.DeviceID, map[string]any{
				"steps_in_batch": steps,
				"total_steps":    counter.Total(),
			})
		}
	}

	return reading, nil
}

// ProcessOrientation 设备端标定姿态：写到最近一条读数上，没有读数就落一条姿态读数
func (s *Service) ProcessOrientation(ctx context.Context, p *OrientationPayload) error {
	if p.DeviceID == "" {
		p.DeviceID = DefaultDeviceID
	}

	err := s.readings.UpdateLatestOrientation(ctx, p.DeviceID, p.Direction, p.Confidence,
		p.CalibratedAX, p.CalibratedAY, p.CalibratedAZ)
	if errors.Is(err, repository.ErrNotFound) {
		reading := &domain.Reading{
			DeviceID:              p.DeviceID,
			Timestamp:             s.now(),
			Orientation:           p.Direction,
			OrientationConfidence: p.Confidence,
			CalibratedAX:          p.CalibratedAX,
			CalibratedAY:          p.CalibratedAY,
			CalibratedAZ:          p.CalibratedAZ,
		}
		err = s.readings.Insert(ctx, reading)
	}
	if err != nil {
		return fmt.Errorf("failed to store orientation: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish("orientation_update", p.DeviceID, map[string]any{
			"direction":  p.Direction,
			"confidence": p.Confidence,
		})
	}
	return nil
}

// detectEvents 重要事件检出：高分贝与模长突变
// 事件写入失败不阻塞摄取路径，只记日志
func (s *Service) detectEvents(ctx context.Context, p *SensorPayload, now time.Time) {
	if p.MicLevel > highSoundThreshold {
		s.insertEvent(ctx, &domain.ImportantEvent{
			DeviceID:  p.DeviceID,
			EventType: domain.EventHighSound,
			Message:   fmt.Sprintf("High sound detected: %.1f dB", p.MicLevel),
			CreatedAt: now,
		})
	}

	if p.AccelX == 0 && p.AccelY == 0 && p.AccelZ == 0 {
		return
	}
	mag := signal.Magnitude(p.AccelX, p.AccelY, p.AccelZ)

	s.mu.Lock()
	prev, seen := s.lastMag[p.DeviceID], s.magSeen[p.DeviceID]
	s.lastMag[p.DeviceID] = mag
	s.magSeen[p.DeviceID] = true
	s.mu.Unlock()

	if !seen {
		// 进程重启后用库里最近一条读数补上基准
		ax, ay, az, err := s.readings.LatestAccel(ctx, p.DeviceID)
		if err != nil {
			return
		}
		prev = signal.Magnitude(ax, ay, az)
	}

	if change := math.Abs(mag - prev); change > suddenMotionThreshold {
		s.insertEvent(ctx, &domain.ImportantEvent{
			DeviceID:  p.DeviceID,
			EventType: domain.EventSuddenMotion,
			Message:   fmt.Sprintf("Sudden motion detected: %.2f m/s² change", change),
			CreatedAt: now,
		})
	}
}

func (s *Service) insertEvent(ctx context.Context, e *domain.ImportantEvent) {
	if err := s.events.Insert(ctx, e); err != nil {
		s.logger.Error("Failed to record important event",
			zap.String("device_id", e.DeviceID),
			zap.String("event_type", e.EventType),
			zap.Error(err))
		return
	}
	if s.hub != nil {
		s.hub.Publish("important_event", e.DeviceID, e.ToJSON())
	}
}

package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
	"tamacloud/internal/signal"
)

type capturedMessage struct {
	Topic    string
	DeviceID string
}

type fakeHub struct {
	mu       sync.Mutex
	messages []capturedMessage
}

func (h *fakeHub) Publish(topic, deviceID string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, capturedMessage{Topic: topic, DeviceID: deviceID})
}

func (h *fakeHub) topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Topic
	}
	return out
}

type testEnv struct {
	svc      *Service
	readings *repository.MemoryReadingRepo
	events   *repository.MemoryEventRepo
	stats    *repository.MemoryStepStatRepo
	hub      *fakeHub
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		readings: repository.NewMemoryReadingRepo(),
		events:   repository.NewMemoryEventRepo(),
		stats:    repository.NewMemoryStepStatRepo(),
		hub:      &fakeHub{},
		now:      time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(env.readings, env.events, env.stats, env.hub, zap.NewNop())
	env.svc.SetClock(func() time.Time { return env.now })
	return env
}

func TestProcessStoresReadingWithDerivedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r, err := env.svc.Process(ctx, &SensorPayload{
		DeviceID: "ESP32_001",
		AccelX:   0, AccelY: 0, AccelZ: 9.81,
		MicLevel: 40,
	})
	require.NoError(t, err)

	assert.Equal(t, signal.OrientationNeutral, r.Orientation)
	assert.InDelta(t, 100.0, r.OrientationConfidence, 0.001)
	assert.Equal(t, 9.81, r.CalibratedAZ)
	assert.Equal(t, 0, r.StepCount)

	stored, err := env.readings.Latest(ctx, "ESP32_001", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, r.ID, stored[0].ID)
}

func TestProcessDefaultsDeviceID(t *testing.T) {
	env := newTestEnv(t)

	r, err := env.svc.Process(context.Background(), &SensorPayload{AccelZ: 9.81})
	require.NoError(t, err)
	assert.Equal(t, DefaultDeviceID, r.DeviceID)
}

func TestProcessBatchSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 四个超阈值子读数间隔 100ms，不应期 200ms 只放行第 1、4 个
	batch := &SensorBatch{Readings: []BatchReading{
		{AccelX: 120}, {AccelX: 120}, {AccelX: 120}, {AccelX: 120},
	}}
	r, err := env.svc.Process(ctx, &SensorPayload{DeviceID: "ESP32_001", AccelZ: 9.81, SensorBatch: batch})
	require.NoError(t, err)
	assert.Equal(t, 2, r.StepCount)

	// 即时路径写入当日统计
	stat, err := env.stats.Get(ctx, "ESP32_001", env.now)
	require.NoError(t, err)
	assert.Equal(t, 2, stat.TotalSteps)
	assert.Contains(t, env.hub.topics(), "step_counter_update")
}

func TestProcessHighSoundEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Process(ctx, &SensorPayload{DeviceID: "ESP32_001", AccelZ: 9.81, MicLevel: 85})
	require.NoError(t, err)

	events, err := env.events.Unsent(ctx, "ESP32_001", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventHighSound, events[0].EventType)
	assert.Contains(t, env.hub.topics(), "important_event")
}

func TestProcessSuddenMotionEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 第一条建立基准，不触发
	_, err := env.svc.Process(ctx, &SensorPayload{DeviceID: "ESP32_001", AccelZ: 9.81})
	require.NoError(t, err)
	events, err := env.events.Unsent(ctx, "ESP32_001", 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	// 模长突变 > 5 m/s² 触发事件
	env.now = env.now.Add(time.Second)
	_, err = env.svc.Process(ctx, &SensorPayload{DeviceID: "ESP32_001", AccelZ: 16.0})
	require.NoError(t, err)

	events, err = env.events.Unsent(ctx, "ESP32_001", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSuddenMotion, events[0].EventType)
}

func TestProcessOrientationUpdatesLatestReading(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Process(ctx, &SensorPayload{DeviceID: "ESP32_001", AccelZ: 9.81})
	require.NoError(t, err)

	err = env.svc.ProcessOrientation(ctx, &OrientationPayload{
		DeviceID: "ESP32_001", Direction: signal.OrientationLeft, Confidence: 88,
		CalibratedAX: -9.0,
	})
	require.NoError(t, err)

	stored, err := env.readings.Latest(ctx, "ESP32_001", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, signal.OrientationLeft, stored[0].Orientation)
	assert.Equal(t, 88.0, stored[0].OrientationConfidence)
}

func TestProcessOrientationInsertsWhenNoReading(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.svc.ProcessOrientation(ctx, &OrientationPayload{
		DeviceID: "ESP32_002", Direction: signal.OrientationForward, Confidence: 70,
	})
	require.NoError(t, err)

	stored, err := env.readings.Latest(ctx, "ESP32_002", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, signal.OrientationForward, stored[0].Orientation)
}

func TestAggregatorRecompute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 两个带步数的批次
	for _, steps := range []int{3, 5} {
		require.NoError(t, env.readings.Insert(ctx, &domain.Reading{
			DeviceID:  "ESP32_001",
			Timestamp: env.now,
			StepCount: steps,
		}))
	}

	agg := NewStatsAggregator(env.readings, env.stats, time.Minute, zap.NewNop())
	agg.now = func() time.Time { return env.now }
	require.NoError(t, agg.Recompute(ctx, "ESP32_001"))

	stat, err := env.stats.Get(ctx, "ESP32_001", env.now)
	require.NoError(t, err)
	assert.Equal(t, 8, stat.TotalSteps)
	assert.Equal(t, 5, stat.PeakSteps)
	assert.InDelta(t, 4.0, stat.AvgStepInterval, 0.001)
	assert.Equal(t, domain.ActivityLow, stat.ActivityLevel)
}

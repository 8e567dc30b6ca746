package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tamacloud/internal/display"
	"tamacloud/internal/domain"
	"tamacloud/internal/engine"
	"tamacloud/internal/ingest"
	"tamacloud/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHub struct {
	mu     sync.Mutex
	topics []string
}

func (h *recordingHub) Publish(topic, deviceID string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics, topic)
}

func (h *recordingHub) has(topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.topics {
		if t == topic {
			return true
		}
	}
	return false
}

type testServer struct {
	router   *Router
	hub      *recordingHub
	readings *repository.MemoryReadingRepo
	events   *repository.MemoryEventRepo
	engine   *engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	readings := repository.NewMemoryReadingRepo()
	events := repository.NewMemoryEventRepo()
	stats := repository.NewMemoryStepStatRepo()
	states := repository.NewMemoryPetStateRepo()
	overrides := repository.NewMemoryDisplayRepo()

	hub := &recordingHub{}
	eng := engine.New(states, logger)
	svc := ingest.NewService(readings, events, stats, hub, logger)
	projector := display.NewProjector(overrides, eng, logger)

	router := NewRouter(logger)
	router.RegisterSensorRoutes(NewSensorHandler(svc, readings, stats, eng, hub, logger))
	router.RegisterEventRoutes(NewEventHandler(events, logger))
	router.RegisterPetRoutes(NewPetHandler(eng, hub, logger))
	router.RegisterDisplayRoutes(NewDisplayHandler(projector, eng, hub, logger))
	router.RegisterHealthRoute(HealthHandler(nil))

	return &testServer{router: router, hub: hub, readings: readings, events: events, engine: eng}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result[map[string]any] {
	t.Helper()
	var res Result[map[string]any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestReceiveSensorDataStoresDerivedFields(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"device_id": "ESP32_001",
		"accel_x":   0.0,
		"accel_y":   0.0,
		"accel_z":   9.81,
		"mic_level": 42.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "NEUTRAL", res.Result["orientation"])
	assert.InDelta(t, 100.0, res.Result["confidence"].(float64), 0.01)
}

func TestSensorDataRejectsWrongMethod(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/sensor-data", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventPollAndAck(t *testing.T) {
	srv := newTestServer(t)

	// 高分贝触发事件
	rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"device_id": "ESP32_001",
		"accel_z":   9.81,
		"mic_level": 95.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/events?device_id=ESP32_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	require.Equal(t, float64(1), res.Result["count"])

	events := res.Result["events"].([]any)
	first := events[0].(map[string]any)
	eventID := int64(first["id"].(float64))

	// 确认送达
	rec = srv.do(t, http.MethodPost, "/api/device/event/received", map[string]any{"event_id": eventID})
	assert.Equal(t, http.StatusOK, rec.Code)

	// 重复确认幂等
	rec = srv.do(t, http.MethodPost, "/api/device/event/received", map[string]any{"event_id": eventID})
	assert.Equal(t, http.StatusOK, rec.Code)

	// 确认后不再出现在轮询里
	rec = srv.do(t, http.MethodGet, "/api/events?device_id=ESP32_001", nil)
	res = decodeResult(t, rec)
	assert.Equal(t, float64(0), res.Result["count"])
}

func TestAckUnknownEventReturns404(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/device/event/received", map[string]any{"event_id": 9999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAckWithoutEventIDReturns400(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/device/event/received", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPetFeedSetsEatingEmotion(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pet/feed", map[string]any{"device_id": "ESP32_001"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "EATING", res.Result["current_emotion"])
}

func TestPetMenuRejectsDisplayMenus(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pet/menu", map[string]any{
		"device_id": "ESP32_001",
		"menu":      domain.MenuFood,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlayResultValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/pet/play-result", map[string]any{
		"device_id": "ESP32_001",
		"result":    "DRAW",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/pet/play-result", map[string]any{
		"device_id": "ESP32_001",
		"result":    "WIN",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "WIN", res.Result["current_emotion"])
}

func TestPetStateCreatesDefaults(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/pet/state?device_id=ESP32_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "INFANT", res.Result["stage"])
	assert.Equal(t, float64(100), res.Result["health"])
}

func TestDisplayGetWithoutPetFallsBackToDefault(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/oled-display/get?device_id=ESP32_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, domain.DisplayModeDefault, res.Result["mode"])
	assert.Equal(t, "CHILD", res.Result["stage"])
}

func TestDisplaySetValidatesAnimationID(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/oled-display/set", map[string]any{
		"device_id":    "ESP32_001",
		"animation_id": 9,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/oled-display/set", map[string]any{
		"device_id":    "ESP32_001",
		"animation_id": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "ADULT", res.Result["animation_name"])
	assert.True(t, srv.hub.has("display_changed"))

	// 手动覆盖后投影进入 MANUAL
	rec = srv.do(t, http.MethodGet, "/api/oled-display/get?device_id=ESP32_001", nil)
	res = decodeResult(t, rec)
	assert.Equal(t, domain.DisplayModeManual, res.Result["mode"])

	// 重置回自动
	rec = srv.do(t, http.MethodPost, "/api/oled-display/reset", map[string]any{"device_id": "ESP32_001"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, http.MethodGet, "/api/oled-display/get?device_id=ESP32_001", nil)
	res = decodeResult(t, rec)
	assert.Equal(t, domain.DisplayModeDefault, res.Result["mode"])
}

func TestMenuSwitchValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/oled-display/menu-switch", map[string]any{
		"device_id": "ESP32_001",
		"menu":      "HEALTH",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/oled-display/menu-switch", map[string]any{
		"device_id": "ESP32_001",
		"menu":      domain.MenuFood,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, srv.hub.has("menu_changed"))
}

func TestUploadImageAutoFeedsAndServesImage(t *testing.T) {
	srv := newTestServer(t)

	image := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	rec := srv.do(t, http.MethodPost, "/upload?device_id=ESP32_001", image)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, true, res.Result["pet_fed"])
	assert.True(t, srv.hub.has("camera_update"))

	imageURL := res.Result["image_url"].(string)
	require.True(t, strings.HasPrefix(imageURL, "/api/image/"))

	rec = srv.do(t, http.MethodGet, imageURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, image, rec.Body.Bytes())

	// 空请求体拒绝
	rec = srv.do(t, http.MethodPost, "/upload", []byte{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestImageNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/latest-image?device_id=ESP32_001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestDataAndClear(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
			"device_id": "ESP32_001",
			"accel_z":   9.81,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := srv.do(t, http.MethodGet, "/api/latest?device_id=ESP32_001&limit=2", nil)
	res := decodeResult(t, rec)
	assert.Equal(t, float64(2), res.Result["count"])

	rec = srv.do(t, http.MethodPost, "/api/clear?device_id=ESP32_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeResult(t, rec)
	assert.Equal(t, float64(3), res.Result["deleted"])
}

func TestStepCounterGetAndReset(t *testing.T) {
	srv := newTestServer(t)

	// 四条 100ms 间隔的高能量批次读数 → 2 步
	batch := make([]map[string]any, 4)
	for i := range batch {
		batch[i] = map[string]any{"accel_x": 120.0}
	}
	rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"device_id":    "ESP32_001",
		"sensor_batch": map[string]any{"readings": batch},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/step-counter/get?device_id=ESP32_001", nil)
	res := decodeResult(t, rec)
	assert.Equal(t, float64(2), res.Result["total_steps"])
	assert.Equal(t, float64(2), res.Result["daily_steps"])

	rec = srv.do(t, http.MethodPost, "/api/step-counter/reset?device_id=ESP32_001", nil)
	res = decodeResult(t, rec)
	assert.Equal(t, float64(2), res.Result["reset_from"])

	rec = srv.do(t, http.MethodGet, "/api/step-counter/get?device_id=ESP32_001", nil)
	res = decodeResult(t, rec)
	assert.Equal(t, float64(0), res.Result["total_steps"])
}

func TestStepCounterStatsShape(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"device_id": "ESP32_001",
		"accel_x":   120.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/step-counter/stats?device_id=ESP32_001&days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Contains(t, res.Result, "daily_statistics")
	assert.Contains(t, res.Result, "today_details")
	assert.Contains(t, res.Result, "summary")
}

func TestExportXLSXProducesWorkbook(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"device_id": "ESP32_001",
		"accel_z":   9.81,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/export/xlsx?device_id=ESP32_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.Bytes())
	// xlsx 是 zip 容器，以 PK 开头
	assert.Equal(t, []byte{'P', 'K'}, rec.Body.Bytes()[:2])
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/sensor-data", map[string]any{
		"device_id": "ESP32_001",
		"accel_z":   9.81,
		"mic_level": 55.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/stats?device_id=ESP32_001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, float64(1), res.Result["total_records"])
	assert.Equal(t, float64(55), res.Result["max_mic_level"])
}

func TestStartupCompleteResetsPet(t *testing.T) {
	srv := newTestServer(t)

	// 先把宠物养老一点
	rec := srv.do(t, http.MethodPost, "/api/pet/feed", map[string]any{"device_id": "ESP32_001"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/device/startup-complete", map[string]any{"device_id": "ESP32_001"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, domain.DisplayModeStartupReset, res.Result["mode"])
	assert.Equal(t, "INFANT", res.Result["stage"])

	// 5 秒锁定窗口内持续返回开机画面
	rec = srv.do(t, http.MethodGet, "/api/oled-display/get?device_id=ESP32_001", nil)
	res = decodeResult(t, rec)
	assert.Equal(t, domain.DisplayModeStartupReset, res.Result["mode"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, "healthy", res.Result["status"])
	assert.Equal(t, false, res.Result["database"])
}

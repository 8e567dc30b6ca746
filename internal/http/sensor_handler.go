package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tamacloud/internal/domain"
	"tamacloud/internal/engine"
	"tamacloud/internal/ingest"
	"tamacloud/internal/repository"

	"go.uber.org/zap"
)

const (
	maxJSONBody  = 1 << 20 // 1MB
	maxImageBody = 8 << 20 // 8MB
	defaultLimit = 20
)

// Publisher 实时推送出口（broadcast.Hub 或测试替身）
type Publisher interface {
	Publish(topic, deviceID string, payload any)
}

// SensorHandler 遥测上报与数据面板 Handler
type SensorHandler struct {
	service  *ingest.Service
	readings repository.ReadingRepo
	stats    repository.StepStatRepo
	engine   *engine.Engine
	hub      Publisher
	logger   *zap.Logger

	now func() time.Time
}

// NewSensorHandler 创建遥测 Handler
func NewSensorHandler(service *ingest.Service, readings repository.ReadingRepo, stats repository.StepStatRepo, eng *engine.Engine, hub Publisher, logger *zap.Logger) *SensorHandler {
	return &SensorHandler{
		service:  service,
		readings: readings,
		stats:    stats,
		engine:   eng,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

// ReceiveSensorData 设备遥测上报（单条或带 sensor_batch 的缓冲批次）
func (h *SensorHandler) ReceiveSensorData(w http.ResponseWriter, r *http.Request) {
	var p ingest.SensorPayload
	if err := readBodyJSON(r, maxJSONBody, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	rd, err := h.service.Process(r.Context(), &p)
	if err != nil {
		h.logger.Error("Failed to process sensor data", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to store sensor data"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"id":          rd.ID,
		"device_id":   rd.DeviceID,
		"orientation": rd.Orientation,
		"confidence":  rd.OrientationConfidence,
		"step_count":  rd.StepCount,
		"timestamp":   rd.Timestamp.UTC().Format(time.RFC3339),
	}))
}

// ReceiveOrientationData 设备端标定后的姿态上报
func (h *SensorHandler) ReceiveOrientationData(w http.ResponseWriter, r *http.Request) {
	var p ingest.OrientationPayload
	if err := readBodyJSON(r, maxJSONBody, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if p.Direction == "" {
		writeJSON(w, http.StatusBadRequest, Fail("direction is required"))
		return
	}

	if err := h.service.ProcessOrientation(r.Context(), &p); err != nil {
		h.logger.Error("Failed to process orientation data", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to store orientation"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id":   deviceIDOr(p.DeviceID, ingest.DefaultDeviceID),
		"orientation": p.Direction,
		"confidence":  p.Confidence,
	}))
}

// UploadImage 接收设备二进制照片；照片即食物，入库后自动喂食
func (h *SensorHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	image, err := io.ReadAll(io.LimitReader(r.Body, maxImageBody))
	if err != nil || len(image) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("empty image body"))
		return
	}

	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	now := h.now().UTC()
	filename := fmt.Sprintf("esp32_%d.jpg", now.Unix())

	rd := &domain.Reading{
		DeviceID:      deviceID,
		Timestamp:     now,
		Image:         image,
		ImageFilename: &filename,
	}
	if err := h.readings.Insert(r.Context(), rd); err != nil {
		h.logger.Error("Failed to store image", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to store image"))
		return
	}
	h.logger.Info("Image stored",
		zap.String("device_id", deviceID),
		zap.Int64("image_id", rd.ID),
		zap.Int("bytes", len(image)))

	// 照片即投喂：不走动作锁，失败只记日志
	petFed := false
	if st, err := h.engine.AutoFeed(r.Context(), deviceID); err != nil {
		h.logger.Warn("Auto-feed after image upload failed", zap.Error(err))
	} else {
		petFed = true
		h.logger.Info("Pet auto-fed via image upload",
			zap.String("device_id", deviceID),
			zap.Float64("hunger", st.Hunger))
	}

	if h.hub != nil {
		h.hub.Publish("camera_update", deviceID, map[string]any{
			"image_id":  rd.ID,
			"image_url": fmt.Sprintf("/api/image/%d", rd.ID),
			"filename":  filename,
		})
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"image_id":       rd.ID,
		"image_url":      fmt.Sprintf("/api/image/%d", rd.ID),
		"filename":       filename,
		"pet_fed":        petFed,
		"hunger_reduced": 40,
	}))
}

// LatestData 最近 limit 条读数（不含图像二进制）
func (h *SensorHandler) LatestData(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	limit := parseInt(r.URL.Query().Get("limit"), defaultLimit)

	readings, err := h.readings.Latest(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to fetch latest readings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to fetch readings"))
		return
	}

	records := make([]map[string]any, 0, len(readings))
	for _, rd := range readings {
		records = append(records, rd.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"records": records,
		"count":   len(records),
	}))
}

// ImageByID 按读数 ID 返回照片二进制
func (h *SensorHandler) ImageByID(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid image id"))
		return
	}

	image, filename, err := h.readings.ImageByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("image not found"))
			return
		}
		h.logger.Error("Failed to fetch image", zap.Int64("id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to fetch image"))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s", filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

// LatestImage 最近一张照片（base64 data URL + AI 描述）
func (h *SensorHandler) LatestImage(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)

	image, filename, caption, err := h.readings.LatestImage(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("no images found"))
			return
		}
		h.logger.Error("Failed to fetch latest image", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to fetch image"))
		return
	}
	if caption == "" {
		caption = "Waiting for AI analysis..."
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"image_url":  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
		"filename":   filename,
		"ai_caption": caption,
	}))
}

// Stats 当日读数统计 + 步数聚合
func (h *SensorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	day := h.now().UTC()

	count, maxMic, err := h.readings.Stats(r.Context(), deviceID, day)
	if err != nil {
		h.logger.Error("Failed to compute stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to compute stats"))
		return
	}
	total, peak, avg, err := h.readings.DailyStepAggregate(r.Context(), deviceID, day)
	if err != nil {
		h.logger.Error("Failed to aggregate steps", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to compute stats"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id":      deviceID,
		"date":           day.Format("2006-01-02"),
		"total_records":  count,
		"max_mic_level":  maxMic,
		"total_steps":    total,
		"peak_steps":     peak,
		"avg_steps":      avg,
		"activity_level": domain.ActivityLevelFor(total),
	}))
}

// ExportJSON 按时间正序导出读数（JSON 附件，不含二进制）
func (h *SensorHandler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	limit := parseInt(r.URL.Query().Get("limit"), 10000)

	readings, err := h.readings.ExportRows(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to export readings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export readings"))
		return
	}

	records := make([]map[string]any, 0, len(readings))
	for _, rd := range readings {
		records = append(records, rd.ToJSON())
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=sensor_data_%s.json", h.now().UTC().Format("20060102_150405")))
	writeJSON(w, http.StatusOK, records)
}

// ExportXLSX 读数导出为 Excel 工作簿
func (h *SensorHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	limit := parseInt(r.URL.Query().Get("limit"), 10000)

	readings, err := h.readings.ExportRows(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to export readings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export readings"))
		return
	}

	data, err := GenerateReadingsExport(readings)
	if err != nil {
		h.logger.Error("Failed to generate workbook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate workbook"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=sensor_data_%s.xlsx", h.now().UTC().Format("20060102_150405")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ClearData 清空该设备全部读数（开发用）
func (h *SensorHandler) ClearData(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)

	deleted, err := h.readings.Clear(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to clear readings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to clear readings"))
		return
	}
	writeJSON(w, http.StatusOK, OkMsg("database cleared", map[string]any{
		"device_id": deviceID,
		"deleted":   deleted,
	}))
}

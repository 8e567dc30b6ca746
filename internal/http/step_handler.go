package httpapi

import (
	"context"
	"net/http"
	"time"

	"tamacloud/internal/ingest"

	"go.uber.org/zap"
)

// StepCounterGet 当前计步器读数（会话总步数 + 当日步数）
func (h *SensorHandler) StepCounterGet(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	now := h.now().UTC()

	daily, _, _, err := h.readings.DailyStepAggregate(r.Context(), deviceID, now)
	if err != nil {
		h.logger.Error("Failed to aggregate daily steps", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read step counter"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id":   deviceID,
		"total_steps": h.service.Counter(deviceID).Total(),
		"daily_steps": daily,
		"timestamp":   now.Format(time.RFC3339),
	}))
}

// StepCounterReset 计步器归零（新会话）
func (h *SensorHandler) StepCounterReset(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)

	counter := h.service.Counter(deviceID)
	old := counter.Total()
	counter.Reset()
	h.logger.Info("Step counter reset",
		zap.String("device_id", deviceID),
		zap.Int64("reset_from", old))

	if h.hub != nil {
		h.hub.Publish("step_counter_update", deviceID, map[string]any{
			"total_steps": 0,
			"batch_steps": 0,
		})
	}

	writeJSON(w, http.StatusOK, OkMsg("step counter reset to 0", map[string]any{
		"device_id":  deviceID,
		"reset_from": old,
		"new_count":  0,
		"timestamp":  h.now().UTC().Format(time.RFC3339),
	}))
}

// StepCounterStats 步数日统计、当日批次明细与周环比趋势
func (h *SensorHandler) StepCounterStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)
	days := parseInt(r.URL.Query().Get("days"), 7)
	now := h.now().UTC()

	stats, err := h.stats.Range(ctx, deviceID, now.AddDate(0, 0, -days), now)
	if err != nil {
		h.logger.Error("Failed to query step statistics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query step statistics"))
		return
	}

	// 日统计倒序展示，最近的一天在前
	dailyStats := make([]map[string]any, 0, len(stats))
	sumDaily, maxDaily := 0, 0
	for i := len(stats) - 1; i >= 0; i-- {
		dailyStats = append(dailyStats, stats[i].ToJSON())
		sumDaily += stats[i].TotalSteps
		if stats[i].TotalSteps > maxDaily {
			maxDaily = stats[i].TotalSteps
		}
	}

	// 当日批次明细（最近 20 批，累计值只覆盖取到的窗口）
	todayDetails := make([]map[string]any, 0, defaultLimit)
	if readings, err := h.readings.Latest(ctx, deviceID, defaultLimit); err == nil {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		cumulative := 0
		for i := len(readings) - 1; i >= 0; i-- {
			rd := readings[i]
			if rd.Timestamp.Before(midnight) {
				continue
			}
			cumulative += rd.StepCount
			todayDetails = append(todayDetails, map[string]any{
				"timestamp":      rd.Timestamp.UTC().Format(time.RFC3339),
				"steps_in_batch": rd.StepCount,
				"accel":          []float64{rd.AccelX, rd.AccelY, rd.AccelZ},
				"cumulative":     cumulative,
			})
		}
	}

	trend := h.weeklyTrend(ctx, deviceID, now)

	avgDaily := 0.0
	if len(dailyStats) > 0 {
		avgDaily = float64(sumDaily) / float64(len(dailyStats))
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id":        deviceID,
		"current_total":    h.service.Counter(deviceID).Total(),
		"today":            now.Format("2006-01-02"),
		"daily_statistics": dailyStats,
		"today_details":    todayDetails,
		"trend":            trend,
		"summary": map[string]any{
			"total_days_tracked":  len(dailyStats),
			"avg_daily_steps":     avgDaily,
			"max_daily_steps":     maxDaily,
			"total_batches_today": len(todayDetails),
		},
		"timestamp": now.Format(time.RFC3339),
	}))
}

// weeklyTrend 最近一周与前一周步数环比；数据不足时返回 nil
func (h *SensorHandler) weeklyTrend(ctx context.Context, deviceID string, now time.Time) map[string]any {
	thisWeek, err := h.stats.Range(ctx, deviceID, now.AddDate(0, 0, -7), now)
	if err != nil || len(thisWeek) < 2 {
		return nil
	}
	prevWeek, err := h.stats.Range(ctx, deviceID, now.AddDate(0, 0, -14), now.AddDate(0, 0, -8))
	if err != nil {
		return nil
	}

	last, prev := 0, 0
	for _, s := range thisWeek {
		last += s.TotalSteps
	}
	for _, s := range prevWeek {
		prev += s.TotalSteps
	}
	if prev == 0 {
		return nil
	}

	change := float64(last-prev) / float64(prev) * 100
	direction := "stable"
	if change > 0 {
		direction = "up"
	} else if change < 0 {
		direction = "down"
	}
	return map[string]any{
		"last_week":      last,
		"previous_week":  prev,
		"change_percent": change,
		"direction":      direction,
	}
}

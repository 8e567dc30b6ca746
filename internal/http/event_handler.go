package httpapi

import (
	"errors"
	"net/http"

	"tamacloud/internal/ingest"
	"tamacloud/internal/repository"

	"go.uber.org/zap"
)

// pollLimit 设备单次轮询最多取走的事件数
const pollLimit = 10

// EventHandler 设备事件箱 Handler
type EventHandler struct {
	events repository.EventRepo
	logger *zap.Logger
}

// NewEventHandler 创建事件箱 Handler
func NewEventHandler(events repository.EventRepo, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// PollEvents 设备拉取未确认事件（最新优先，最多 10 条）
func (h *EventHandler) PollEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)

	events, err := h.events.Unsent(r.Context(), deviceID, pollLimit)
	if err != nil {
		h.logger.Error("Failed to poll events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to poll events"))
		return
	}

	items := make([]map[string]any, 0, len(events))
	for _, e := range events {
		items = append(items, e.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"events": items,
		"count":  len(items),
	}))
}

// AckEvent 设备确认事件已送达；重复确认幂等成功，未知 ID 返回 404
func (h *EventHandler) AckEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventID *int64 `json:"event_id"`
	}
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil || body.EventID == nil {
		writeJSON(w, http.StatusBadRequest, Fail("event_id is required"))
		return
	}

	if err := h.events.MarkSent(r.Context(), *body.EventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("event not found"))
			return
		}
		h.logger.Error("Failed to ack event", zap.Int64("event_id", *body.EventID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to ack event"))
		return
	}

	writeJSON(w, http.StatusOK, OkMsg("event acknowledged", map[string]any{
		"event_id": *body.EventID,
	}))
}

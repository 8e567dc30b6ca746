package httpapi

import (
	"errors"
	"net/http"
	"time"

	"tamacloud/internal/display"
	"tamacloud/internal/domain"
	"tamacloud/internal/engine"
	"tamacloud/internal/ingest"

	"go.uber.org/zap"
)

// DisplayHandler OLED 显示投影 Handler
type DisplayHandler struct {
	projector *display.Projector
	engine    *engine.Engine
	hub       Publisher
	logger    *zap.Logger
}

// NewDisplayHandler 创建显示 Handler
func NewDisplayHandler(projector *display.Projector, eng *engine.Engine, hub Publisher, logger *zap.Logger) *DisplayHandler {
	return &DisplayHandler{projector: projector, engine: eng, hub: hub, logger: logger}
}

type displayBody struct {
	DeviceID      string `json:"device_id"`
	AnimationID   *int   `json:"animation_id"`
	AnimationType string `json:"animation_type"`
	Menu          string `json:"menu"`

	ShowHomeIcon *bool `json:"show_home_icon"`
	ShowFoodIcon *bool `json:"show_food_icon"`
	ShowPoopIcon *bool `json:"show_poop_icon"`
}

func (h *DisplayHandler) readBody(w http.ResponseWriter, r *http.Request) (displayBody, bool) {
	var body displayBody
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return body, false
	}
	body.DeviceID = deviceIDOr(body.DeviceID, ingest.DefaultDeviceID)
	return body, true
}

// Get 设备轮询当前显示内容；永远渲染出一个描述符
func (h *DisplayHandler) Get(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)

	desc, err := h.projector.Project(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to project display", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to project display"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(desc))
}

// Set Web 端手动指定动画（0-3）
func (h *DisplayHandler) Set(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if body.AnimationID == nil {
		writeJSON(w, http.StatusBadRequest, Fail("animation_id is required"))
		return
	}
	animationType := body.AnimationType
	if animationType == "" {
		animationType = "pet"
	}

	ov, err := h.projector.SetOverride(r.Context(), body.DeviceID, *body.AnimationID, animationType)
	if err != nil {
		if errors.Is(err, display.ErrInvalidAnimation) {
			writeJSON(w, http.StatusBadRequest, Fail("invalid animation_id, must be 0-3"))
			return
		}
		h.logger.Error("Failed to set display override", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to set display"))
		return
	}

	h.publishDisplayChanged(body.DeviceID, ov)
	writeJSON(w, http.StatusOK, OkMsg("display set to "+ov.AnimationName, map[string]any{
		"animation_id":   ov.AnimationID,
		"animation_name": ov.AnimationName,
		"animation_type": ov.AnimationType,
	}))
}

// Reset 清除手动覆盖，回到自动投影
func (h *DisplayHandler) Reset(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	if err := h.projector.ClearOverride(r.Context(), body.DeviceID); err != nil {
		h.logger.Error("Failed to reset display", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to reset display"))
		return
	}

	if h.hub != nil {
		h.hub.Publish("display_changed", body.DeviceID, map[string]any{
			"mode": domain.DisplayModeAutomatic,
		})
	}
	writeJSON(w, http.StatusOK, OkMsg("display reset to automatic mode", map[string]any{
		"mode": domain.DisplayModeAutomatic,
	}))
}

// MenuSwitch 设备端菜单切换（MAIN/FOOD_MENU/TOILET_MENU）
func (h *DisplayHandler) MenuSwitch(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	switch body.Menu {
	case domain.MenuMain, domain.MenuFood, domain.MenuToilet:
	default:
		writeJSON(w, http.StatusBadRequest, Fail("menu must be one of MAIN/FOOD_MENU/TOILET_MENU"))
		return
	}

	st, err := h.engine.SwitchMenu(r.Context(), body.DeviceID, body.Menu)
	if err != nil {
		if errors.Is(err, engine.ErrConflict) {
			writeJSON(w, http.StatusConflict, Fail("pet state busy, try again"))
			return
		}
		h.logger.Error("Failed to switch menu", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to switch menu"))
		return
	}

	if h.hub != nil {
		h.hub.Publish("menu_changed", body.DeviceID, map[string]any{
			"menu": st.CurrentMenu,
		})
	}
	writeJSON(w, http.StatusOK, OkMsg("menu switched to "+st.CurrentMenu, map[string]any{
		"current_menu": st.CurrentMenu,
	}))
}

// HomeIconToggle 主页图标开关
func (h *DisplayHandler) HomeIconToggle(w http.ResponseWriter, r *http.Request) {
	h.toggleIcon(w, r, "home")
}

// FoodIconToggle 食物图标开关（饥饿提示）
func (h *DisplayHandler) FoodIconToggle(w http.ResponseWriter, r *http.Request) {
	h.toggleIcon(w, r, "food")
}

// PoopIconToggle 便便图标开关
func (h *DisplayHandler) PoopIconToggle(w http.ResponseWriter, r *http.Request) {
	h.toggleIcon(w, r, "poop")
}

func (h *DisplayHandler) toggleIcon(w http.ResponseWriter, r *http.Request, icon string) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var show bool
	switch icon {
	case "home":
		show = body.ShowHomeIcon != nil && *body.ShowHomeIcon
	case "food":
		show = body.ShowFoodIcon != nil && *body.ShowFoodIcon
	case "poop":
		show = body.ShowPoopIcon != nil && *body.ShowPoopIcon
	}

	ov, err := h.projector.ToggleIcon(r.Context(), body.DeviceID, icon, show)
	if err != nil {
		h.logger.Error("Failed to toggle icon", zap.String("icon", icon), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to toggle icon"))
		return
	}

	h.publishDisplayChanged(body.DeviceID, ov)
	state := "disabled"
	if show {
		state = "enabled"
	}
	writeJSON(w, http.StatusOK, OkMsg(icon+" icon "+state, map[string]any{
		"show_home_icon": ov.ShowHomeIcon,
		"show_food_icon": ov.ShowFoodIcon,
		"show_poop_icon": ov.ShowPoopIcon,
	}))
}

// StartupComplete 设备上电完成：宠物重置为初始幼体并锁定开机画面 5 秒
func (h *DisplayHandler) StartupComplete(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	desc, err := h.projector.StartupComplete(r.Context(), body.DeviceID)
	if err != nil {
		h.logger.Error("Failed to handle startup-complete", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to handle startup"))
		return
	}

	if h.hub != nil {
		h.hub.Publish("display_changed", body.DeviceID, map[string]any{
			"mode":      domain.DisplayModeStartupReset,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, OkMsg("startup acknowledged, pet reset", desc))
}

func (h *DisplayHandler) publishDisplayChanged(deviceID string, ov *domain.DisplayOverride) {
	if h.hub == nil {
		return
	}
	h.hub.Publish("display_changed", deviceID, map[string]any{
		"mode":           domain.DisplayModeManual,
		"animation_id":   ov.AnimationID,
		"animation_name": ov.AnimationName,
		"show_home_icon": ov.ShowHomeIcon,
		"show_food_icon": ov.ShowFoodIcon,
		"show_poop_icon": ov.ShowPoopIcon,
	})
}

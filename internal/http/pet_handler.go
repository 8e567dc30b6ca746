package httpapi

import (
	"errors"
	"net/http"

	"tamacloud/internal/domain"
	"tamacloud/internal/engine"
	"tamacloud/internal/ingest"

	"go.uber.org/zap"
)

// PetHandler 宠物动作 Handler
type PetHandler struct {
	engine *engine.Engine
	hub    Publisher
	logger *zap.Logger
}

// NewPetHandler 创建宠物动作 Handler
func NewPetHandler(eng *engine.Engine, hub Publisher, logger *zap.Logger) *PetHandler {
	return &PetHandler{engine: eng, hub: hub, logger: logger}
}

type petActionBody struct {
	DeviceID string `json:"device_id"`
	Result   string `json:"result,omitempty"`
	Menu     string `json:"menu,omitempty"`
}

func (h *PetHandler) readBody(w http.ResponseWriter, r *http.Request) (petActionBody, bool) {
	var body petActionBody
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return body, false
	}
	body.DeviceID = deviceIDOr(body.DeviceID, ingest.DefaultDeviceID)
	return body, true
}

func (h *PetHandler) writeActionErr(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, engine.ErrConflict) {
		writeJSON(w, http.StatusConflict, Fail("pet state busy, try again"))
		return
	}
	h.logger.Error("Pet action failed", zap.String("action", action), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, Fail("pet action failed"))
}

// Feed 投喂：饥饿 -40，消化 30 分钟后到期
func (h *PetHandler) Feed(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	st, err := h.engine.Feed(r.Context(), body.DeviceID)
	if err != nil {
		h.writeActionErr(w, "feed", err)
		return
	}
	writeJSON(w, http.StatusOK, OkMsg("pet fed", st.ToJSON()))
}

// Clean 清理便便：无便便时为空操作
func (h *PetHandler) Clean(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	st, acted, err := h.engine.Clean(r.Context(), body.DeviceID)
	if err != nil {
		h.writeActionErr(w, "clean", err)
		return
	}
	msg := "nothing to clean"
	if acted {
		msg = "cleaned up"
	}
	writeJSON(w, http.StatusOK, OkMsg(msg, map[string]any{
		"cleaned":   acted,
		"pet_state": st.ToJSON(),
	}))
}

// Inject 打针：健康 ≥80 时为空操作，否则 +20
func (h *PetHandler) Inject(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	st, acted, err := h.engine.Inject(r.Context(), body.DeviceID)
	if err != nil {
		h.writeActionErr(w, "inject", err)
		return
	}
	msg := "pet is healthy enough"
	if acted {
		msg = "injection given"
	}
	writeJSON(w, http.StatusOK, OkMsg(msg, map[string]any{
		"injected":  acted,
		"pet_state": st.ToJSON(),
	}))
}

// PlayResult 小游戏结果上报：WIN 快乐 +20 / LOSE -10
func (h *PetHandler) PlayResult(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	st, err := h.engine.PlayResult(r.Context(), body.DeviceID, body.Result)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidPlayResult) {
			writeJSON(w, http.StatusBadRequest, Fail("result must be WIN or LOSE"))
			return
		}
		h.writeActionErr(w, "play-result", err)
		return
	}
	writeJSON(w, http.StatusOK, OkMsg("play result recorded", st.ToJSON()))
}

// SwitchMenu 宠物交互菜单切换（MAIN/HEALTH/CLEAN/FEED/PLAY）
func (h *PetHandler) SwitchMenu(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	switch body.Menu {
	case domain.MenuMain, domain.MenuHealth, domain.MenuClean, domain.MenuFeed, domain.MenuPlay:
	default:
		writeJSON(w, http.StatusBadRequest, Fail("menu must be one of MAIN/HEALTH/CLEAN/FEED/PLAY"))
		return
	}

	st, err := h.engine.SwitchMenu(r.Context(), body.DeviceID, body.Menu)
	if err != nil {
		h.writeActionErr(w, "menu", err)
		return
	}

	if h.hub != nil {
		h.hub.Publish("menu_changed", body.DeviceID, map[string]any{
			"menu": st.CurrentMenu,
		})
	}
	writeJSON(w, http.StatusOK, OkMsg("menu switched", st.ToJSON()))
}

// State 宠物状态快照（没有则按默认值创建）
func (h *PetHandler) State(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDOr(r.URL.Query().Get("device_id"), ingest.DefaultDeviceID)

	st, err := h.engine.GetOrCreate(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to load pet state", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load pet state"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(st.ToJSON()))
}

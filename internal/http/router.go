package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 pprof 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSensorRoutes 注册遥测上报与数据面板路由
func (r *Router) RegisterSensorRoutes(h *SensorHandler) {
	r.Handle("/api/sensor-data", methodOnly(http.MethodPost, h.ReceiveSensorData))
	r.Handle("/api/orientation-data", methodOnly(http.MethodPost, h.ReceiveOrientationData))
	r.Handle("/upload", methodOnly(http.MethodPost, h.UploadImage))

	r.Handle("/api/latest", methodOnly(http.MethodGet, h.LatestData))
	r.Handle("/api/latest-image", methodOnly(http.MethodGet, h.LatestImage))
	r.Handle("/api/stats", methodOnly(http.MethodGet, h.Stats))
	r.Handle("/api/export", methodOnly(http.MethodGet, h.ExportJSON))
	r.Handle("/api/export/xlsx", methodOnly(http.MethodGet, h.ExportXLSX))
	r.Handle("/api/clear", methodOnly(http.MethodPost, h.ClearData))

	// /api/image/{id}
	r.Handle("/api/image/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(req.URL.Path, "/api/image/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.ImageByID(w, req, id)
	})

	r.Handle("/api/step-counter/get", methodOnly(http.MethodGet, h.StepCounterGet))
	r.Handle("/api/step-counter/reset", methodOnly(http.MethodPost, h.StepCounterReset))
	r.Handle("/api/step-counter/stats", methodOnly(http.MethodGet, h.StepCounterStats))
}

// RegisterEventRoutes 注册设备事件箱路由
func (r *Router) RegisterEventRoutes(h *EventHandler) {
	r.Handle("/api/events", methodOnly(http.MethodGet, h.PollEvents))
	r.Handle("/api/device/event/received", methodOnly(http.MethodPost, h.AckEvent))
}

// RegisterPetRoutes 注册宠物动作路由
func (r *Router) RegisterPetRoutes(h *PetHandler) {
	r.Handle("/api/pet/feed", methodOnly(http.MethodPost, h.Feed))
	r.Handle("/api/pet/clean", methodOnly(http.MethodPost, h.Clean))
	r.Handle("/api/pet/inject", methodOnly(http.MethodPost, h.Inject))
	r.Handle("/api/pet/play-result", methodOnly(http.MethodPost, h.PlayResult))
	r.Handle("/api/pet/menu", methodOnly(http.MethodPost, h.SwitchMenu))
	r.Handle("/api/pet/state", methodOnly(http.MethodGet, h.State))
}

// RegisterDisplayRoutes 注册 OLED 显示路由
func (r *Router) RegisterDisplayRoutes(h *DisplayHandler) {
	r.Handle("/api/oled-display/get", methodOnly(http.MethodGet, h.Get))
	r.Handle("/api/oled-display/set", methodOnly(http.MethodPost, h.Set))
	r.Handle("/api/oled-display/reset", methodOnly(http.MethodPost, h.Reset))
	r.Handle("/api/oled-display/menu-switch", methodOnly(http.MethodPost, h.MenuSwitch))
	r.Handle("/api/oled-display/home-icon-toggle", methodOnly(http.MethodPost, h.HomeIconToggle))
	r.Handle("/api/oled-display/food-icon-toggle", methodOnly(http.MethodPost, h.FoodIconToggle))
	r.Handle("/api/oled-display/poop-icon-toggle", methodOnly(http.MethodPost, h.PoopIconToggle))
	r.Handle("/api/device/startup-complete", methodOnly(http.MethodPost, h.StartupComplete))
}

// RegisterHealthRoute 健康检查
func (r *Router) RegisterHealthRoute(h http.HandlerFunc) {
	r.Handle("/api/health", methodOnly(http.MethodGet, h))
}

// RegisterWSRoute WebSocket 接入点
func (r *Router) RegisterWSRoute(h http.HandlerFunc) {
	r.Handle("/ws", h)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

package httpapi

import (
	"net/http"
	"time"
)

// HealthHandler 健康检查；dbAvailable 为 nil 时视为内存模式
func HealthHandler(dbAvailable func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		database := false
		if dbAvailable != nil {
			database = dbAvailable()
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"status":    "healthy",
			"database":  database,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}))
	}
}

package api

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rvhonorato/orchestrator/internal/db"
)

// healthResponse mirrors what operators expect from GET /health.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthHandler answers liveness and readiness probes for both processes.
type HealthHandler struct {
	database *gorm.DB
	logger   *zap.Logger
}

// NewHealthHandler creates a HealthHandler over the metadata store.
func NewHealthHandler(database *gorm.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		database: database,
		logger:   logger.Named("health_handler"),
	}
}

// Health handles GET /health: 200 when the metadata store responds, 503
// otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), h.database); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		Err(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"})
}

// Ping handles GET /: a plain liveness answer.
func (h *HealthHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

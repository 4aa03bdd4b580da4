package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/config"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

// OrchestratorRouterConfig holds the dependencies of the orchestrator surface.
type OrchestratorRouterConfig struct {
	Jobs   repositories.JobRepository
	Store  *artifact.Store
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewOrchestratorRouter builds the Chi router for the orchestrator process.
func NewOrchestratorRouter(cfg OrchestratorRouterConfig) http.Handler {
	r := newBaseRouter(cfg.Logger)

	orchestrator := NewOrchestratorHandler(cfg.Jobs, cfg.Store, cfg.Config, cfg.Logger)
	health := NewHealthHandler(cfg.DB, cfg.Logger)

	r.Get("/", health.Ping)
	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/upload", orchestrator.Upload)
	r.Get("/download/{id}", orchestrator.Download)

	return r
}

// ClientRouterConfig holds the dependencies of the client surface.
type ClientRouterConfig struct {
	Payloads repositories.PayloadRepository
	Store    *artifact.Store
	DB       *gorm.DB
	Logger   *zap.Logger
}

// NewClientRouter builds the Chi router for the client process.
func NewClientRouter(cfg ClientRouterConfig) http.Handler {
	r := newBaseRouter(cfg.Logger)

	client := NewClientHandler(cfg.Payloads, cfg.Store, cfg.Logger)
	health := NewHealthHandler(cfg.DB, cfg.Logger)

	r.Get("/", health.Ping)
	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/submit", client.Submit)
	r.Get("/retrieve/{id}", client.Retrieve)

	return r
}

// newBaseRouter applies the middleware stack shared by both surfaces.
func newBaseRouter(logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	return r
}

// handler.go — основной обработчик API Build Share.
// Объединяет health и обработчики сборок, регистрирует маршруты chi.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
	"github.com/bigkaa/goartstore/build-share/internal/links"
	"github.com/bigkaa/goartstore/build-share/internal/service"
)

// BuildStore — операции со сборками, нужные HTTP-слою.
// Реализуется service.BuildService.
type BuildStore interface {
	Create(ctx context.Context, in model.CreateInput) (*service.BuildResult, error)
	Update(ctx context.Context, code string, in model.UpdateInput) (*service.BuildResult, error)
	Delete(ctx context.Context, code string) error
	Retrieve(ctx context.Context, code string) (*model.BuildRecord, error)
	Exists(ctx context.Context, code string) error
	GenerateFile(ctx context.Context, code string) (*service.BuildFile, error)
	Image(ctx context.Context, code string) (*service.BuildImage, error)
	Search(ctx context.Context, criteria string) ([]*model.BuildRecord, error)
	Links(code string) links.Links
}

// APIHandler — основной обработчик API Build Share.
type APIHandler struct {
	health       *HealthHandler
	builds       BuildStore
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxBodyBytes — предел тела запросов create/update.
func NewAPIHandler(
	health *HealthHandler,
	builds BuildStore,
	maxBodyBytes int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:       health,
		builds:       builds,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// Register регистрирует все маршруты API на роутере.
func (h *APIHandler) Register(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1/builds", func(r chi.Router) {
		r.Post("/", h.CreateBuild)
		r.Get("/", h.SearchBuilds)

		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.GetBuild)
			r.Head("/", h.HeadBuild)
			r.Patch("/", h.UpdateBuild)
			r.Delete("/", h.DeleteBuild)
			r.Get("/download", h.DownloadBuild)
			r.Get("/image", h.GetBuildImage)
		})
	})
}

// Routes возвращает роутер со всеми маршрутами API.
func (h *APIHandler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/imagelab-api/internal/api/middleware"
	"github.com/rs/cors"
)

// RouterConfig carries the handlers and cross-cutting settings of the router.
type RouterConfig struct {
	Images             *ImageHandler
	Analyses           *AnalysisHandler
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(cfg.Logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{apiMiddleware.TraceIDHeader},
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/images", cfg.Images.UploadImage)
		r.Get("/images/{key}", cfg.Images.GetImage)
		r.Post("/images/{key}/analyses", cfg.Analyses.StartAnalysis)

		r.Get("/analyses", cfg.Analyses.ListAnalyses)
		r.Get("/analyses/{id}", cfg.Analyses.GetAnalysis)
		r.Get("/analyzers", cfg.Analyses.ListAnalyzers)
	})

	r.Get("/health", Health)

	return r
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter wires the HTTP surface: health, the generation endpoints behind
// auth and rate limiting, and static serving of stored artifacts.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, artifactDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
			middleware.AuthJWT(cfg.JWTSecret),
		)
		r.Post("/v1/videos/generate", app.VideosGenerate)
		r.Get("/v1/videos/status", app.VideoStatus)
	})

	if artifactDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(artifactDir))))
	}

	return r
}

// Package httpapi assembles the chi router.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"acestudio/internal/http/handlers"
	"acestudio/internal/middleware"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Logger         zerolog.Logger

	// CreateLimit caps generation submissions per client IP per minute.
	// Zero disables the limiter.
	CreateLimit int
}

// NewRouter wires the full API surface.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/health", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", app.ConfigGet)
		r.Put("/config", app.ConfigUpdate)

		r.Route("/generations", func(r chi.Router) {
			if opts.CreateLimit > 0 {
				r.With(middleware.RateLimit(opts.CreateLimit, time.Minute)).Post("/", app.GenerationCreate)
			} else {
				r.Post("/", app.GenerationCreate)
			}
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GenerationGet)
				r.Put("/", app.GenerationUpdate)
				r.Delete("/", app.GenerationDelete)
				r.Get("/audio", app.AudioDownload)
				r.Get("/cover", app.CoverGet)
				r.Post("/cover", app.CoverUpload)
				r.Delete("/cover", app.CoverDelete)
				r.Post("/cover/regenerate", app.CoverRegenerate)
			})
		})

		r.Get("/history", app.History)

		r.Route("/llm", func(r chi.Router) {
			r.Post("/{task}", app.LLMRun)
			r.Get("/models", app.LLMModels)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", app.ModelsList)
			r.Post("/{id}/download", app.ModelDownload)
		})

		r.Post("/uploads/{kind}", app.Upload)
	})

	return r
}

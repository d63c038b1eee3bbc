package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/documind/internal/api/handlers"
	"github.com/nikhilbhutani/documind/internal/api/middleware"
	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/rag"
)

// Deps are the process-wide services the HTTP layer serves. They are
// built once in main.
type Deps struct {
	Files    handlers.FileService
	Pipeline rag.Pipeline
	Gateway  llm.Gateway
	Checks   map[string]handlers.Checker
}

type Router struct {
	mux     *chi.Mux
	cfg     config.ServerConfig
	deps    Deps
	limiter *middleware.RateLimiter
}

func NewRouter(cfg config.ServerConfig, deps Deps) *Router {
	return &Router{
		mux:     chi.NewRouter(),
		cfg:     cfg,
		deps:    deps,
		limiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
}

// Limiter exposes the rate limiter so main can run its cleanup loop.
func (rt *Router) Limiter() *middleware.RateLimiter {
	return rt.limiter
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.CORSOrigins))
	if rt.cfg.RateLimitRPS > 0 {
		r.Use(rt.limiter.Limit)
	}

	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/", health.Home)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		filesH := handlers.NewFileHandler(rt.deps.Files, rt.cfg.MaxUploadBytes)
		r.Post("/upload", filesH.Upload)
		r.Post("/upload/url", filesH.UploadURL)
		r.Route("/files", func(r chi.Router) {
			r.Get("/", filesH.List)
			r.Delete("/", filesH.DeleteByName)
			r.Delete("/{id}", filesH.Delete)
			r.Post("/reconcile", filesH.Reconcile)
		})

		queryH := handlers.NewQueryHandler(rt.deps.Pipeline)
		r.Post("/query", queryH.Query)
		r.Post("/search", queryH.Search)

		if rt.deps.Gateway != nil {
			modelsH := handlers.NewModelsHandler(rt.deps.Gateway)
			r.Get("/models", modelsH.List)
		}
	})

	return r
}

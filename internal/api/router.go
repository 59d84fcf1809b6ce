package api

import (
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daap14/bookcars/internal/api/handler"
	"github.com/daap14/bookcars/internal/api/middleware"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Status      handler.StatusChecker
	DBPinger    handler.DBPinger
	Version     string
	Gatherer    prometheus.Gatherer
	OpenAPISpec []byte
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	healthHandler := handler.NewHealthHandler(deps.Status, deps.DBPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	readyHandler := handler.NewReadyHandler(deps.Status)
	r.Get("/ready", readyHandler.ServeHTTP)

	if deps.Gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	return r
}

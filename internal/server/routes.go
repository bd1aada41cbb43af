package server

import (
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"searchproxy/internal/cache"
	"searchproxy/internal/cors"
	"searchproxy/internal/handlers"
	"searchproxy/internal/logging"
	"searchproxy/internal/metrics"
	"searchproxy/internal/upstream"
)

// RegisterRoutes registers all application routes.
func (s *Server) RegisterRoutes(dispatcher *upstream.Dispatcher, gate *cache.Gate, reqLog *logging.RequestLogger) {
	metrics.Init()

	searchHandler := handlers.NewSearchHandler(dispatcher, gate, reqLog, s.Log)
	eventsHandler := handlers.NewEventsHandler(dispatcher, reqLog, s.Log)

	// CORS preflight short-circuits every path, no upstream call.
	s.App.Options("/*", cors.Preflight)

	// Search proxy: GET carries the query in the URL, POST bodies are
	// validated and may be cached.
	s.App.Get("/1/indexes/:index/queries", searchHandler.Queries)
	s.App.Post("/1/indexes/:index/queries", searchHandler.Queries)

	// Analytics proxy: single fixed host, never cached.
	s.App.Post("/1/events", eventsHandler.Events)

	// Operational endpoints.
	s.App.Get("/healthz", handlers.Healthz)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

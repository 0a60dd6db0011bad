package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /models", h.Models)
	mux.HandleFunc("POST /generations", h.CreateGeneration)
	mux.HandleFunc("GET /generations", h.ListGenerations)
	mux.HandleFunc("GET /generations/{id}", h.GetGeneration)
	mux.HandleFunc("DELETE /generations/{id}", h.CancelGeneration)
	mux.HandleFunc("GET /generations/{id}/events", h.Events)
	mux.HandleFunc("GET /media", h.ListMedia)
	mux.HandleFunc("DELETE /media/{id}", h.DeleteMedia)

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}

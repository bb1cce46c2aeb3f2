package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check, info and metrics.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/info", s.handleInfo)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Object store.
	mux.HandleFunc("POST /v1/files", s.handleUploadFile)
	mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	mux.HandleFunc("GET /v1/files/{id}/content", s.handleGetFileContent)

	// Message log.
	mux.HandleFunc("POST /v1/messages", s.handleCreateMessage)
	mux.HandleFunc("GET /v1/messages", s.handleListMessages)
	mux.HandleFunc("POST /v1/messages/retain", s.handleRetainMessages)

	// Saved messages.
	mux.HandleFunc("POST /v1/saved", s.handleSaveMessage)
	mux.HandleFunc("GET /v1/saved", s.handleListSaved)
	mux.HandleFunc("DELETE /v1/saved/{id}", s.handleDeleteSaved)

	// Collaborators.
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("POST /v1/notify", s.handleNotify)

	// Admin.
	mux.HandleFunc("POST /v1/admin/gc-orphans", s.handleSweepOrphans)

	// Live events.
	mux.Handle("GET /v1/events", s.events)

	return mux
}

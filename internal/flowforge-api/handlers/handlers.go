// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers exposes the FlowForge control plane over HTTP.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowforge/flowforge/internal/flowforge-api/services"
	"github.com/flowforge/flowforge/internal/logs"
	"github.com/flowforge/flowforge/internal/server/middleware"
)

// Handler holds the services and provides HTTP handlers
type Handler struct {
	services *services.Services
	streamer *logs.Streamer
	logger   *slog.Logger
}

// New creates a new Handler instance
func New(services *services.Services, streamer *logs.Streamer, logger *slog.Logger) *Handler {
	return &Handler{
		services: services,
		streamer: streamer,
		logger:   logger,
	}
}

// Routes sets up all HTTP routes and returns the configured handler
func (h *Handler) Routes(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	v1 := "/api/v1"

	// Global middlewares - applies to all routes
	routes := middleware.NewRouteBuilder(mux).With(
		middleware.Logger(h.logger),
		middleware.Metrics(),
	)

	// Health & metrics
	routes.HandleFunc("GET /healthz", h.Health)
	routes.Handle("GET /metrics", promhttp.Handler())

	// Task management
	routes.HandleFunc("POST "+v1+"/tasks", h.SubmitTask)
	routes.HandleFunc("GET "+v1+"/tasks", h.ListTasks)
	routes.HandleFunc("GET "+v1+"/tasks/{taskID}", h.GetTask)
	routes.HandleFunc("POST "+v1+"/tasks/{taskID}/runs", h.RunTask)
	routes.HandleFunc("GET "+v1+"/tasks/{taskID}/logs", h.TaskLogs)
	routes.HandleFunc("POST "+v1+"/tasks/{taskID}/cancel", h.CancelTask)
	routes.HandleFunc("DELETE "+v1+"/tasks/{taskID}", h.DeleteTask)

	// Websocket log stream
	routes.HandleFunc("GET "+v1+"/ws/tasks/{taskID}/logs", h.StreamTaskLogs)

	// Flow management
	routes.HandleFunc("POST "+v1+"/flows", h.CreateFlow)
	routes.HandleFunc("GET "+v1+"/flows", h.ListFlows)
	routes.HandleFunc("POST "+v1+"/flows/preview-manifest", h.PreviewFlowManifest)
	routes.HandleFunc("GET "+v1+"/flows/{flowID}", h.GetFlow)
	routes.HandleFunc("PUT "+v1+"/flows/{flowID}", h.UpdateFlow)
	routes.HandleFunc("DELETE "+v1+"/flows/{flowID}", h.DeleteFlow)
	routes.HandleFunc("POST "+v1+"/flows/{flowID}/runs", h.RunFlow)
	routes.HandleFunc("GET "+v1+"/flows/{flowID}/runs", h.ListFlowRuns)
	routes.HandleFunc("GET "+v1+"/flows/{flowID}/runs/{runID}", h.GetFlowRun)
	routes.HandleFunc("GET "+v1+"/flows/{flowID}/runs/{runID}/logs", h.FlowRunLogs)
	routes.HandleFunc("GET "+v1+"/flows/{flowID}/runs/{runID}/manifest", h.FlowRunManifest)
	routes.HandleFunc("POST "+v1+"/flows/{flowID}/steps/{stepID}/run", h.RunFlowStep)

	// Results volume files
	routes.HandleFunc("GET "+v1+"/files", h.ListFiles)
	routes.HandleFunc("GET "+v1+"/files/content", h.ReadFile)
	routes.HandleFunc("GET "+v1+"/files/preview", h.PreviewFile)
	routes.HandleFunc("POST "+v1+"/files/copy", h.CopyFile)
	routes.HandleFunc("POST "+v1+"/files/upload", h.UploadFile)

	// CORS wraps the mux itself: preflight OPTIONS requests match none of
	// the method-scoped patterns above and must be answered before routing.
	return middleware.CORS(corsOrigins)(mux)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeSuccessResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

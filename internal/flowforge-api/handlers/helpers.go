// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/flowforge-api/services"
	"github.com/flowforge/flowforge/internal/kube"
	"github.com/flowforge/flowforge/internal/volume"
	"github.com/flowforge/flowforge/internal/workflow"
)

// writeSuccessResponse writes a successful API response
func writeSuccessResponse[T any](w http.ResponseWriter, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := models.SuccessResponse(data)
	_ = json.NewEncoder(w).Encode(response) // Ignore encoding errors for response
}

// writeErrorResponse writes an error API response
func writeErrorResponse(w http.ResponseWriter, statusCode int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := models.ErrorResponse(message, code)
	_ = json.NewEncoder(w).Encode(response) // Ignore encoding errors for response
}

// writeListResponse writes a list response
func writeListResponse[T any](w http.ResponseWriter, items []T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := models.ListSuccessResponse(items, len(items))
	_ = json.NewEncoder(w).Encode(response) // Ignore encoding errors for response
}

// decodeJSONBody parses the request body into target, responding with a
// 400 on malformed input. The boolean reports whether decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", services.CodeInvalidInput)
		return false
	}
	return true
}

// writeServiceError maps service-layer errors onto HTTP statuses and
// response codes. Unrecognized errors become a 500 with a generic message.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), services.CodeTaskNotFound)
	case errors.Is(err, services.ErrFlowNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), services.CodeFlowNotFound)
	case errors.Is(err, services.ErrRunNotFound), errors.Is(err, services.ErrFlowRunNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), services.CodeRunNotFound)
	case errors.Is(err, services.ErrRunConflict):
		writeErrorResponse(w, http.StatusConflict, err.Error(), services.CodeRunConflict)
	case errors.Is(err, workflow.ErrCyclicFlow):
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeCyclicFlow)
	case errors.Is(err, services.ErrInvalidInput):
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
	case errors.Is(err, kube.ErrPVCNotReady):
		writeErrorResponse(w, http.StatusConflict, err.Error(), services.CodePVCNotReady)
	case errors.Is(err, volume.ErrPathOutsideMount):
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodePathOutsideMount)
	case errors.Is(err, volume.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error(), services.CodeFileNotFound)
	default:
		logger.Error("Request failed", "error", err, "action", action)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to "+action, services.CodeInternalError)
	}
}

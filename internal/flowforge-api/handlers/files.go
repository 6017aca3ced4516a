// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/flowforge-api/services"
	"github.com/flowforge/flowforge/internal/volume"
	"github.com/flowforge/flowforge/internal/workflow"
)

// maxUploadBytes caps multipart uploads held in memory.
const maxUploadBytes = 64 << 20

// ListFiles handles GET /api/v1/files?path=
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.services.FileService.ListFiles(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeServiceError(w, h.logger, err, "list files")
		return
	}
	writeListResponse(w, entries)
}

// ReadFile handles GET /api/v1/files/content?path=
func (h *Handler) ReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErrorResponse(w, http.StatusBadRequest, "path is required", services.CodeInvalidInput)
		return
	}
	content, err := h.services.FileService.ReadFile(r.Context(), path)
	if err != nil {
		writeServiceError(w, h.logger, err, "read file")
		return
	}
	writeSuccessResponse(w, http.StatusOK, content)
}

// PreviewFile handles GET /api/v1/files/preview?path=
// Image files are served as binary with their MIME type; everything else
// comes back as the JSON content envelope.
func (h *Handler) PreviewFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErrorResponse(w, http.StatusBadRequest, "path is required", services.CodeInvalidInput)
		return
	}

	content, err := h.services.FileService.PreviewFile(r.Context(), path)
	if err != nil {
		writeServiceError(w, h.logger, err, "preview file")
		return
	}

	if contentType, ok := volume.ImageContentType(path); ok && content.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(content.Content)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "corrupt image content", services.CodeInternalError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(raw)
		return
	}
	writeSuccessResponse(w, http.StatusOK, content)
}

// CopyFile handles POST /api/v1/files/copy
func (h *Handler) CopyFile(w http.ResponseWriter, r *http.Request) {
	var req models.CopyFileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
		return
	}

	resp, err := h.services.FileService.CopyFile(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "copy file")
		return
	}
	writeSuccessResponse(w, http.StatusOK, resp)
}

// UploadFile handles POST /api/v1/files/upload (multipart form with a
// "file" part and a "path" field naming the target directory).
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid multipart form", services.CodeInvalidInput)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "file part is required", services.CodeInvalidInput)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "failed to read upload", services.CodeInvalidInput)
		return
	}

	dirPath := r.FormValue("path")
	if dirPath == "" {
		dirPath = workflow.ResultsMountPath
	}

	result, err := h.services.FileService.UploadFile(r.Context(), dirPath, header.Filename, content)
	if err != nil {
		writeServiceError(w, h.logger, err, "upload file")
		return
	}
	writeSuccessResponse(w, http.StatusCreated, result)
}

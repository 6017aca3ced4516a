// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"log/slog"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/volume"
	"github.com/flowforge/flowforge/internal/workflow"
)

// FileService handles results-volume file operations through the helper
// pod.
type FileService struct {
	volumes *volume.Manager
	logger  *slog.Logger
}

// NewFileService creates a new file service
func NewFileService(volumes *volume.Manager, logger *slog.Logger) *FileService {
	return &FileService{volumes: volumes, logger: logger}
}

// ListFiles lists a directory on the results volume. An empty path means
// the mount root.
func (s *FileService) ListFiles(ctx context.Context, path string) ([]volume.Entry, error) {
	if path == "" {
		path = workflow.ResultsMountPath
	}
	return s.volumes.List(ctx, path)
}

// ReadFile returns a file's content.
func (s *FileService) ReadFile(ctx context.Context, path string) (*volume.FileContent, error) {
	return s.volumes.Read(ctx, path)
}

// PreviewFile returns file content for display, base64 for images.
func (s *FileService) PreviewFile(ctx context.Context, path string) (*volume.FileContent, error) {
	return s.volumes.Preview(ctx, path)
}

// CopyFile duplicates a file within the results volume.
func (s *FileService) CopyFile(ctx context.Context, req *models.CopyFileRequest) (*models.CopyFileResponse, error) {
	if err := s.volumes.Copy(ctx, req.SourcePath, req.DestinationPath); err != nil {
		return nil, err
	}
	s.logger.Info("File copied",
		"source", req.SourcePath,
		"destination", req.DestinationPath)
	return &models.CopyFileResponse{
		Source:      req.SourcePath,
		Destination: req.DestinationPath,
	}, nil
}

// UploadFile stores uploaded content on the results volume.
func (s *FileService) UploadFile(ctx context.Context, dirPath, filename string, content []byte) (*volume.UploadResult, error) {
	result, err := s.volumes.Upload(ctx, dirPath, filename, content)
	if err != nil {
		return nil, err
	}
	s.logger.Info("File uploaded",
		"path", result.Path,
		"size", result.Size)
	return result, nil
}

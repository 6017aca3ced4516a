// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/workflow"
)

var (
	// ErrPathOutsideMount rejects paths that escape the results mount.
	ErrPathOutsideMount = errors.New("path must be within " + workflow.ResultsMountPath)

	// ErrNotFound reports a missing file or directory inside the pod.
	ErrNotFound = errors.New("path not found on volume")
)

// Entry is one directory listing row.
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Date string `json:"date"`
}

// FileContent is the body of a read or preview operation. Encoding is
// "text" or "base64"; MimeType is set to "image" for image previews.
type FileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	MimeType string `json:"mime_type,omitempty"`
}

// UploadResult describes a stored upload.
type UploadResult struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// validListPath accepts the mount root's parent so the file browser can
// show the mount as a folder, plus anything under the mount itself.
func validListPath(p string) bool {
	return p == "/mnt" || strings.HasPrefix(p, workflow.ResultsMountPath)
}

func validFilePath(p string) bool {
	return strings.HasPrefix(p, workflow.ResultsMountPath)
}

// List enumerates a directory on the results volume.
func (m *Manager) List(ctx context.Context, dirPath string) ([]Entry, error) {
	if !validListPath(dirPath) {
		return nil, ErrPathOutsideMount
	}

	output, err := m.execShell(ctx, scriptCommand(listScript(dirPath), "/tmp/script.py"))
	if err != nil {
		return nil, err
	}

	var result struct {
		Error string  `json:"error"`
		Items []Entry `json:"items"`
	}
	if err := parseScriptOutput(output, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, result.Error)
	}
	if result.Items == nil {
		result.Items = []Entry{}
	}
	return result.Items, nil
}

// Read returns a file's content, as text when it decodes as UTF-8 and
// base64 otherwise.
func (m *Manager) Read(ctx context.Context, filePath string) (*FileContent, error) {
	if !validFilePath(filePath) {
		return nil, ErrPathOutsideMount
	}
	return m.runContentScript(ctx, readScript(filePath), "/tmp/script.py")
}

// Preview returns file content for display. Image files come back as
// base64 with an image marker so callers can serve them as binary.
func (m *Manager) Preview(ctx context.Context, filePath string) (*FileContent, error) {
	if !validListPath(filePath) {
		return nil, ErrPathOutsideMount
	}
	script := readScript(filePath)
	if _, ok := ImageContentType(filePath); ok {
		script = previewImageScript(filePath)
	}
	return m.runContentScript(ctx, script, "/tmp/preview_script.py")
}

func (m *Manager) runContentScript(ctx context.Context, script, tmpPath string) (*FileContent, error) {
	output, err := m.execShell(ctx, scriptCommand(script, tmpPath))
	if err != nil {
		return nil, err
	}

	var result struct {
		Error string `json:"error"`
		FileContent
	}
	if err := parseScriptOutput(output, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, result.Error)
	}
	return &result.FileContent, nil
}

// Copy duplicates a file within the results volume, leaving the copy
// world-readable.
func (m *Manager) Copy(ctx context.Context, sourcePath, destPath string) error {
	if !validFilePath(sourcePath) || !validFilePath(destPath) {
		return ErrPathOutsideMount
	}

	command := fmt.Sprintf("cp %s %s && chmod 644 %s",
		shellQuote(sourcePath), shellQuote(destPath), shellQuote(destPath))
	output, err := m.execShell(ctx, command)
	if err != nil {
		return err
	}
	// cp is silent on success; anything mentioning an error came from stderr.
	if output != "" && strings.Contains(strings.ToLower(output), "error") {
		return fmt.Errorf("copy failed: %s", output)
	}
	return nil
}

// Upload writes content into a directory on the results volume. When the
// target name is taken, a numeric suffix is appended rather than
// overwriting. The content is staged base64-encoded in the pod first to
// stay clear of argument length limits.
func (m *Manager) Upload(ctx context.Context, dirPath, filename string, content []byte) (*UploadResult, error) {
	if !strings.HasPrefix(dirPath, "/") {
		dirPath = workflow.ResultsMountPath + "/" + strings.TrimLeft(dirPath, "/")
	}
	if !validFilePath(dirPath) {
		return nil, ErrPathOutsideMount
	}
	if filename == "" {
		filename = "uploaded_file"
	}

	finalPath, err := m.resolveUploadPath(ctx, dirPath, filename)
	if err != nil {
		return nil, err
	}

	if _, err := m.execShell(ctx, fmt.Sprintf("mkdir -p %s", shellQuote(path.Dir(finalPath)))); err != nil {
		return nil, err
	}

	// Stage the payload via a quoted heredoc, then decode it in place.
	b64TmpPath := fmt.Sprintf("/tmp/upload_%s.b64", strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	stage := fmt.Sprintf("cat > %s << 'EOFB64'\n%s\nEOFB64", shellQuote(b64TmpPath), encodeBase64(content))
	if out, err := m.execShell(ctx, stage); err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	} else if strings.Contains(strings.ToLower(out), "error") {
		m.logger.Warn("staging upload produced output", slog.String("output", out))
	}

	output, err := m.execShell(ctx, scriptCommand(uploadDecodeScript(b64TmpPath, finalPath), "/tmp/upload_script.py"))
	if err != nil {
		return nil, err
	}
	if !strings.Contains(output, "success") {
		// The decode script's output can be lost on reconnects; trust the
		// file itself over the captured output.
		exists, verifyErr := m.fileExists(ctx, finalPath)
		if verifyErr != nil || !exists {
			return nil, fmt.Errorf("upload failed: %s", strings.TrimSpace(output))
		}
	}

	return &UploadResult{
		Name: filename,
		Path: finalPath,
		Size: int64(len(content)),
	}, nil
}

// resolveUploadPath picks the destination path, suffixing the base name
// with _1, _2, ... while the name is taken.
func (m *Manager) resolveUploadPath(ctx context.Context, dirPath, filename string) (string, error) {
	dir := strings.TrimRight(dirPath, "/")
	candidate := dir + "/" + filename

	exists, err := m.fileExists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !exists {
		return candidate, nil
	}

	base := filename
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		base = filename[:idx]
		ext = filename[idx:]
	}
	for counter := 1; ; counter++ {
		candidate = fmt.Sprintf("%s/%s_%d%s", dir, base, counter, ext)
		exists, err := m.fileExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

func (m *Manager) fileExists(ctx context.Context, filePath string) (bool, error) {
	command := fmt.Sprintf("test -f %s && echo exists || echo not_exists", shellQuote(filePath))
	output, err := m.execShell(ctx, command)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) == "exists", nil
}

// parseScriptOutput extracts the JSON document from exec output, which may
// carry stray lines around it, and unmarshals it into target.
func parseScriptOutput(output string, target interface{}) error {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return json.Unmarshal([]byte(line), target)
		}
	}
	return fmt.Errorf("no JSON document in script output: %.200s", output)
}

// ImageContentType maps a file extension onto its image MIME type,
// reporting whether the path looks like an image at all.
func ImageContentType(filePath string) (string, bool) {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	case ".png":
		return "image/png", true
	case ".gif":
		return "image/gif", true
	case ".svg":
		return "image/svg+xml", true
	case ".webp":
		return "image/webp", true
	case ".bmp":
		return "image/bmp", true
	case ".ico":
		return "image/x-icon", true
	}
	return "", false
}

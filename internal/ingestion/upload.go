package ingestion

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

// UploadRoot returns the directory legacy files are read from and uploads
// are stored in. Empty means the OS temp dir.
func UploadRoot(dir string) string {
	if dir == "" {
		return os.TempDir()
	}
	return dir
}

// ResolveUpload resolves path against root and reports whether the result
// stays inside root. Relative paths are taken relative to root.
func ResolveUpload(root, path string) (string, bool) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

// releaseUpload removes an uploaded file once its batch is final. Paths
// outside the upload directory are never touched.
func (o *Orchestrator) releaseUpload(req FileRequest) {
	if !req.Uploaded {
		return
	}
	path, ok := ResolveUpload(UploadRoot(o.cfg.UploadDir), req.FilePath)
	if !ok {
		logger.Warn("Upload outside upload directory left in place", zap.String("path", req.FilePath))
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove upload", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("Upload removed", zap.String("path", path))
}

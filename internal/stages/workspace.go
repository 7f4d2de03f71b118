package stages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// workspace is a per-job scratch directory. Every file handed out by path is
// removed by cleanup, which callers defer right after creation.
type workspace struct {
	dir    string
	files  []string
	logger *zap.Logger
}

func newWorkspace(root, stage, jobID string, logger *zap.Logger) (*workspace, error) {
	dir, err := filepath.Abs(filepath.Join(root, "clueso", stage, jobID))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &workspace{dir: dir, logger: logger}, nil
}

func (w *workspace) path(name string) string {
	p := filepath.Join(w.dir, name)
	w.files = append(w.files, p)
	return p
}

func (w *workspace) cleanup() {
	for _, f := range w.files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("temp file cleanup failed", zap.String("path", f), zap.Error(err))
		}
	}
	// a non-empty directory is left behind silently
	_ = os.Remove(w.dir)
}

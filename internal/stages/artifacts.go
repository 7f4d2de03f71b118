package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/clueso-studio/backend/config"
	"github.com/clueso-studio/backend/internal/toolrunner"
)

const (
	contentTypeWAV  = "audio/wav"
	contentTypeMP4  = "video/mp4"
	contentTypeJSON = "application/json; charset=utf-8"
)

// ArtifactStore reads and writes objects by exact key.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	GetArtifact(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deps are shared by every stage worker.
type Deps struct {
	Store   ArtifactStore
	Runner  toolrunner.Runner
	Tools   config.ToolsConfig
	TempDir string
	Logger  *zap.Logger
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.TempDir == "" {
		d.TempDir = os.TempDir()
	}
	return d
}

func download(ctx context.Context, store ArtifactStore, key, dst string) error {
	body, err := store.GetArtifact(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return f.Close()
}

func upload(ctx context.Context, store ArtifactStore, key, contentType, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	return store.PutArtifact(ctx, key, contentType, f, info.Size())
}

func putJSON(ctx context.Context, store ArtifactStore, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return store.PutArtifact(ctx, key, contentTypeJSON, bytes.NewReader(data), int64(len(data)))
}

func getBytes(ctx context.Context, store ArtifactStore, key string) ([]byte, error) {
	body, err := store.GetArtifact(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

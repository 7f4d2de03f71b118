package stages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/clueso-studio/backend/config"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/pkg/storage"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut map[string]bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, failPut: map[string]bool{}}
}

func (m *memStore) PutArtifact(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut[key] {
		return fmt.Errorf("put %s: injected failure", key)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) GetArtifact(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) put(key, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(data)
}

func (m *memStore) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.objects[key]
	return string(d), ok
}

// fakeRunner records commands and answers with handle.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []toolrunner.Command
	stdins []string
	handle func(call int, cmd toolrunner.Command) (toolrunner.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd toolrunner.Command) (toolrunner.Result, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, cmd)
	stdin := ""
	if cmd.Stdin != nil {
		b, _ := io.ReadAll(cmd.Stdin)
		stdin = string(b)
	}
	f.stdins = append(f.stdins, stdin)
	f.mu.Unlock()
	if f.handle == nil {
		return toolrunner.Result{}, nil
	}
	return f.handle(n, cmd)
}

func exitErr(tool string, code int, stderr string) error {
	return &toolrunner.Error{Tool: tool, ExitCode: code, Stderr: stderr, Kind: toolrunner.ErrExit}
}

func lastArg(cmd toolrunner.Command) string {
	return cmd.Args[len(cmd.Args)-1]
}

func argAfter(cmd toolrunner.Command, flag string) string {
	for i, a := range cmd.Args {
		if a == flag && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	return ""
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

var fixedNow = time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

func testDeps(t *testing.T, store ArtifactStore, runner toolrunner.Runner) Deps {
	return Deps{
		Store:  store,
		Runner: runner,
		Tools: config.ToolsConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			WhisperCommand: "python3",
			WhisperScript:  "scripts/whisper_transcribe.py",
			WhisperModel:   "base",
			PiperPath:      "./piper",
			PiperDir:       "tools/piper",
			PiperModel:     "models/en_US-lessac-medium.onnx",
			PiperVoiceName: "en_US-lessac-medium",
			VoiceLanguage:  "en-US",
		},
		TempDir: t.TempDir(),
		Logger:  zaptest.NewLogger(t),
		Now:     func() time.Time { return fixedNow },
	}
}

package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clueso-studio/backend/internal/toolrunner"
)

func TestExtractUploadsAudio(t *testing.T) {
	store := newMemStore()
	store.put("clueso/uploads/u1/up.mp4", "video-bytes")
	runner := &fakeRunner{handle: func(_ int, cmd toolrunner.Command) (toolrunner.Result, error) {
		in := argAfter(cmd, "-i")
		data, err := os.ReadFile(in)
		require.NoError(t, err)
		assert.Equal(t, "video-bytes", string(data))
		writeFile(t, lastArg(cmd), "pcm")
		return toolrunner.Result{}, nil
	}}
	d := testDeps(t, store, runner)

	key, err := NewAudioExtractor(d).Extract(context.Background(), AudioInput{JobID: "j1", UserID: "u1", VideoKey: "clueso/uploads/u1/up.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "clueso/audio/u1/j1.wav", key)
	got, ok := store.get(key)
	require.True(t, ok)
	assert.Equal(t, "pcm", got)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "ffmpeg", runner.calls[0].Name)
	assert.NoDirExists(t, filepath.Join(d.TempDir, "clueso", "audio", "j1"))
}

func TestExtractZeroByteOutputIsNoAudioTrack(t *testing.T) {
	store := newMemStore()
	store.put("v.mp4", "video")
	runner := &fakeRunner{handle: func(_ int, cmd toolrunner.Command) (toolrunner.Result, error) {
		writeFile(t, lastArg(cmd), "")
		return toolrunner.Result{}, nil
	}}
	d := testDeps(t, store, runner)

	_, err := NewAudioExtractor(d).Extract(context.Background(), AudioInput{JobID: "j1", UserID: "u1", VideoKey: "v.mp4"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAudioTrack)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, errors.Is(err, ErrTool))
	_, stored := store.get("clueso/audio/u1/j1.wav")
	assert.False(t, stored)
	assert.NoDirExists(t, filepath.Join(d.TempDir, "clueso", "audio", "j1"))
}

func TestExtractToolFailure(t *testing.T) {
	store := newMemStore()
	store.put("v.mp4", "video")
	runner := &fakeRunner{handle: func(int, toolrunner.Command) (toolrunner.Result, error) {
		return toolrunner.Result{ExitCode: 1}, exitErr("ffmpeg", 1, "Invalid data found when processing input")
	}}
	d := testDeps(t, store, runner)

	_, err := NewAudioExtractor(d).Extract(context.Background(), AudioInput{JobID: "j1", UserID: "u1", VideoKey: "v.mp4"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTool)
	assert.ErrorIs(t, err, toolrunner.ErrExit)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.NoDirExists(t, filepath.Join(d.TempDir, "clueso", "audio", "j1"))
}

func TestExtractMissingVideo(t *testing.T) {
	d := testDeps(t, newMemStore(), &fakeRunner{})
	_, err := NewAudioExtractor(d).Extract(context.Background(), AudioInput{JobID: "j1", UserID: "u1", VideoKey: "missing.mp4"})
	assert.ErrorIs(t, err, ErrStorage)

	_, err = NewAudioExtractor(d).Extract(context.Background(), AudioInput{JobID: "j1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrInput)
}

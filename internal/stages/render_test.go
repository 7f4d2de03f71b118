package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clueso-studio/backend/internal/media"
	"github.com/clueso-studio/backend/internal/toolrunner"
)

const probeJSON = `{"streams":[{"width":1280,"height":720,"avg_frame_rate":"30/1","duration":"42.5"}]}`

func renderRunner(t *testing.T, concatList *string) *fakeRunner {
	return &fakeRunner{handle: func(_ int, cmd toolrunner.Command) (toolrunner.Result, error) {
		switch {
		case cmd.Name == "ffprobe":
			return toolrunner.Result{Stdout: probeJSON}, nil
		case argAfter(cmd, "-f") == "concat":
			data, err := os.ReadFile(argAfter(cmd, "-i"))
			require.NoError(t, err)
			*concatList = string(data)
			writeFile(t, lastArg(cmd), "joined")
		default:
			writeFile(t, lastArg(cmd), "mp4")
		}
		return toolrunner.Result{}, nil
	}}
}

func TestRenderSingleTrack(t *testing.T) {
	store := newMemStore()
	store.put("video.mp4", "v")
	store.put("voice.wav", "a")
	var list string
	runner := renderRunner(t, &list)
	d := testDeps(t, store, runner)

	asset, err := NewRenderer(d).Render(context.Background(), RenderInput{
		JobID: "j1", UserID: "u1", ProjectID: "p1", VideoKey: "video.mp4", VoiceoverKey: "voice.wav",
	})
	require.NoError(t, err)
	require.Len(t, runner.calls, 2)

	mux := runner.calls[0]
	assert.Equal(t, "ffmpeg", mux.Name)
	assert.Equal(t, media.MuxVoiceoverArgs(mux.Args[2], mux.Args[4], lastArg(mux)), mux.Args)
	assert.Empty(t, list)

	assert.Equal(t, "clueso/rendered-videos/u1/j1/final.mp4", asset.Output.RenderedVideoKey)
	assert.Equal(t, "mp4", asset.Output.Format)
	assert.Equal(t, "video.mp4", asset.Input.OriginalVideoKey)
	assert.Equal(t, "voice.wav", asset.Input.VoiceoverKey)
	assert.Equal(t, 42.5, asset.Metadata.DurationSeconds)
	assert.Equal(t, "1280x720", asset.Metadata.Resolution)
	assert.Equal(t, float64(30), asset.Metadata.FPS)
	_, ok := store.get(asset.Output.RenderedVideoKey)
	assert.True(t, ok)
	assert.NoDirExists(t, filepath.Join(d.TempDir, "clueso", "render", "j1"))
}

func TestRenderConcatenatesVoiceTracks(t *testing.T) {
	store := newMemStore()
	store.put("video.mp4", "v")
	store.put("s0.wav", "a0")
	store.put("s1.wav", "a1")
	var list string
	runner := renderRunner(t, &list)
	d := testDeps(t, store, runner)

	_, err := NewRenderer(d).Render(context.Background(), RenderInput{
		JobID: "j1", UserID: "u1", VideoKey: "video.mp4",
		VoiceoverKey: "manifest.json", VoiceTracks: []string{"s0.wav", "s1.wav"},
	})
	require.NoError(t, err)
	require.Len(t, runner.calls, 3)
	lines := strings.Split(strings.TrimSpace(list), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "voice_0.wav")
	assert.Contains(t, lines[1], "voice_1.wav")
	assert.Equal(t, lastArg(runner.calls[0]), runner.calls[1].Args[4], "mux consumes the joined track")
}

func TestRenderFailures(t *testing.T) {
	t.Run("missing voice", func(t *testing.T) {
		store := newMemStore()
		store.put("video.mp4", "v")
		d := testDeps(t, store, &fakeRunner{})
		_, err := NewRenderer(d).Render(context.Background(), RenderInput{JobID: "j1", UserID: "u1", VideoKey: "video.mp4", VoiceoverKey: "gone.wav"})
		assert.ErrorIs(t, err, ErrStorage)
		assert.NoDirExists(t, filepath.Join(d.TempDir, "clueso", "render", "j1"))
	})
	t.Run("transcode exit", func(t *testing.T) {
		store := newMemStore()
		store.put("video.mp4", "v")
		store.put("voice.wav", "a")
		runner := &fakeRunner{handle: func(int, toolrunner.Command) (toolrunner.Result, error) {
			return toolrunner.Result{ExitCode: 1}, exitErr("ffmpeg", 1, "codec not supported")
		}}
		d := testDeps(t, store, runner)
		_, err := NewRenderer(d).Render(context.Background(), RenderInput{JobID: "j1", UserID: "u1", VideoKey: "video.mp4", VoiceoverKey: "voice.wav"})
		assert.ErrorIs(t, err, ErrTool)
	})
	t.Run("probe garbage", func(t *testing.T) {
		store := newMemStore()
		store.put("video.mp4", "v")
		store.put("voice.wav", "a")
		runner := &fakeRunner{handle: func(_ int, cmd toolrunner.Command) (toolrunner.Result, error) {
			if cmd.Name == "ffprobe" {
				return toolrunner.Result{Stdout: "garbage"}, nil
			}
			writeFile(t, lastArg(cmd), "mp4")
			return toolrunner.Result{}, nil
		}}
		d := testDeps(t, store, runner)
		_, err := NewRenderer(d).Render(context.Background(), RenderInput{JobID: "j1", UserID: "u1", VideoKey: "video.mp4", VoiceoverKey: "voice.wav"})
		assert.ErrorIs(t, err, media.ErrProbeOutput)
		_, stored := store.get("clueso/rendered-videos/u1/j1/final.mp4")
		assert.False(t, stored)
	})
}

package stages

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clueso-studio/backend/internal/media"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/pkg/storage"
)

// RenderInput names the video and the voice audio to mux.
// VoiceTracks are audio keys joined in order; when empty, VoiceoverKey itself is the audio file.
type RenderInput struct {
	JobID        string
	UserID       string
	ProjectID    string
	VideoKey     string
	VoiceoverKey string
	VoiceTracks  []string
}

// Renderer replaces a video's audio with the voiceover.
type Renderer struct {
	d Deps
}

// NewRenderer creates the video render worker.
func NewRenderer(d Deps) *Renderer {
	return &Renderer{d: d.withDefaults()}
}

// Render produces and stores the final video.
func (r *Renderer) Render(ctx context.Context, in RenderInput) (*models.RenderedAsset, error) {
	const stage = models.StageVideoRender
	tracks := in.VoiceTracks
	if len(tracks) == 0 && in.VoiceoverKey != "" {
		tracks = []string{in.VoiceoverKey}
	}
	if in.VideoKey == "" || len(tracks) == 0 {
		return nil, stageErr(stage, ErrInput, "job %s: render needs a video and voice audio", in.JobID)
	}
	log := r.d.Logger.With(zap.String("job_id", in.JobID), zap.String("stage", string(stage)))

	ws, err := newWorkspace(r.d.TempDir, "render", in.JobID, log)
	if err != nil {
		return nil, stageErr(stage, ErrStorage, "%w", err)
	}
	defer ws.cleanup()

	videoPath := ws.path("input" + path.Ext(in.VideoKey))
	trackPaths := make([]string, len(tracks))
	for i := range tracks {
		trackPaths[i] = ws.path(fmt.Sprintf("voice_%d%s", i, path.Ext(tracks[i])))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := download(gctx, r.d.Store, in.VideoKey, videoPath); err != nil {
			return fmt.Errorf("download video: %w", err)
		}
		return nil
	})
	for i, key := range tracks {
		g.Go(func() error {
			if err := download(gctx, r.d.Store, key, trackPaths[i]); err != nil {
				return fmt.Errorf("download voice track %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stageErr(stage, ErrStorage, "%w", err)
	}

	audioPath := trackPaths[0]
	if len(trackPaths) > 1 {
		listPath := ws.path("concat.txt")
		audioPath = ws.path("voiceover.wav")
		if err := media.WriteConcatList(listPath, trackPaths); err != nil {
			return nil, stageErr(stage, ErrStorage, "%w", err)
		}
		if _, err := r.d.Runner.Run(ctx, toolrunner.Command{
			Name: r.d.Tools.FFmpegPath,
			Args: media.ConcatAudioArgs(listPath, audioPath),
		}); err != nil {
			return nil, stageErr(stage, ErrTool, "voice concat failed: %w", err)
		}
	}

	outPath := ws.path("final.mp4")
	if _, err := r.d.Runner.Run(ctx, toolrunner.Command{
		Name: r.d.Tools.FFmpegPath,
		Args: media.MuxVoiceoverArgs(videoPath, audioPath, outPath),
	}); err != nil {
		return nil, stageErr(stage, ErrTool, "render failed: %w", err)
	}

	probe, err := r.d.Runner.Run(ctx, toolrunner.Command{
		Name: r.d.Tools.FFprobePath,
		Args: media.ProbeArgs(outPath),
	})
	if err != nil {
		return nil, stageErr(stage, ErrTool, "probe failed: %w", err)
	}
	info, err := media.ParseProbe([]byte(probe.Stdout))
	if err != nil {
		return nil, stageErr(stage, ErrTool, "%w", err)
	}

	key := storage.FinalVideoKey(in.UserID, in.JobID)
	if err := upload(ctx, r.d.Store, key, contentTypeMP4, outPath); err != nil {
		return nil, stageErr(stage, ErrStorage, "upload video: %w", err)
	}

	now := r.d.Now().UTC()
	asset := &models.RenderedAsset{
		ID:        fmt.Sprintf("rv_%s_%d", in.JobID, now.UnixMilli()),
		ProjectID: in.ProjectID,
		JobID:     in.JobID,
		Input: models.RenderInput{
			OriginalVideoKey: in.VideoKey,
			VoiceoverKey:     in.VoiceoverKey,
		},
		Output: models.RenderOutput{
			RenderedVideoKey: key,
			Format:           "mp4",
		},
		Metadata: models.RenderMetadata{
			DurationSeconds: info.DurationSeconds,
			Resolution:      info.Resolution(),
			FPS:             info.FPS,
		},
		CreatedAt: now,
	}
	log.Info("video rendered",
		zap.String("key", key),
		zap.Float64("duration_seconds", info.DurationSeconds),
		zap.String("resolution", asset.Metadata.Resolution),
	)
	return asset, nil
}

package stages

import (
	"context"
	"os"
	"path"

	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/media"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/pkg/storage"
)

// AudioInput identifies the source video of a job.
type AudioInput struct {
	JobID    string
	UserID   string
	VideoKey string
}

// AudioExtractor turns a stored video into mono 16 kHz PCM audio.
type AudioExtractor struct {
	d Deps
}

// NewAudioExtractor creates the audio extraction worker.
func NewAudioExtractor(d Deps) *AudioExtractor {
	return &AudioExtractor{d: d.withDefaults()}
}

// Extract stores the audio track of in.VideoKey and returns its key.
func (a *AudioExtractor) Extract(ctx context.Context, in AudioInput) (string, error) {
	const stage = models.StageAudioExtraction
	if in.VideoKey == "" {
		return "", stageErr(stage, ErrInput, "job %s has no input video", in.JobID)
	}
	log := a.d.Logger.With(zap.String("job_id", in.JobID), zap.String("stage", string(stage)))

	ws, err := newWorkspace(a.d.TempDir, "audio", in.JobID, log)
	if err != nil {
		return "", stageErr(stage, ErrStorage, "%w", err)
	}
	defer ws.cleanup()

	videoPath := ws.path("input" + path.Ext(in.VideoKey))
	audioPath := ws.path("audio.wav")

	if err := download(ctx, a.d.Store, in.VideoKey, videoPath); err != nil {
		return "", stageErr(stage, ErrStorage, "download video: %w", err)
	}

	_, err = a.d.Runner.Run(ctx, toolrunner.Command{
		Name: a.d.Tools.FFmpegPath,
		Args: media.ExtractAudioArgs(videoPath, audioPath),
	})
	if err != nil {
		return "", stageErr(stage, ErrTool, "audio extraction failed: %w", err)
	}

	info, err := os.Stat(audioPath)
	if err != nil || info.Size() == 0 {
		return "", stageErr(stage, ErrValidation, "%w", ErrNoAudioTrack)
	}

	key := storage.AudioKey(in.UserID, in.JobID)
	if err := upload(ctx, a.d.Store, key, contentTypeWAV, audioPath); err != nil {
		return "", stageErr(stage, ErrStorage, "upload audio: %w", err)
	}
	log.Info("audio extracted", zap.String("key", key), zap.Int64("size", info.Size()))
	return key, nil
}

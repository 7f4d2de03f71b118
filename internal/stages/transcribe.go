package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/internal/transcript"
	"github.com/clueso-studio/backend/pkg/storage"
)

// TranscriptionInput identifies the stored audio of a job.
type TranscriptionInput struct {
	JobID    string
	UserID   string
	AudioKey string
}

// TranscriptionResult is the stored transcript and its key.
type TranscriptionResult struct {
	Key      string
	Document models.TranscriptDocument
}

// Transcriber runs speech-to-text and validates its output.
type Transcriber struct {
	d Deps
}

// NewTranscriber creates the transcription worker.
func NewTranscriber(d Deps) *Transcriber {
	return &Transcriber{d: d.withDefaults()}
}

// Transcribe runs the speech-to-text script on a local audio file.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (models.TranscriptDocument, error) {
	const stage = models.StageTranscription
	args := append(append([]string{}, t.d.Tools.WhisperArgs...), t.d.Tools.WhisperScript, audioPath, t.d.Tools.WhisperModel)
	res, err := t.d.Runner.Run(ctx, toolrunner.Command{Name: t.d.Tools.WhisperCommand, Args: args})
	if err != nil {
		return models.TranscriptDocument{}, stageErr(stage, ErrTool, "speech-to-text failed: %w", err)
	}

	report, err := transcript.Validate(res.Stdout)
	if err != nil {
		return models.TranscriptDocument{}, stageErr(stage, ErrValidation, "transcript validation failed: %w", err)
	}
	if report.HighRepetition {
		t.d.Logger.Warn("high repetition in transcript, quality may be low",
			zap.Float64("repetition_ratio", report.RepetitionRatio),
			zap.Int("words", report.WordCount),
		)
	}
	return transcript.BuildDocument(report, transcript.DetectLanguage(res.Stderr), t.d.Now()), nil
}

// TranscribeKey downloads in.AudioKey, transcribes it and stores the document.
func (t *Transcriber) TranscribeKey(ctx context.Context, in TranscriptionInput) (TranscriptionResult, error) {
	const stage = models.StageTranscription
	if in.AudioKey == "" {
		return TranscriptionResult{}, stageErr(stage, ErrInput, "job %s has no audio", in.JobID)
	}
	log := t.d.Logger.With(zap.String("job_id", in.JobID), zap.String("stage", string(stage)))

	ws, err := newWorkspace(t.d.TempDir, "transcription", in.JobID, log)
	if err != nil {
		return TranscriptionResult{}, stageErr(stage, ErrStorage, "%w", err)
	}
	defer ws.cleanup()

	audioPath := ws.path("audio.wav")
	if err := download(ctx, t.d.Store, in.AudioKey, audioPath); err != nil {
		return TranscriptionResult{}, stageErr(stage, ErrStorage, "download audio: %w", err)
	}

	doc, err := t.Transcribe(ctx, audioPath)
	if err != nil {
		return TranscriptionResult{}, err
	}

	key := storage.TranscriptKey(in.UserID, in.JobID)
	if err := putJSON(ctx, t.d.Store, key, doc); err != nil {
		return TranscriptionResult{}, stageErr(stage, ErrStorage, "upload transcript: %w", err)
	}
	log.Info("transcript stored",
		zap.String("key", key),
		zap.String("language", doc.Language),
		zap.Int("words", doc.WordCount),
	)
	return TranscriptionResult{Key: key, Document: doc}, nil
}

// LoadTranscript reads a stored transcript document.
func LoadTranscript(ctx context.Context, store ArtifactStore, key string) (models.TranscriptDocument, error) {
	data, err := getBytes(ctx, store, key)
	if err != nil {
		return models.TranscriptDocument{}, err
	}
	return transcript.ParseDocument(data)
}

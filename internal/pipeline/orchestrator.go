// Package pipeline drives Job Records through the stage workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/stages"
)

// ErrMissingArtifact is returned when a manual stage needs a key the job does not have.
var ErrMissingArtifact = errors.New("job is missing a required artifact")

const (
	statusWriteAttempts = 3
	statusWriteTimeout  = 10 * time.Second
)

// Stage worker contracts consumed by the orchestrator.
type (
	AudioStage interface {
		Extract(ctx context.Context, in stages.AudioInput) (string, error)
	}
	TranscriptionStage interface {
		TranscribeKey(ctx context.Context, in stages.TranscriptionInput) (stages.TranscriptionResult, error)
	}
	ScriptStage interface {
		ImproveKey(ctx context.Context, in stages.ScriptInput) (*models.ImprovedScript, error)
		Save(ctx context.Context, userID string, script *models.ImprovedScript) (string, error)
	}
	VoiceStage interface {
		Generate(ctx context.Context, in stages.VoiceInput) (*models.VoiceoverAsset, error)
		SaveManifest(ctx context.Context, userID string, asset *models.VoiceoverAsset) (string, error)
	}
	RenderStage interface {
		Render(ctx context.Context, in stages.RenderInput) (*models.RenderedAsset, error)
	}
)

// EventPublisher receives every status write.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, userID uuid.UUID, ev models.JobEvent) error
}

// Options wires an Orchestrator.
type Options struct {
	Jobs           jobs.Store
	Artifacts      stages.ArtifactStore
	Audio          AudioStage
	Transcription  TranscriptionStage
	Script         ScriptStage
	Voice          VoiceStage
	Render         RenderStage
	Events         EventPublisher // optional
	ImproveScripts bool
	Logger         *zap.Logger
	Now            func() time.Time
}

// Orchestrator runs a job's stages in order. Audio extraction and
// transcription are primary: their failure fails the job. Everything after
// the transcript checkpoint is best effort and never fails the job.
type Orchestrator struct {
	jobs           jobs.Store
	artifacts      stages.ArtifactStore
	audio          AudioStage
	transcription  TranscriptionStage
	script         ScriptStage
	voice          VoiceStage
	render         RenderStage
	events         EventPublisher
	improveScripts bool
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		jobs:           opts.Jobs,
		artifacts:      opts.Artifacts,
		audio:          opts.Audio,
		transcription:  opts.Transcription,
		script:         opts.Script,
		voice:          opts.Voice,
		render:         opts.Render,
		events:         opts.Events,
		improveScripts: opts.ImproveScripts,
		logger:         opts.Logger,
		now:            opts.Now,
	}
}

// Run drives jobID from UPLOADED to COMPLETED. A missing record is only
// logged. The returned error is the primary-stage failure, if any; the
// record has already been marked FAILED by then.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	log := o.logger.With(zap.String("job_id", jobID.String()))
	job, err := o.jobs.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		log.Warn("pipeline started for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != models.JobUploaded {
		log.Info("job already started, skipping", zap.String("status", string(job.Status)))
		return nil
	}

	start := time.Now()
	doc, err := o.runPrimary(ctx, job)
	if err != nil {
		o.fail(ctx, job.ID, job.UserID, err)
		return err
	}
	log.Info("transcript checkpoint reached", zap.Duration("duration", time.Since(start)))

	o.runBonus(ctx, job, doc)
	log.Info("pipeline finished",
		zap.String("status", string(job.Status)),
		zap.Bool("voice", job.VoiceKey != ""),
		zap.Bool("video", job.FinalVideoKey != ""),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (o *Orchestrator) runPrimary(ctx context.Context, job *models.Job) (models.TranscriptDocument, error) {
	var doc models.TranscriptDocument
	if err := o.advance(ctx, job, models.JobAudioExtracted, nil); err != nil {
		return doc, err
	}
	audioKey, err := o.audio.Extract(ctx, stages.AudioInput{
		JobID:    job.ID.String(),
		UserID:   job.UserID.String(),
		VideoKey: job.InputVideoKey,
	})
	if err != nil {
		return doc, err
	}
	if err := o.advance(ctx, job, models.JobAudioExtracted, func(n *models.Job) { n.AudioKey = audioKey }); err != nil {
		return doc, err
	}

	if err := o.advance(ctx, job, models.JobTranscribed, nil); err != nil {
		return doc, err
	}
	res, err := o.transcription.TranscribeKey(ctx, stages.TranscriptionInput{
		JobID:    job.ID.String(),
		UserID:   job.UserID.String(),
		AudioKey: job.AudioKey,
	})
	if err != nil {
		return doc, err
	}
	if err := o.advance(ctx, job, models.JobCompleted, func(n *models.Job) { n.TranscriptKey = res.Key }); err != nil {
		return doc, err
	}
	return res.Document, nil
}

func (o *Orchestrator) runBonus(ctx context.Context, job *models.Job, doc models.TranscriptDocument) {
	log := o.logger.With(zap.String("job_id", job.ID.String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("enhancement panicked, job stays completed", zap.Any("panic", r))
			o.restoreCompleted(ctx, job)
		}
	}()
	if err := o.enhance(ctx, job, doc); err != nil {
		// TODO: confirm with product whether enhancement failures should surface on the job record.
		log.Warn("enhancement failed after transcript checkpoint, job stays completed",
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
		o.restoreCompleted(ctx, job)
	}
}

func (o *Orchestrator) enhance(ctx context.Context, job *models.Job, doc models.TranscriptDocument) error {
	log := o.logger.With(zap.String("job_id", job.ID.String()))
	var script *models.ImprovedScript
	if o.improveScripts {
		if err := o.advance(ctx, job, models.JobScriptImproved, nil); err != nil {
			return err
		}
		improved, err := o.improveAndSave(ctx, job)
		if err != nil {
			log.Warn("script improvement failed, narrating original transcript", zap.Error(err))
		} else {
			script = improved
		}
	}
	if script == nil {
		script = stages.FallbackScript(job.ID.String(), job.ProjectID, doc, o.now())
	}

	if err := o.advance(ctx, job, models.JobVoiceGenerated, nil); err != nil {
		return err
	}
	asset, voiceKey, err := o.generateVoice(ctx, job, script)
	if err != nil {
		return err
	}

	if err := o.advance(ctx, job, models.JobVideoMerged, nil); err != nil {
		return err
	}
	if err := o.renderVideo(ctx, job, asset, voiceKey); err != nil {
		return err
	}
	return o.advance(ctx, job, models.JobCompleted, nil)
}

func (o *Orchestrator) improveAndSave(ctx context.Context, job *models.Job) (*models.ImprovedScript, error) {
	script, err := o.script.ImproveKey(ctx, stages.ScriptInput{
		JobID:         job.ID.String(),
		UserID:        job.UserID.String(),
		ProjectID:     job.ProjectID,
		TranscriptKey: job.TranscriptKey,
	})
	if err != nil {
		return nil, err
	}
	key, err := o.script.Save(ctx, job.UserID.String(), script)
	if err != nil {
		return nil, err
	}
	if err := o.advance(ctx, job, models.JobScriptImproved, func(n *models.Job) { n.ImprovedScriptKey = key }); err != nil {
		return nil, err
	}
	return script, nil
}

func (o *Orchestrator) generateVoice(ctx context.Context, job *models.Job, script *models.ImprovedScript) (*models.VoiceoverAsset, string, error) {
	asset, err := o.voice.Generate(ctx, stages.VoiceInput{
		JobID:     job.ID.String(),
		UserID:    job.UserID.String(),
		ProjectID: job.ProjectID,
		Script:    script,
	})
	if err != nil {
		return nil, "", err
	}
	key, err := o.voice.SaveManifest(ctx, job.UserID.String(), asset)
	if err != nil {
		return nil, "", err
	}
	if err := o.advance(ctx, job, models.JobVoiceGenerated, func(n *models.Job) { n.VoiceKey = key }); err != nil {
		return nil, "", err
	}
	return asset, key, nil
}

func (o *Orchestrator) renderVideo(ctx context.Context, job *models.Job, asset *models.VoiceoverAsset, voiceKey string) error {
	rendered, err := o.render.Render(ctx, stages.RenderInput{
		JobID:        job.ID.String(),
		UserID:       job.UserID.String(),
		ProjectID:    job.ProjectID,
		VideoKey:     job.InputVideoKey,
		VoiceoverKey: voiceKey,
		VoiceTracks:  asset.AudioKeys(),
	})
	if err != nil {
		return err
	}
	return o.advance(ctx, job, models.JobVideoMerged, func(n *models.Job) {
		n.FinalVideoKey = rendered.Output.RenderedVideoKey
		n.DurationSeconds = rendered.Metadata.DurationSeconds
		n.Resolution = rendered.Metadata.Resolution
		n.FPS = rendered.Metadata.FPS
	})
}

// RunStage runs a single stage for a job already checked to be in the
// stage's predecessor status, then records the stage's status.
func (o *Orchestrator) RunStage(ctx context.Context, job *models.Job, stage models.Stage) error {
	log := o.logger.With(zap.String("job_id", job.ID.String()), zap.String("stage", string(stage)))
	log.Info("manual stage triggered")

	var err error
	switch stage {
	case models.StageAudioExtraction:
		var key string
		key, err = o.audio.Extract(ctx, stages.AudioInput{JobID: job.ID.String(), UserID: job.UserID.String(), VideoKey: job.InputVideoKey})
		if err == nil {
			err = o.advance(ctx, job, models.JobAudioExtracted, func(n *models.Job) { n.AudioKey = key })
		}
	case models.StageTranscription:
		var res stages.TranscriptionResult
		res, err = o.transcription.TranscribeKey(ctx, stages.TranscriptionInput{JobID: job.ID.String(), UserID: job.UserID.String(), AudioKey: job.AudioKey})
		if err == nil {
			err = o.advance(ctx, job, models.JobTranscribed, func(n *models.Job) { n.TranscriptKey = res.Key })
		}
	case models.StageScriptImprovement:
		_, err = o.improveAndSave(ctx, job)
	case models.StageVoiceover:
		if job.ImprovedScriptKey == "" {
			return fmt.Errorf("%w: improved script", ErrMissingArtifact)
		}
		var script *models.ImprovedScript
		script, err = stages.LoadScript(ctx, o.artifacts, job.ImprovedScriptKey)
		if err == nil {
			_, _, err = o.generateVoice(ctx, job, script)
		}
	case models.StageVideoRender:
		if job.VoiceKey == "" {
			return fmt.Errorf("%w: voiceover", ErrMissingArtifact)
		}
		var asset *models.VoiceoverAsset
		asset, err = stages.LoadManifest(ctx, o.artifacts, job.VoiceKey)
		if err == nil {
			err = o.renderVideo(ctx, job, asset, job.VoiceKey)
		}
		if err == nil {
			err = o.advance(ctx, job, models.JobCompleted, nil)
		}
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}

	if err != nil {
		if stage.Primary() {
			o.fail(ctx, job.ID, job.UserID, err)
		}
		log.Warn("manual stage failed", zap.Error(err))
		return err
	}
	log.Info("manual stage finished", zap.String("status", string(job.Status)))
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, job *models.Job, status models.JobStatus, mutate func(*models.Job)) error {
	if err := jobs.Advance(ctx, o.jobs, job, status, mutate, o.now()); err != nil {
		return err
	}
	o.publish(ctx, job)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, job *models.Job) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishJobEvent(context.WithoutCancel(ctx), job.UserID, models.EventFor(job)); err != nil {
		o.logger.Debug("publish job event failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// fail re-reads the record and marks it FAILED unless it has already
// passed the transcript checkpoint.
func (o *Orchestrator) fail(ctx context.Context, jobID, userID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	log := o.logger.With(zap.String("job_id", jobID.String()), zap.String("user_id", userID.String()))

	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		latest, err := o.jobs.Get(ctx, jobID)
		if err != nil {
			log.Error("reload job before failing", zap.Error(err), zap.NamedError("cause", cause))
			return
		}
		if latest.Status == models.JobFailed || !models.CanTransition(latest.Status, models.JobFailed) {
			log.Info("error after transcript checkpoint, status kept",
				zap.String("status", string(latest.Status)),
				zap.NamedError("cause", cause),
			)
			return
		}
		err = jobs.Advance(ctx, o.jobs, latest, models.JobFailed, func(n *models.Job) { n.ErrorMessage = failureMessage(cause) }, o.now())
		if err == nil {
			log.Error("job failed", zap.String("previous_status", string(latest.Status)), zap.Error(cause))
			o.publish(ctx, latest)
			return
		}
		if !errors.Is(err, jobs.ErrConflict) {
			log.Error("mark job failed", zap.Error(err), zap.NamedError("cause", cause))
			return
		}
	}
	log.Error("gave up marking job failed after concurrent writes", zap.NamedError("cause", cause))
}

// failureMessage is cause's text made safe for a text column.
func failureMessage(cause error) string {
	return strings.ToValidUTF8(cause.Error(), "\uFFFD")
}

// restoreCompleted brings a job whose enhancement stopped midway back to COMPLETED.
func (o *Orchestrator) restoreCompleted(ctx context.Context, job *models.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		latest, err := o.jobs.Get(ctx, job.ID)
		if err != nil {
			o.logger.Error("reload job to restore completed", zap.String("job_id", job.ID.String()), zap.Error(err))
			return
		}
		switch latest.Status {
		case models.JobScriptImproved, models.JobVoiceGenerated, models.JobVideoMerged:
		default:
			*job = *latest
			return
		}
		err = jobs.Advance(ctx, o.jobs, latest, models.JobCompleted, nil, o.now())
		if err == nil {
			*job = *latest
			o.publish(ctx, job)
			return
		}
		if !errors.Is(err, jobs.ErrConflict) {
			o.logger.Error("restore completed", zap.String("job_id", job.ID.String()), zap.Error(err))
			return
		}
	}
}

// PooledStages runs manual stage triggers on a Pool's slots.
type PooledStages struct {
	Orchestrator *Orchestrator
	Pool         *Pool
}

// RunStage waits for a free slot while ctx allows, then runs the stage to
// completion even if ctx ends meanwhile.
func (s PooledStages) RunStage(ctx context.Context, job *models.Job, stage models.Stage) error {
	return s.Pool.Do(ctx, job.ID, func(runCtx context.Context) error {
		return s.Orchestrator.RunStage(runCtx, job, stage)
	})
}

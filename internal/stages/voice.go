package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/pkg/storage"
)

const voiceProvider = "piper"

// VoiceInput is the script to narrate.
type VoiceInput struct {
	JobID     string
	UserID    string
	ProjectID string
	Script    *models.ImprovedScript
}

// VoiceGenerator synthesizes one audio track per script segment.
type VoiceGenerator struct {
	d Deps
}

// NewVoiceGenerator creates the voice generation worker.
func NewVoiceGenerator(d Deps) *VoiceGenerator {
	return &VoiceGenerator{d: d.withDefaults()}
}

// Generate runs the synthesizer for each segment in order. Any segment
// failure aborts the whole stage.
func (v *VoiceGenerator) Generate(ctx context.Context, in VoiceInput) (*models.VoiceoverAsset, error) {
	const stage = models.StageVoiceover
	if in.Script == nil || len(in.Script.Segments) == 0 {
		return nil, stageErr(stage, ErrInput, "job %s: script has no segments", in.JobID)
	}
	log := v.d.Logger.With(zap.String("job_id", in.JobID), zap.String("stage", string(stage)))

	ws, err := newWorkspace(v.d.TempDir, "voiceover", in.JobID, log)
	if err != nil {
		return nil, stageErr(stage, ErrStorage, "%w", err)
	}
	defer ws.cleanup()

	segments := make([]models.VoiceoverSegment, 0, len(in.Script.Segments))
	for i, seg := range in.Script.Segments {
		text := strings.TrimSpace(seg.ImprovedText)
		if text == "" {
			text = strings.TrimSpace(seg.OriginalText)
		}
		if text == "" {
			return nil, stageErr(stage, ErrInput, "segment %d has no text", i)
		}

		wavPath := ws.path(fmt.Sprintf("segment_%d.wav", i))
		_, err := v.d.Runner.Run(ctx, toolrunner.Command{
			Name:  v.d.Tools.PiperPath,
			Args:  []string{"--model", v.d.Tools.PiperModel, "--output_file", wavPath},
			Dir:   v.d.Tools.PiperDir,
			Stdin: strings.NewReader(text),
		})
		if err != nil {
			return nil, stageErr(stage, ErrTool, "segment %d: speech synthesis failed: %w", i, err)
		}

		key := storage.VoiceSegmentKey(in.UserID, in.JobID, i)
		if err := upload(ctx, v.d.Store, key, contentTypeWAV, wavPath); err != nil {
			return nil, stageErr(stage, ErrStorage, "segment %d: upload: %w", i, err)
		}
		segments = append(segments, models.VoiceoverSegment{
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Text:      text,
			AudioKey:  key,
		})
		log.Debug("segment synthesized", zap.Int("segment", i), zap.String("key", key))
	}

	now := v.d.Now().UTC()
	return &models.VoiceoverAsset{
		ID:        fmt.Sprintf("va_%s_%d", in.JobID, now.UnixMilli()),
		ProjectID: in.ProjectID,
		JobID:     in.JobID,
		Metadata: models.VoiceoverMetadata{
			Provider: voiceProvider,
			Model:    v.d.Tools.PiperVoiceName,
			Language: v.d.Tools.VoiceLanguage,
		},
		Segments:  segments,
		KeyPrefix: storage.VoiceoverPrefix(in.UserID, in.JobID),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SaveManifest stores the voiceover asset; its key is the job's voice key.
func (v *VoiceGenerator) SaveManifest(ctx context.Context, userID string, asset *models.VoiceoverAsset) (string, error) {
	key := storage.VoiceoverManifestKey(userID, asset.JobID)
	if err := putJSON(ctx, v.d.Store, key, asset); err != nil {
		return "", stageErr(models.StageVoiceover, ErrStorage, "upload manifest: %w", err)
	}
	v.d.Logger.Info("voiceover stored", zap.String("job_id", asset.JobID), zap.String("key", key), zap.Int("segments", len(asset.Segments)))
	return key, nil
}

// LoadManifest reads a stored voiceover asset.
func LoadManifest(ctx context.Context, store ArtifactStore, key string) (*models.VoiceoverAsset, error) {
	data, err := getBytes(ctx, store, key)
	if err != nil {
		return nil, err
	}
	var asset models.VoiceoverAsset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("decode voiceover %s: %w", key, err)
	}
	return &asset, nil
}

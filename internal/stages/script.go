package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/transcript"
	"github.com/clueso-studio/backend/pkg/storage"
)

// DefaultBatchSize is the number of segments sent per LLM request.
const DefaultBatchSize = 8

// SegmentImprover returns one improved string per input text, in order.
type SegmentImprover interface {
	ImproveSegments(ctx context.Context, texts []string) ([]string, error)
}

// ScriptInput identifies the stored transcript of a job.
type ScriptInput struct {
	JobID         string
	UserID        string
	ProjectID     string
	TranscriptKey string
}

// ScriptImprover cleans transcript segments with an LLM, batch by batch.
type ScriptImprover struct {
	d         Deps
	llm       SegmentImprover
	batchSize int
}

// NewScriptImprover creates the script improvement worker.
func NewScriptImprover(d Deps, llm SegmentImprover, batchSize int) *ScriptImprover {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &ScriptImprover{d: d.withDefaults(), llm: llm, batchSize: batchSize}
}

func scriptID(jobID string, ms int64) string {
	return fmt.Sprintf("is_%s_%d", jobID, ms)
}

// ImproveKey loads the transcript at in.TranscriptKey and improves it.
// An empty transcript yields a script with no segments.
func (s *ScriptImprover) ImproveKey(ctx context.Context, in ScriptInput) (*models.ImprovedScript, error) {
	const stage = models.StageScriptImprovement
	if in.TranscriptKey == "" {
		return nil, stageErr(stage, ErrInput, "job %s has no transcript", in.JobID)
	}
	doc, err := LoadTranscript(ctx, s.d.Store, in.TranscriptKey)
	if errors.Is(err, transcript.ErrEmptyDocument) {
		s.d.Logger.Warn("empty transcript, nothing to improve", zap.String("job_id", in.JobID))
		return s.Improve(ctx, in.JobID, in.ProjectID, nil), nil
	}
	if err != nil {
		return nil, stageErr(stage, ErrStorage, "load transcript: %w", err)
	}
	return s.Improve(ctx, in.JobID, in.ProjectID, transcript.Segments(doc)), nil
}

// Improve never fails: a batch whose LLM call errors keeps its original
// text, and a missing or blank improvement keeps that segment's original.
func (s *ScriptImprover) Improve(ctx context.Context, jobID, projectID string, segments []models.TranscriptSegment) *models.ImprovedScript {
	now := s.d.Now().UTC()
	out := make([]models.ScriptSegment, 0, len(segments))
	for start := 0; start < len(segments); start += s.batchSize {
		end := min(start+s.batchSize, len(segments))
		batch := segments[start:end]
		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}

		improved, err := s.llm.ImproveSegments(ctx, texts)
		if err != nil {
			s.d.Logger.Warn("script batch improvement failed, keeping original text",
				zap.String("job_id", jobID),
				zap.Int("batch", start/s.batchSize+1),
				zap.Error(err),
			)
			improved = nil
		}
		for i, seg := range batch {
			text := seg.Text
			if i < len(improved) && strings.TrimSpace(improved[i]) != "" {
				text = improved[i]
			}
			out = append(out, models.ScriptSegment{
				StartTime:    seg.StartTime,
				EndTime:      seg.EndTime,
				OriginalText: seg.Text,
				ImprovedText: text,
			})
		}
	}
	return &models.ImprovedScript{
		ID:        scriptID(jobID, now.UnixMilli()),
		ProjectID: projectID,
		JobID:     jobID,
		Segments:  out,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FallbackScript uses the transcript text unchanged as the improved script.
func FallbackScript(jobID, projectID string, doc models.TranscriptDocument, now time.Time) *models.ImprovedScript {
	segs := transcript.Segments(doc)
	out := make([]models.ScriptSegment, 0, len(segs))
	for _, seg := range segs {
		out = append(out, models.ScriptSegment{
			StartTime:    seg.StartTime,
			EndTime:      seg.EndTime,
			OriginalText: seg.Text,
			ImprovedText: seg.Text,
		})
	}
	now = now.UTC()
	return &models.ImprovedScript{
		ID:        scriptID(jobID, now.UnixMilli()),
		ProjectID: projectID,
		JobID:     jobID,
		Segments:  out,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Save stores the script and returns its key.
func (s *ScriptImprover) Save(ctx context.Context, userID string, script *models.ImprovedScript) (string, error) {
	key := storage.ImprovedScriptKey(userID, script.JobID)
	if err := putJSON(ctx, s.d.Store, key, script); err != nil {
		return "", stageErr(models.StageScriptImprovement, ErrStorage, "upload script: %w", err)
	}
	s.d.Logger.Info("improved script stored", zap.String("job_id", script.JobID), zap.String("key", key), zap.Int("segments", len(script.Segments)))
	return key, nil
}

// LoadScript reads a stored improved script.
func LoadScript(ctx context.Context, store ArtifactStore, key string) (*models.ImprovedScript, error) {
	data, err := getBytes(ctx, store, key)
	if err != nil {
		return nil, err
	}
	var script models.ImprovedScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("decode script %s: %w", key, err)
	}
	return &script, nil
}

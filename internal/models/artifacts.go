package models

import "time"

// TranscriptSegment is a timed span of transcript text.
type TranscriptSegment struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Text      string  `json:"text"`
}

// TranscriptDocument is the stored speech-to-text result.
type TranscriptDocument struct {
	Text            string              `json:"text"`
	Language        string              `json:"language"`
	Length          int                 `json:"length"`
	WordCount       int                 `json:"wordCount"`
	UniqueWordCount int                 `json:"uniqueWordCount"`
	RepetitionRatio float64             `json:"repetitionRatio"`
	GeneratedAt     time.Time           `json:"generatedAt"`
	Segments        []TranscriptSegment `json:"segments,omitempty"`
}

// ScriptSegment pairs original and improved narration for one span.
type ScriptSegment struct {
	StartTime    float64 `json:"startTime"`
	EndTime      float64 `json:"endTime"`
	OriginalText string  `json:"originalText"`
	ImprovedText string  `json:"improvedText"`
}

// ImprovedScript is the stored output of script improvement.
type ImprovedScript struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	JobID     string          `json:"jobId"`
	Segments  []ScriptSegment `json:"segments"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// VoiceoverMetadata describes the synthesis voice.
type VoiceoverMetadata struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
	VoiceID  string `json:"voiceId,omitempty"`
}

// VoiceoverSegment is one synthesized audio track.
type VoiceoverSegment struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Text      string  `json:"text"`
	AudioKey  string  `json:"audioKey"`
}

// VoiceoverAsset is the stored voiceover manifest.
type VoiceoverAsset struct {
	ID        string             `json:"id"`
	ProjectID string             `json:"projectId"`
	JobID     string             `json:"jobId"`
	Metadata  VoiceoverMetadata  `json:"metadata"`
	Segments  []VoiceoverSegment `json:"segments"`
	KeyPrefix string             `json:"keyPrefix"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// AudioKeys lists segment tracks in order.
func (a *VoiceoverAsset) AudioKeys() []string {
	keys := make([]string, 0, len(a.Segments))
	for _, s := range a.Segments {
		keys = append(keys, s.AudioKey)
	}
	return keys
}

// RenderInput names the keys a render consumed.
type RenderInput struct {
	OriginalVideoKey string `json:"originalVideoKey"`
	VoiceoverKey     string `json:"voiceoverKey"`
}

// RenderOutput names the produced video.
type RenderOutput struct {
	RenderedVideoKey string `json:"renderedVideoKey"`
	Format           string `json:"format"`
}

// RenderMetadata is probed from the produced video.
type RenderMetadata struct {
	DurationSeconds float64 `json:"durationSeconds"`
	Resolution      string  `json:"resolution"`
	FPS             float64 `json:"fps"`
}

// RenderedAsset describes a finished render.
type RenderedAsset struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"projectId"`
	JobID     string         `json:"jobId"`
	Input     RenderInput    `json:"input"`
	Output    RenderOutput   `json:"output"`
	Metadata  RenderMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

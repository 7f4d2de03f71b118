package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the pipeline position of a Job Record.
type JobStatus string

const (
	JobUploaded       JobStatus = "UPLOADED"
	JobAudioExtracted JobStatus = "AUDIO_EXTRACTED"
	JobTranscribed    JobStatus = "TRANSCRIBED"
	JobScriptImproved JobStatus = "SCRIPT_IMPROVED"
	JobVoiceGenerated JobStatus = "VOICE_GENERATED"
	JobVideoMerged    JobStatus = "VIDEO_MERGED"
	JobCompleted      JobStatus = "COMPLETED"
	JobFailed         JobStatus = "FAILED"
)

// transitions lists every reachable next status. COMPLETED is entered at the
// transcript checkpoint and again after the bonus stages; FAILED is only
// reachable before the checkpoint.
var transitions = map[JobStatus][]JobStatus{
	JobUploaded:       {JobAudioExtracted, JobFailed},
	JobAudioExtracted: {JobTranscribed, JobFailed},
	JobTranscribed:    {JobCompleted, JobScriptImproved, JobFailed},
	JobCompleted:      {JobScriptImproved, JobVoiceGenerated},
	JobScriptImproved: {JobVoiceGenerated, JobCompleted},
	JobVoiceGenerated: {JobVideoMerged, JobCompleted},
	JobVideoMerged:    {JobCompleted},
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobUploaded, JobAudioExtracted, JobTranscribed, JobScriptImproved,
		JobVoiceGenerated, JobVideoMerged, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no pipeline work is expected after s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether a record in from may be moved to to.
// Re-asserting the current status is always allowed.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the durable state of one upload-to-video pipeline run.
type Job struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	ProjectID         string    `json:"project_id,omitempty"`
	InputUploadID     uuid.UUID `json:"input_upload_id"`
	InputVideoKey     string    `json:"input_video_key"`
	Status            JobStatus `json:"status"`
	AudioKey          string    `json:"audio_key,omitempty"`
	TranscriptKey     string    `json:"transcript_key,omitempty"`
	ImprovedScriptKey string    `json:"improved_script_key,omitempty"`
	VoiceKey          string    `json:"voice_key,omitempty"`
	FinalVideoKey     string    `json:"final_video_key,omitempty"`
	DurationSeconds   float64   `json:"duration_seconds,omitempty"`
	Resolution        string    `json:"resolution,omitempty"`
	FPS               float64   `json:"fps,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Clone returns an independent copy.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// Stage names a stage worker that can be triggered on its own.
type Stage string

const (
	StageAudioExtraction   Stage = "audio-extraction"
	StageTranscription     Stage = "transcription"
	StageScriptImprovement Stage = "script-improvement"
	StageVoiceover         Stage = "voiceover"
	StageVideoRender       Stage = "video-render"
)

// Stages in pipeline order.
var Stages = []Stage{
	StageAudioExtraction,
	StageTranscription,
	StageScriptImprovement,
	StageVoiceover,
	StageVideoRender,
}

// ParseStage maps a path parameter to a Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// RequiredStatus is the exact predecessor status a manual trigger needs.
func (s Stage) RequiredStatus() JobStatus {
	switch s {
	case StageAudioExtraction:
		return JobUploaded
	case StageTranscription:
		return JobAudioExtracted
	case StageScriptImprovement:
		return JobTranscribed
	case StageVoiceover:
		return JobScriptImproved
	case StageVideoRender:
		return JobVoiceGenerated
	}
	return ""
}

// ResultStatus is the status written once the stage has stored its artifact.
func (s Stage) ResultStatus() JobStatus {
	switch s {
	case StageAudioExtraction:
		return JobAudioExtracted
	case StageTranscription:
		return JobTranscribed
	case StageScriptImprovement:
		return JobScriptImproved
	case StageVoiceover:
		return JobVoiceGenerated
	case StageVideoRender:
		return JobVideoMerged
	}
	return ""
}

// Primary reports whether a failure of s fails the job.
func (s Stage) Primary() bool {
	return s == StageAudioExtraction || s == StageTranscription
}

// JobEvent is published on every status write.
type JobEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// EventFor builds the event describing j's current state.
func EventFor(j *Job) JobEvent {
	return JobEvent{JobID: j.ID, Status: j.Status, ErrorMessage: j.ErrorMessage, At: j.UpdatedAt}
}

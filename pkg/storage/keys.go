package storage

import (
	"fmt"
	"path"
	"strings"
)

const (
	// RootPrefix is the domain segment shared by every artifact key.
	RootPrefix = "clueso"

	FolderUploads     = "uploads"
	FolderAudio       = "audio"
	FolderTranscripts = "transcripts"
	FolderScripts     = "scripts"
	FolderVoiceovers  = "voiceovers"
	FolderRenders     = "rendered-videos"
)

// Allowed upload MIME types and the extension stored with the object.
var (
	AllowedVideoTypes = map[string]string{
		"video/mp4":        ".mp4",
		"video/quicktime":  ".mov",
		"video/webm":       ".webm",
		"video/x-matroska": ".mkv",
		"video/x-msvideo":  ".avi",
	}
	AllowedVideoExtensions = map[string]string{
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".webm": "video/webm",
		".mkv":  "video/x-matroska",
		".avi":  "video/x-msvideo",
	}
)

// ValidateVideoFileType returns true if the content type or filename extension is an accepted video format.
func ValidateVideoFileType(contentType, filename string) bool {
	if contentType != "" {
		if _, ok := AllowedVideoTypes[strings.ToLower(contentType)]; ok {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(filename))
	_, ok := AllowedVideoExtensions[ext]
	return ok
}

// VideoExtension picks the stored extension for an upload, preferring the filename's own.
func VideoExtension(contentType, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := AllowedVideoExtensions[ext]; ok {
		return ext
	}
	if e, ok := AllowedVideoTypes[strings.ToLower(contentType)]; ok {
		return e
	}
	return ".mp4"
}

// UploadKey returns clueso/uploads/{user_id}/{upload_id}{ext}.
func UploadKey(userID, uploadID, ext string) string {
	return path.Join(RootPrefix, FolderUploads, userID, uploadID+ext)
}

// AudioKey returns clueso/audio/{user_id}/{job_id}.wav.
func AudioKey(userID, jobID string) string {
	return path.Join(RootPrefix, FolderAudio, userID, jobID+".wav")
}

// TranscriptKey returns clueso/transcripts/{user_id}/{job_id}.json.
func TranscriptKey(userID, jobID string) string {
	return path.Join(RootPrefix, FolderTranscripts, userID, jobID+".json")
}

// ImprovedScriptKey returns clueso/scripts/{user_id}/{job_id}.json.
func ImprovedScriptKey(userID, jobID string) string {
	return path.Join(RootPrefix, FolderScripts, userID, jobID+".json")
}

// VoiceoverPrefix returns the folder holding a job's voiceover segments, with a trailing slash.
func VoiceoverPrefix(userID, jobID string) string {
	return path.Join(RootPrefix, FolderVoiceovers, userID, jobID) + "/"
}

// VoiceSegmentKey returns clueso/voiceovers/{user_id}/{job_id}/segment_{n}.wav.
func VoiceSegmentKey(userID, jobID string, index int) string {
	return path.Join(RootPrefix, FolderVoiceovers, userID, jobID, fmt.Sprintf("segment_%d.wav", index))
}

// VoiceoverManifestKey returns clueso/voiceovers/{user_id}/{job_id}/voiceover.json.
func VoiceoverManifestKey(userID, jobID string) string {
	return path.Join(RootPrefix, FolderVoiceovers, userID, jobID, "voiceover.json")
}

// FinalVideoKey returns clueso/rendered-videos/{user_id}/{job_id}/final.mp4.
func FinalVideoKey(userID, jobID string) string {
	return path.Join(RootPrefix, FolderRenders, userID, jobID, "final.mp4")
}

// Package media builds ffmpeg/ffprobe invocations and parses their output.
package media

import (
	"fmt"
	"os"
	"strings"
)

// ExtractAudioArgs strips the video stream and resamples to mono 16 kHz PCM.
func ExtractAudioArgs(videoPath, audioPath string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	}
}

// MuxVoiceoverArgs copies the first video stream of videoPath and replaces
// its audio with audioPath, re-encoded as AAC and cut to the shorter input.
func MuxVoiceoverArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outPath,
	}
}

// ConcatAudioArgs joins the tracks listed in listPath with the concat demuxer.
func ConcatAudioArgs(listPath, outPath string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}
}

// ConcatList renders a concat demuxer list for paths, in order.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// WriteConcatList writes ConcatList(paths) to listPath.
func WriteConcatList(listPath string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("concat list: no inputs")
	}
	return os.WriteFile(listPath, []byte(ConcatList(paths)), 0o600)
}

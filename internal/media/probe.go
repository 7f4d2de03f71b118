package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrProbeOutput is returned when ffprobe output cannot be interpreted.
var ErrProbeOutput = errors.New("unreadable ffprobe output")

// ProbeArgs asks ffprobe for the first video stream's geometry, frame rate and duration as JSON.
func ProbeArgs(videoPath string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,duration:format=duration",
		"-of", "json",
		videoPath,
	}
}

// VideoInfo is the probed shape of a rendered video.
type VideoInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	FPS             float64
}

// Resolution formats the frame size as WxH.
func (v VideoInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbe reads ffprobe JSON. Stream duration wins over container duration.
func ParseProbe(data []byte) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %v", ErrProbeOutput, err)
	}
	if len(out.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("%w: no video stream", ErrProbeOutput)
	}
	s := out.Streams[0]
	info := VideoInfo{
		Width:  s.Width,
		Height: s.Height,
		FPS:    ParseFrameRate(s.AvgFrameRate),
	}
	info.DurationSeconds = parseFloat(s.Duration)
	if info.DurationSeconds == 0 {
		info.DurationSeconds = parseFloat(out.Format.Duration)
	}
	return info, nil
}

// ParseFrameRate converts "30000/1001" style rates, rounded to two decimals. Unparseable rates give 0.
func ParseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return math.Round(n/d*100) / 100
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

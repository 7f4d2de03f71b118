// Package transcript checks speech-to-text output and builds the stored transcript document.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clueso-studio/backend/internal/models"
)

const (
	// MinLength is the shortest accepted transcript, in characters after trimming.
	MinLength = 10
	// MaxRepetitionRatio above which a transcript is flagged as low quality.
	MaxRepetitionRatio = 0.5
	// ErrorSentinel prefixes transcripts that report a tool-side failure.
	ErrorSentinel = "ERROR:"
	// UnknownLanguage is used when stderr carries no language marker.
	UnknownLanguage = "unknown"
)

var (
	ErrTooShort      = errors.New("transcript too short")
	ErrToolReported  = errors.New("transcription tool reported an error")
	ErrEmptyDocument = errors.New("transcript document has no text")
)

var languageRe = regexp.MustCompile(`Detected language: (\w+)`)

// Report is the verdict and statistics for one transcript.
type Report struct {
	Text            string
	Length          int
	WordCount       int
	UniqueWordCount int
	RepetitionRatio float64
	HighRepetition  bool
}

// Validate is a pure function of raw: the same input always yields the same report and error.
// High repetition is reported but does not fail validation.
func Validate(raw string) (Report, error) {
	text := strings.TrimSpace(raw)
	r := Report{Text: text, Length: utf8.RuneCountInString(text)}
	if r.Length < MinLength {
		return r, fmt.Errorf("%w: %d chars, audio may be silent or invalid", ErrTooShort, r.Length)
	}
	if strings.HasPrefix(text, ErrorSentinel) {
		return r, fmt.Errorf("%w: %s", ErrToolReported, text)
	}

	words := strings.Fields(text)
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	r.WordCount = len(words)
	r.UniqueWordCount = len(unique)
	if r.WordCount > 0 {
		r.RepetitionRatio = round(1-float64(r.UniqueWordCount)/float64(r.WordCount), 3)
	}
	r.HighRepetition = r.RepetitionRatio > MaxRepetitionRatio
	return r, nil
}

// DetectLanguage extracts the language reported on the tool's stderr.
func DetectLanguage(stderr string) string {
	if m := languageRe.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	return UnknownLanguage
}

// BuildDocument assembles the stored document from a passing report.
func BuildDocument(r Report, language string, at time.Time) models.TranscriptDocument {
	return models.TranscriptDocument{
		Text:            r.Text,
		Language:        language,
		Length:          r.Length,
		WordCount:       r.WordCount,
		UniqueWordCount: r.UniqueWordCount,
		RepetitionRatio: r.RepetitionRatio,
		GeneratedAt:     at.UTC(),
		Segments:        []models.TranscriptSegment{},
	}
}

// ParseDocument reads a stored transcript. Objects that are not a JSON
// document are treated as plain transcript text.
func ParseDocument(data []byte) (models.TranscriptDocument, error) {
	var doc models.TranscriptDocument
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &doc) == nil {
		if strings.TrimSpace(doc.Text) == "" && len(doc.Segments) == 0 {
			return doc, ErrEmptyDocument
		}
		if doc.WordCount == 0 {
			doc.WordCount = len(strings.Fields(doc.Text))
		}
		if doc.Length == 0 {
			doc.Length = utf8.RuneCountInString(doc.Text)
		}
		if doc.Language == "" {
			doc.Language = UnknownLanguage
		}
		return doc, nil
	}
	if trimmed == "" {
		return doc, ErrEmptyDocument
	}
	return models.TranscriptDocument{
		Text:      trimmed,
		Language:  UnknownLanguage,
		Length:    utf8.RuneCountInString(trimmed),
		WordCount: len(strings.Fields(trimmed)),
	}, nil
}

// Segments returns the document's timed spans, or one span holding the whole text.
func Segments(doc models.TranscriptDocument) []models.TranscriptSegment {
	if len(doc.Segments) > 0 {
		return doc.Segments
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	return []models.TranscriptSegment{{StartTime: 0, EndTime: 0, Text: strings.TrimSpace(doc.Text)}}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clueso-studio/backend/internal/models"
)

func TestValidateLengthBoundary(t *testing.T) {
	_, err := Validate("abcdefghij")
	assert.NoError(t, err)

	_, err = Validate("abcdefghi")
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = Validate("   abcdefghi \n")
	assert.ErrorIs(t, err, ErrTooShort, "length is measured after trimming")
}

func TestValidateCountsCharactersNotBytes(t *testing.T) {
	_, err := Validate("ééééééééé")
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestValidateErrorSentinel(t *testing.T) {
	_, err := Validate("ERROR: model file missing")
	assert.ErrorIs(t, err, ErrToolReported)
	assert.Contains(t, err.Error(), "model file missing")
}

func TestValidateRepetitionIsSoft(t *testing.T) {
	r, err := Validate(strings.Repeat("again ", 20))
	require.NoError(t, err)
	assert.True(t, r.HighRepetition)
	assert.Equal(t, 20, r.WordCount)
	assert.Equal(t, 1, r.UniqueWordCount)
	assert.Equal(t, 0.95, r.RepetitionRatio)
}

func TestValidateIsDeterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog the end"
	a, errA := Validate(text)
	b, errB := Validate(text)
	assert.Equal(t, a, b)
	assert.Equal(t, errA, errB)
	assert.Equal(t, 0.182, a.RepetitionRatio)
	assert.False(t, a.HighRepetition)
}

func TestValidateNoRepetition(t *testing.T) {
	words := make([]string, 500)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	r, err := Validate(strings.Join(words, " "))
	require.NoError(t, err)
	assert.Equal(t, 500, r.WordCount)
	assert.Zero(t, r.RepetitionRatio)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "English", DetectLanguage("Loading model\nDetected language: English\n"))
	assert.Equal(t, UnknownLanguage, DetectLanguage("no marker"))
}

func TestBuildAndParseDocument(t *testing.T) {
	r, err := Validate("hello there general kenobi")
	require.NoError(t, err)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := BuildDocument(r, "en", at)
	assert.Equal(t, 4, doc.WordCount)
	assert.Equal(t, at, doc.GeneratedAt)

	parsed, err := ParseDocument([]byte(`{"text":"hello there general kenobi","language":"en","wordCount":4}`))
	require.NoError(t, err)
	assert.Equal(t, "en", parsed.Language)
	assert.Equal(t, 26, parsed.Length)
}

func TestParseDocumentPlainText(t *testing.T) {
	doc, err := ParseDocument([]byte("  just words here \n"))
	require.NoError(t, err)
	assert.Equal(t, "just words here", doc.Text)
	assert.Equal(t, 3, doc.WordCount)
	assert.Equal(t, UnknownLanguage, doc.Language)

	_, err = ParseDocument([]byte("   "))
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestSegmentsFallsBackToWholeText(t *testing.T) {
	segs := Segments(models.TranscriptDocument{Text: " all of it "})
	require.Len(t, segs, 1)
	assert.Equal(t, "all of it", segs[0].Text)

	assert.Nil(t, Segments(models.TranscriptDocument{}))

	timed := []models.TranscriptSegment{{StartTime: 0, EndTime: 1, Text: "a"}, {StartTime: 1, EndTime: 2, Text: "b"}}
	assert.Equal(t, timed, Segments(models.TranscriptDocument{Text: "a b", Segments: timed}))
}

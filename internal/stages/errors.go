package stages

import (
	"errors"
	"fmt"

	"github.com/clueso-studio/backend/internal/models"
)

// Error kinds. A stage error matches its kind with errors.Is.
var (
	ErrInput      = errors.New("invalid stage input")
	ErrStorage    = errors.New("artifact storage failure")
	ErrTool       = errors.New("external tool failure")
	ErrValidation = errors.New("output validation failure")
)

// ErrNoAudioTrack is returned when extraction produced no audio.
var ErrNoAudioTrack = errors.New("no audio track found in video")

// Error is a failure of one stage worker.
type Error struct {
	Stage models.Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func stageErr(stage models.Stage, kind error, format string, args ...any) error {
	return &Error{Stage: stage, Kind: kind, Err: fmt.Errorf(format, args...)}
}

package minutes

import (
	"errors"
	"fmt"
)

// Stage names one step of the pipeline. Every failure carries the stage it
// happened in so that error embeds and logs can report where a run died.
type Stage string

const (
	StageDetection     Stage = "detection"
	StageAcquisition   Stage = "acquisition"
	StageTranscription Stage = "transcription"
	StageMerge         Stage = "merge"
	StageGeneration    Stage = "generation"
	StagePublish       Stage = "publish"
	StageDriveWatch    Stage = "drive-watch"
	StageConfig        Stage = "config"
)

// Sentinel failure kinds. Stage errors wrap one of these so callers can
// classify with errors.Is without depending on message text.
var (
	// ErrDetection marks a panel-edit payload that could not be parsed.
	ErrDetection = errors.New("detection failure")

	// ErrAcquisition marks transport, format, or mapping failures while
	// obtaining speaker audio.
	ErrAcquisition = errors.New("acquisition failure")

	// ErrAcquisitionTimeout marks an expired cook/download deadline.
	// It wraps ErrAcquisition, so errors.Is against either kind matches.
	ErrAcquisitionTimeout = fmt.Errorf("%w: deadline exceeded", ErrAcquisition)

	// ErrTranscription marks recognition failures (missing or corrupt
	// audio, runtime errors in the model).
	ErrTranscription = errors.New("transcription failure")

	// ErrAcceleratorOOM is the distinguished out-of-memory subkind of
	// ErrTranscription. Never retried; surfaced immediately.
	ErrAcceleratorOOM = fmt.Errorf("%w: accelerator out of memory", ErrTranscription)

	// ErrMerge marks an empty transcript set reaching the merge step.
	ErrMerge = errors.New("merge failure")

	// ErrGeneration marks LLM failures, including empty responses.
	ErrGeneration = errors.New("generation failure")

	// ErrPublish marks failures posting to the output channel.
	ErrPublish = errors.New("publish failure")

	// ErrDriveWatch marks cloud-folder polling or download failures.
	ErrDriveWatch = errors.New("drive watch failure")

	// ErrConfig marks invalid configuration. Fatal at startup only.
	ErrConfig = errors.New("configuration error")

	// ErrTriggerRefused reports a trigger that was declined without a
	// run: the recording id is already active or the service is shutting
	// down. Not a terminal outcome; the trigger may be retried later.
	ErrTriggerRefused = errors.New("trigger refused")
)

// Error is a stage-tagged pipeline failure. It wraps a sentinel kind (and
// usually an underlying cause) so both errors.Is classification and stage
// reporting work off a single value.
type Error struct {
	Stage Stage
	Kind  error
	Err   error
}

// Errorf builds a stage-tagged Error wrapping kind with a formatted message.
func Errorf(stage Stage, kind error, format string, args ...any) *Error {
	return &Error{Stage: stage, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapErr tags an existing error with a stage and kind. Returns nil when
// err is nil.
func WrapErr(stage Stage, kind error, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap exposes both the sentinel kind and the underlying cause to
// errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StageOf extracts the stage tag from err, or "unknown" when err carries none.
func StageOf(err error) Stage {
	var se *Error
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}

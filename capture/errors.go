package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionUnavailable reports that the capture cannot be opened or the
	// connection to a capture server is lost. It is fatal to an analysis run.
	ErrSessionUnavailable = errors.New("capture: session unavailable")

	// ErrStageDataAbsent reports that a stage has no reflection or
	// bindpoint data. It is not evidence of waste.
	ErrStageDataAbsent = errors.New("capture: stage data absent")

	// ErrSessionClosed reports a read from a closed session.
	ErrSessionClosed = errors.New("capture: session closed")

	// ErrUnknownProvider reports a target whose scheme has no registered
	// provider.
	ErrUnknownProvider = errors.New("capture: unknown provider")
)

// CaptureReadError reports that the data of one event could not be read.
// The analysis skips the affected draw and keeps going.
type CaptureReadError struct {
	Event EventID
	// Stage is meaningful only when HasStage is set.
	Stage    ShaderStage
	HasStage bool
	Op       string
	Err      error
}

// NewReadError returns a CaptureReadError for an event-level read.
func NewReadError(op string, event EventID, err error) *CaptureReadError {
	return &CaptureReadError{Event: event, Op: op, Err: err}
}

// NewStageReadError returns a CaptureReadError for a stage-level read.
func NewStageReadError(op string, event EventID, stage ShaderStage, err error) *CaptureReadError {
	return &CaptureReadError{Event: event, Stage: stage, HasStage: true, Op: op, Err: err}
}

func (e *CaptureReadError) Error() string {
	if e.HasStage {
		return fmt.Sprintf("capture: %s event %d stage %s: %v", e.Op, e.Event, e.Stage, e.Err)
	}
	return fmt.Sprintf("capture: %s event %d: %v", e.Op, e.Event, e.Err)
}

func (e *CaptureReadError) Unwrap() error { return e.Err }

// IsReadError reports whether err contains a *CaptureReadError.
func IsReadError(err error) bool {
	var re *CaptureReadError
	return errors.As(err, &re)
}

// Unavailable wraps err as ErrSessionUnavailable. A nil err yields nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrSessionUnavailable, op, err)
}

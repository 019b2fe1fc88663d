package capture

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownAngle = errors.New("unknown angle")
	// ErrSessionActive is returned when a capture is started while another
	// session is still open.
	ErrSessionActive = errors.New("a capture session is already open")
	ErrNoSession     = errors.New("no capture session is open")
	ErrInvalidState  = errors.New("invalid session state")
	ErrClosed        = errors.New("capture closed")

	// ErrSubmissionInProgress is returned when the capture set is changed or
	// submitted again while a submission is in flight.
	ErrSubmissionInProgress = errors.New("a submission is in progress")
)

// DevicePermissionError means the camera could not be acquired for an angle.
// It is local to the session and recoverable with a retry.
type DevicePermissionError struct {
	Angle Angle
	Err   error
}

func (e *DevicePermissionError) Error() string {
	return fmt.Sprintf("camera unavailable for %s: %v", e.Angle, e.Err)
}

func (e *DevicePermissionError) Unwrap() error { return e.Err }

// Message is the text shown to the user next to the retry action.
func (e *DevicePermissionError) Message() string {
	return "We couldn't access your camera. Allow camera access and try again."
}

// IncompleteCaptureError is returned when a submission is attempted before
// every angle has an artifact.
type IncompleteCaptureError struct {
	Missing []Angle
}

func (e *IncompleteCaptureError) Error() string {
	names := make([]string, len(e.Missing))
	for i, a := range e.Missing {
		names[i] = string(a)
	}
	return fmt.Sprintf("missing photos: %s", strings.Join(names, ", "))
}

// Encoding stages.
const (
	StageFrame     = "frame"
	StageImage     = "image"
	StagePreview   = "preview"
	StageTransport = "transport"
)

// EncodingError means an angle's image could not be produced or encoded.
// The affected angle is treated as absent and must be captured again.
type EncodingError struct {
	Angle Angle
	Stage string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode %s photo (%s): %v", e.Angle, e.Stage, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// SubmissionError wraps a rejection from the submission target.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission rejected: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

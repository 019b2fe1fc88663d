// Package media is the device-media-access primitive used by capture sessions.
// A Device hands out at most one live video Stream per request; the holder of
// a Stream must Release it.
package media

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrPermissionDenied is returned when the user refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoDevice is returned when no camera can be opened.
	ErrNoDevice = errors.New("no camera device available")
	// ErrDeviceBusy is returned when the camera stayed held until the request
	// was abandoned.
	ErrDeviceBusy = errors.New("camera is in use")
	// ErrStreamReleased is returned by Frame after Release.
	ErrStreamReleased = errors.New("stream released")
)

// Facing selects which physical camera is preferred.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Constraints describes the stream a caller would like. Width and Height are
// ideal values; the device may deliver a different native resolution.
type Constraints struct {
	Facing Facing
	Width  int
	Height int
}

// DefaultConstraints prefers the rear camera at 1280x720.
func DefaultConstraints() Constraints {
	return Constraints{Facing: FacingEnvironment, Width: 1280, Height: 720}
}

// Settings reports what a stream actually delivers.
type Settings struct {
	DeviceID string
	Facing   Facing
	Width    int
	Height   int
}

type Device interface {
	// RequestVideoStream blocks until the stream is available, access is
	// refused, or ctx is done.
	RequestVideoStream(ctx context.Context, c Constraints) (Stream, error)
}

type Stream interface {
	// Frame returns the current live frame at the stream's native resolution.
	Frame(ctx context.Context) (image.Image, error)
	Settings() Settings
	// Release frees the underlying camera. It is safe to call more than once.
	Release() error
}

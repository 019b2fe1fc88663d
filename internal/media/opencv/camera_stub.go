//go:build !gocv

package opencv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vbonduro/rideshare/internal/media"
)

// Supported reports whether this build can open OpenCV cameras.
const Supported = false

// Camera is unavailable in builds without the gocv tag.
type Camera struct{}

// New returns an error when built without the gocv tag.
func New(index int, logger *slog.Logger) (*Camera, error) {
	return nil, fmt.Errorf("opencv camera support not built in (rebuild with -tags gocv)")
}

func (c *Camera) RequestVideoStream(ctx context.Context, cons media.Constraints) (media.Stream, error) {
	return nil, media.ErrNoDevice
}

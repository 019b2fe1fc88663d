//go:build gocv

// Package opencv opens a local webcam through OpenCV.
package opencv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/vbonduro/rideshare/internal/media"
)

// Supported reports whether this build can open OpenCV cameras.
const Supported = true

type Camera struct {
	index  int
	logger *slog.Logger
}

// New returns a camera bound to the OpenCV device index. The index is chosen
// by configuration; OpenCV cannot tell front from rear cameras.
func New(index int, logger *slog.Logger) (*Camera, error) {
	return &Camera{index: index, logger: logger}, nil
}

func (c *Camera) RequestVideoStream(ctx context.Context, cons media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(c.index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrNoDevice, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: device %d did not open", media.ErrNoDevice, c.index)
	}

	if cons.Width > 0 && cons.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cons.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cons.Height))
	}

	settings := media.Settings{
		DeviceID: fmt.Sprintf("opencv-%d", c.index),
		Facing:   cons.Facing,
		Width:    int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:   int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}
	c.logger.Info("camera opened", "device", settings.DeviceID, "width", settings.Width, "height", settings.Height)

	return &stream{vc: vc, settings: settings, logger: c.logger}, nil
}

type stream struct {
	settings media.Settings
	logger   *slog.Logger

	mu sync.Mutex
	vc *gocv.VideoCapture
}

func (s *stream) Settings() media.Settings { return s.settings }

func (s *stream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return nil, media.ErrStreamReleased
	}

	mat := gocv.NewMat()
	defer func() {
		if err := mat.Close(); err != nil {
			s.logger.Error("failed to close frame mat", "error", err)
		}
	}()

	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("failed to read frame from %s", s.settings.DeviceID)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

func (s *stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return nil
	}
	err := s.vc.Close()
	s.vc = nil
	s.logger.Info("camera released", "device", s.settings.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to close camera: %w", err)
	}
	return nil
}

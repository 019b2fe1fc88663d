// Package synthetic provides a software camera that renders a moving test
// pattern. It stands in for real hardware in test mode and in tests.
package synthetic

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/google/uuid"
	"github.com/vbonduro/rideshare/internal/media"
)

// Stats counts stream lifecycle events.
type Stats struct {
	Acquired int
	Released int
	Active   int
}

type Camera struct {
	width  int
	height int

	mu       sync.Mutex
	denyErr  error
	frameErr error
	gate     chan struct{}
	stats    Stats
	frames   int
}

// New returns a camera whose native resolution is width x height. A zero
// size makes the camera honour the requested ideal resolution.
func New(width, height int) *Camera {
	return &Camera{width: width, height: height}
}

// Deny makes subsequent requests fail with err. Pass nil to allow again.
func (c *Camera) Deny(err error) {
	c.mu.Lock()
	c.denyErr = err
	c.mu.Unlock()
}

// FailFrames makes Frame return err on every open stream. Pass nil to clear.
func (c *Camera) FailFrames(err error) {
	c.mu.Lock()
	c.frameErr = err
	c.mu.Unlock()
}

// Hold simulates an unanswered permission prompt: requests block until Grant
// is called or their context ends.
func (c *Camera) Hold() {
	c.mu.Lock()
	if c.gate == nil {
		c.gate = make(chan struct{})
	}
	c.mu.Unlock()
}

// Grant answers the pending permission prompt.
func (c *Camera) Grant() {
	c.mu.Lock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
	c.mu.Unlock()
}

func (c *Camera) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Camera) RequestVideoStream(ctx context.Context, cons media.Constraints) (media.Stream, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denyErr != nil {
		return nil, c.denyErr
	}

	w, h := c.width, c.height
	if w <= 0 || h <= 0 {
		w, h = cons.Width, cons.Height
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: no resolution requested", media.ErrNoDevice)
	}

	c.stats.Acquired++
	c.stats.Active++
	facing := cons.Facing
	if facing == "" {
		facing = media.FacingEnvironment
	}
	return &stream{
		cam: c,
		settings: media.Settings{
			DeviceID: "synthetic-" + uuid.NewString()[:8],
			Facing:   facing,
			Width:    w,
			Height:   h,
		},
	}, nil
}

type stream struct {
	cam      *Camera
	settings media.Settings

	mu       sync.Mutex
	released bool
}

func (s *stream) Settings() media.Settings { return s.settings }

func (s *stream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return nil, media.ErrStreamReleased
	}

	s.cam.mu.Lock()
	err := s.cam.frameErr
	s.cam.frames++
	n := s.cam.frames
	s.cam.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return pattern(s.settings.Width, s.settings.Height, n), nil
}

func (s *stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	s.cam.mu.Lock()
	s.cam.stats.Released++
	s.cam.stats.Active--
	s.cam.mu.Unlock()
	return nil
}

// pattern draws a diagonal gradient shifted by the frame number so successive
// frames differ.
func pattern(w, h, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(n * 17)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x*255/w) + shift,
				G: uint8(y*255/h) + shift,
				B: uint8((x+y)*255/(w+h)) ^ shift,
				A: 0xFF,
			})
		}
	}
	return img
}

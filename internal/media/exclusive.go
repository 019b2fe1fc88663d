package media

import (
	"context"
	"fmt"
	"sync"
)

// Exclusive guards a Device so that at most one stream, or one pending
// request, exists at a time. A request made while the camera is held waits
// for the holder to release it.
type Exclusive struct {
	dev  Device
	slot chan struct{}
}

func NewExclusive(dev Device) *Exclusive {
	return &Exclusive{dev: dev, slot: make(chan struct{}, 1)}
}

// RequestVideoStream waits for the camera to be free, then requests a stream
// from the wrapped device. If ctx ends while waiting the error wraps
// ErrDeviceBusy.
func (e *Exclusive) RequestVideoStream(ctx context.Context, c Constraints) (Stream, error) {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrDeviceBusy, ctx.Err())
	}

	s, err := e.dev.RequestVideoStream(ctx, c)
	if err != nil {
		e.free()
		return nil, err
	}
	return &exclusiveStream{Stream: s, owner: e}, nil
}

// Held reports whether a stream or request currently owns the camera.
func (e *Exclusive) Held() bool {
	return len(e.slot) == 1
}

func (e *Exclusive) free() {
	<-e.slot
}

type exclusiveStream struct {
	Stream
	owner *Exclusive
	once  sync.Once
}

func (s *exclusiveStream) Release() error {
	var err error
	s.once.Do(func() {
		err = s.Stream.Release()
		s.owner.free()
	})
	return err
}

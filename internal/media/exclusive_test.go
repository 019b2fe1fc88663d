package media_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/rideshare/internal/media"
	"github.com/vbonduro/rideshare/internal/media/synthetic"
)

func TestExclusiveSecondRequestWaitsForRelease(t *testing.T) {
	cam := synthetic.New(640, 480)
	ex := media.NewExclusive(cam)
	ctx := context.Background()

	first, err := ex.RequestVideoStream(ctx, media.DefaultConstraints())
	require.NoError(t, err)
	assert.True(t, ex.Held())

	got := make(chan media.Stream, 1)
	go func() {
		s, err := ex.RequestVideoStream(ctx, media.DefaultConstraints())
		assert.NoError(t, err)
		got <- s
	}()

	select {
	case <-got:
		t.Fatal("second stream granted while the first is held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, cam.Stats().Active)

	require.NoError(t, first.Release())

	var second media.Stream
	select {
	case second = <-got:
	case <-time.After(time.Second):
		t.Fatal("second request never granted")
	}
	require.NoError(t, second.Release())
	assert.False(t, ex.Held())

	stats := cam.Stats()
	assert.Equal(t, 2, stats.Acquired)
	assert.Equal(t, 2, stats.Released)
	assert.Equal(t, 0, stats.Active)
}

func TestExclusiveWaitHonoursContext(t *testing.T) {
	cam := synthetic.New(640, 480)
	ex := media.NewExclusive(cam)

	first, err := ex.RequestVideoStream(context.Background(), media.DefaultConstraints())
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ex.RequestVideoStream(ctx, media.DefaultConstraints())
	assert.ErrorIs(t, err, media.ErrDeviceBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, cam.Stats().Acquired)
}

func TestExclusiveReleaseTwiceFreesOnce(t *testing.T) {
	cam := synthetic.New(640, 480)
	ex := media.NewExclusive(cam)

	s, err := ex.RequestVideoStream(context.Background(), media.DefaultConstraints())
	require.NoError(t, err)
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())

	assert.Equal(t, 1, cam.Stats().Released)
}

func TestExclusiveFailedRequestFreesCamera(t *testing.T) {
	cam := synthetic.New(640, 480)
	cam.Deny(media.ErrPermissionDenied)
	ex := media.NewExclusive(cam)

	_, err := ex.RequestVideoStream(context.Background(), media.DefaultConstraints())
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.False(t, ex.Held())
}

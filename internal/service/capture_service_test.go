package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/rideshare/internal/backend"
	"github.com/vbonduro/rideshare/internal/capture"
	"github.com/vbonduro/rideshare/internal/db"
	"github.com/vbonduro/rideshare/internal/domain"
	"github.com/vbonduro/rideshare/internal/media"
	"github.com/vbonduro/rideshare/internal/media/synthetic"
	"github.com/vbonduro/rideshare/internal/photostore"
	"github.com/vbonduro/rideshare/internal/store"
)

const waitFor = 3 * time.Second
const pollEvery = 5 * time.Millisecond

var corolla = domain.VehicleAttributes{
	Make:         "Toyota",
	Model:        "Corolla",
	Year:         2021,
	Color:        "Silver",
	LicensePlate: "ABC-1234",
	Seats:        5,
	VehicleType:  "sedan",
}

// stubPhotoStore is a minimal in-memory photostore.PhotoStore for tests.
type stubPhotoStore struct {
	mu    sync.Mutex
	n     int
	saved map[string][]byte
}

func newStubPhotoStore() *stubPhotoStore {
	return &stubPhotoStore{saved: make(map[string][]byte)}
}

func (s *stubPhotoStore) Save(_ context.Context, prefix, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	key := fmt.Sprintf("%s_%d.jpg", prefix, s.n)
	s.saved[key] = data
	return key, nil
}

func (s *stubPhotoStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.saved[key]
	if !ok {
		return nil, "", photostore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

func (s *stubPhotoStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[key]; !ok {
		return photostore.ErrNotFound
	}
	delete(s.saved, key)
	return nil
}

func (s *stubPhotoStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// stubBackend records what each flow kind dispatched.
type stubBackend struct {
	mu       sync.Mutex
	err      error
	created  []*capture.VehicleSubmission
	updated  map[string]*capture.VehicleSubmission
	verified map[string]*capture.VehicleSubmission
	vehicles []domain.Vehicle
	deleted  []string

	// hold, when set, parks CreateVehicle after signalling entered.
	hold    chan struct{}
	entered chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		updated:  make(map[string]*capture.VehicleSubmission),
		verified: make(map[string]*capture.VehicleSubmission),
	}
}

func (b *stubBackend) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// pause makes the next CreateVehicle block until release is called.
func (b *stubBackend) pause() (entered <-chan struct{}, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	hold := b.hold
	return b.entered, func() { close(hold) }
}

func (b *stubBackend) CreateVehicle(_ context.Context, sub *capture.VehicleSubmission) (*domain.Vehicle, error) {
	b.mu.Lock()
	hold, entered := b.hold, b.entered
	b.hold, b.entered = nil, nil
	b.mu.Unlock()
	if hold != nil {
		entered <- struct{}{}
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.created = append(b.created, sub)
	return &domain.Vehicle{ID: fmt.Sprintf("veh-%d", len(b.created)), Make: sub.Make, Model: sub.Model}, nil
}

func (b *stubBackend) UpdateVehicle(_ context.Context, id string, sub *capture.VehicleSubmission) (*domain.Vehicle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.updated[id] = sub
	return &domain.Vehicle{ID: id, Make: sub.Make, Model: sub.Model}, nil
}

func (b *stubBackend) UpdateVerificationSession(_ context.Context, id string, sub *capture.VehicleSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.verified[id] = sub
	return nil
}

func (b *stubBackend) ListVehicles(_ context.Context) ([]domain.Vehicle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vehicles, b.err
}

func (b *stubBackend) DeleteVehicle(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.deleted = append(b.deleted, id)
	return nil
}

type testEnv struct {
	svc         *CaptureService
	cam         *synthetic.Camera
	backend     *stubBackend
	photoStg    *stubPhotoStore
	sets        *store.CaptureSetStore
	photos      *store.PhotoStore
	submissions *store.SubmissionStore
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	env := &testEnv{
		cam:         synthetic.New(64, 48),
		backend:     newStubBackend(),
		photoStg:    newStubPhotoStore(),
		sets:        store.NewCaptureSetStore(d),
		photos:      store.NewPhotoStore(d),
		submissions: store.NewSubmissionStore(d),
	}
	env.svc = env.newService(t, env.cam)
	return env
}

// newService builds a CaptureService over the env's database and preview
// store, as a restarted process would.
func (e *testEnv) newService(t *testing.T, cam *synthetic.Camera) *CaptureService {
	t.Helper()
	svc := NewCaptureService(
		e.sets,
		e.photos,
		e.submissions,
		e.backend,
		e.photoStg,
		media.NewExclusive(cam),
		capture.SessionConfig{TickInterval: time.Millisecond},
		discardLogger(),
	)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func (e *testEnv) captureAngle(t *testing.T, flowID string, angle capture.Angle) {
	t.Helper()
	require.NoError(t, e.svc.StartCapture(flowID, string(angle)))
	require.Eventually(t, func() bool {
		st, err := e.svc.Status(flowID)
		if err != nil || st.Session != nil {
			return false
		}
		for _, as := range st.Angles {
			if as.Angle == angle {
				return as.Captured
			}
		}
		return false
	}, waitFor, pollEvery, "angle %s never captured", angle)
}

func (e *testEnv) captureAll(t *testing.T, flowID string) {
	t.Helper()
	for _, angle := range capture.Angles() {
		e.captureAngle(t, flowID, angle)
	}
}

func TestBeginFlowValidation(t *testing.T) {
	tests := []struct {
		name   string
		kind   FlowKind
		target string
		ok     bool
	}{
		{"registration", FlowRegistration, "", true},
		{"registration with target", FlowRegistration, "veh-1", false},
		{"vehicle update", FlowVehicleUpdate, "veh-1", true},
		{"vehicle update without target", FlowVehicleUpdate, "", false},
		{"verification", FlowVerification, "vs-1", true},
		{"verification without target", FlowVerification, "", false},
		{"unknown kind", FlowKind("booking"), "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			st, err := env.svc.BeginFlow(context.Background(), tc.kind, tc.target)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidFlow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, st.Kind)
			assert.False(t, st.Complete)
			assert.Equal(t, capture.Angles(), st.Missing)
			require.Len(t, st.Angles, 4)
			assert.NotEmpty(t, st.Angles[0].Instruction)
			assert.True(t, st.Angles[0].Required)

			set, err := env.svc.Flow(context.Background(), st.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.CaptureSetOpen, set.Status)
			assert.Equal(t, tc.target, set.TargetID)
		})
	}
}

func TestRegistrationFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAll(t, st.ID)

	rows, err := env.photos.ListBySetID(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "front", rows[0].Angle)
	assert.Equal(t, 64, rows[0].Width)
	assert.Equal(t, 4, env.photoStg.len())

	status, err := env.svc.Status(st.ID)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Empty(t, status.Missing)

	res, err := env.svc.Submit(ctx, st.ID, corolla)
	require.NoError(t, err)
	require.NotNil(t, res.Vehicle)
	assert.Equal(t, "veh-1", res.Vehicle.ID)
	assert.Equal(t, domain.SubmissionSucceeded, res.Submission.Status)
	assert.Equal(t, "veh-1", res.Submission.VehicleID)

	require.Len(t, env.backend.created, 1)
	sub := env.backend.created[0]
	assert.Equal(t, corolla, sub.VehicleAttributes)
	assert.Len(t, sub.Images, 4)

	set, err := env.svc.Flow(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureSetSubmitted, set.Status)

	_, err = env.svc.Status(st.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)
	assert.Equal(t, 0, env.photoStg.len(), "previews freed after submission")
	rows, err = env.photos.ListBySetID(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	history, err := env.svc.Submissions(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, 0, env.cam.Stats().Active)
}

func TestSubmitBackendRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAll(t, st.ID)

	env.backend.setErr(&backend.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "License plate already registered"})
	_, err = env.svc.Submit(ctx, st.ID, corolla)

	var subErr *capture.SubmissionError
	require.ErrorAs(t, err, &subErr)
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "License plate already registered", apiErr.Message)

	status, err := env.svc.Status(st.ID)
	require.NoError(t, err, "flow stays open after a rejection")
	assert.True(t, status.Complete)

	env.backend.setErr(nil)
	_, err = env.svc.Submit(ctx, st.ID, corolla)
	require.NoError(t, err)

	history, err := env.svc.Submissions(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.SubmissionFailed, history[0].Status)
	assert.Contains(t, history[0].Error, "License plate already registered")
	assert.Equal(t, domain.SubmissionSucceeded, history[1].Status)
}

func TestSubmitIncompleteNeverReachesBackend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAngle(t, st.ID, capture.AngleFront)

	_, err = env.svc.Submit(ctx, st.ID, corolla)
	var incomplete *capture.IncompleteCaptureError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []capture.Angle{capture.AngleBack, capture.AngleLeft, capture.AngleRight}, incomplete.Missing)

	assert.Empty(t, env.backend.created)
	history, err := env.svc.Submissions(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestVehicleUpdateAndVerificationFlows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	upd, err := env.svc.BeginFlow(ctx, FlowVehicleUpdate, "veh-77")
	require.NoError(t, err)
	env.captureAll(t, upd.ID)
	res, err := env.svc.Submit(ctx, upd.ID, corolla)
	require.NoError(t, err)
	assert.Equal(t, "veh-77", res.Submission.VehicleID)
	assert.Contains(t, env.backend.updated, "veh-77")

	ver, err := env.svc.BeginFlow(ctx, FlowVerification, "vs-9")
	require.NoError(t, err)
	env.captureAll(t, ver.ID)
	res, err = env.svc.Submit(ctx, ver.ID, corolla)
	require.NoError(t, err)
	assert.Nil(t, res.Vehicle)
	require.Contains(t, env.backend.verified, "vs-9")
	assert.Len(t, env.backend.verified["vs-9"].Images, 4)
	assert.Empty(t, env.backend.created)
}

func TestRetakeUpdatesStoredPhoto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAll(t, st.ID)

	before, err := env.photos.Get(ctx, st.ID, "back")
	require.NoError(t, err)
	require.NotNil(t, before)

	require.NoError(t, env.svc.Retake(ctx, st.ID, "back"))
	gone, err := env.photos.Get(ctx, st.ID, "back")
	require.NoError(t, err)
	assert.Nil(t, gone)

	require.Eventually(t, func() bool {
		p, err := env.photos.Get(ctx, st.ID, "back")
		return err == nil && p != nil
	}, waitFor, pollEvery)
	after, err := env.photos.Get(ctx, st.ID, "back")
	require.NoError(t, err)
	assert.NotEqual(t, before.StorageKey, after.StorageKey)

	_, _, err = env.photoStg.Get(ctx, before.StorageKey)
	assert.ErrorIs(t, err, photostore.ErrNotFound)
}

func TestPermissionDeniedThenRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)

	env.cam.Deny(media.ErrPermissionDenied)
	require.NoError(t, env.svc.StartCapture(st.ID, "left"))

	var session *SessionStatus
	require.Eventually(t, func() bool {
		status, err := env.svc.Status(st.ID)
		if err != nil || status.Session == nil {
			return false
		}
		session = status.Session
		return session.State == "error"
	}, waitFor, pollEvery)
	assert.True(t, session.Retryable)
	assert.NotEmpty(t, session.Message)
	assert.Contains(t, session.Error, "permission denied")

	assert.ErrorIs(t, env.svc.StartCapture(st.ID, "front"), capture.ErrSessionActive)

	env.cam.Deny(nil)
	require.NoError(t, env.svc.RetrySession(st.ID))
	require.Eventually(t, func() bool {
		status, err := env.svc.Status(st.ID)
		return err == nil && status.Session == nil && status.Angles[2].Captured
	}, waitFor, pollEvery)
}

func TestCancelSession(t *testing.T) {
	env := newTestEnv(t)
	env.cam.Hold()
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	assert.ErrorIs(t, env.svc.CancelSession(st.ID), capture.ErrNoSession)

	require.NoError(t, env.svc.StartCapture(st.ID, "front"))
	require.NoError(t, env.svc.CancelSession(st.ID))
	env.cam.Grant()

	status, err := env.svc.Status(st.ID)
	require.NoError(t, err)
	assert.Nil(t, status.Session)
	assert.False(t, status.Angles[0].Captured)
	require.Eventually(t, func() bool { return env.cam.Stats().Active == 0 }, waitFor, pollEvery)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAngle(t, st.ID, capture.AngleRight)

	rc, mime, err := env.svc.Preview(ctx, st.ID, "right")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	_, _, err = env.svc.Preview(ctx, st.ID, "front")
	assert.ErrorIs(t, err, photostore.ErrNotFound)
	_, _, err = env.svc.Preview(ctx, st.ID, "roof")
	assert.ErrorIs(t, err, capture.ErrUnknownAngle)
	_, _, err = env.svc.Preview(ctx, "nope", "front")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestSubscribeStreamsUntilFinished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	events, cancel, err := env.svc.Subscribe(st.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, env.svc.StartCapture(st.ID, "front"))

	var kinds []string
	var countdowns []int
	timeout := time.After(waitFor)
	for stored := false; !stored; {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == "session" && ev.State == "live" {
				countdowns = append(countdowns, ev.Countdown)
			}
			stored = ev.Kind == "stored"
		case <-timeout:
			t.Fatalf("no stored event, got %v", kinds)
		}
	}
	assert.Equal(t, []int{5, 4, 3, 2, 1, 0}, countdowns)

	require.NoError(t, env.svc.Discard(ctx, st.ID))

	var last FlowEvent
	for ev := range events {
		last = ev
	}
	assert.Equal(t, FlowEventFinished, last.Kind)
	assert.Equal(t, domain.CaptureSetDiscarded, last.Status)
	assert.Equal(t, 0, env.svc.hub.subscribers(st.ID))

	_, _, err = env.svc.Subscribe(st.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestShutdownReleasesCamera(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAngle(t, st.ID, capture.AngleFront)

	env.cam.Hold()
	require.NoError(t, env.svc.StartCapture(st.ID, "back"))

	require.NoError(t, env.svc.Shutdown(ctx))
	env.cam.Grant()

	require.Eventually(t, func() bool { return env.cam.Stats().Active == 0 }, waitFor, pollEvery)
	assert.Equal(t, 0, env.photoStg.len())

	set, err := env.svc.Flow(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureSetDiscarded, set.Status)

	_, err = env.svc.BeginFlow(ctx, FlowRegistration, "")
	assert.ErrorIs(t, err, capture.ErrClosed)
}

func TestUnknownFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.svc.StartCapture("nope", "front"), ErrFlowNotFound)
	assert.ErrorIs(t, env.svc.CancelSession("nope"), ErrFlowNotFound)
	assert.ErrorIs(t, env.svc.Discard(ctx, "nope"), ErrFlowNotFound)
	_, err := env.svc.Submit(ctx, "nope", corolla)
	assert.ErrorIs(t, err, ErrFlowNotFound)
	_, err = env.svc.Flow(ctx, "nope")
	assert.ErrorIs(t, err, ErrFlowNotFound)
	_, err = env.svc.Submissions(ctx, "nope")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestVehicleService(t *testing.T) {
	b := newStubBackend()
	svc := NewVehicleService(b, discardLogger())
	ctx := context.Background()

	vehicles, err := svc.ListVehicles(ctx)
	require.NoError(t, err)
	assert.NotNil(t, vehicles)
	assert.Empty(t, vehicles)

	b.vehicles = []domain.Vehicle{{ID: "a", Make: "Honda"}}
	vehicles, err = svc.ListVehicles(ctx)
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)

	require.NoError(t, svc.DeleteVehicle(ctx, "a"))
	assert.Equal(t, []string{"a"}, b.deleted)

	b.setErr(errors.New("backend down"))
	assert.Error(t, svc.DeleteVehicle(ctx, "b"))
	_, err = svc.ListVehicles(ctx)
	assert.Error(t, err)
}

func TestOneSessionAcrossFlows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	b, err := env.svc.BeginFlow(ctx, FlowVehicleUpdate, "veh-3")
	require.NoError(t, err)
	env.captureAngle(t, b.ID, capture.AngleBack)

	env.cam.Hold()
	require.NoError(t, env.svc.StartCapture(a.ID, "front"))

	assert.ErrorIs(t, env.svc.StartCapture(b.ID, "front"), capture.ErrSessionActive)
	assert.ErrorIs(t, env.svc.Retake(ctx, b.ID, "back"), capture.ErrSessionActive)
	assert.ErrorIs(t, env.svc.RetrySession(b.ID), capture.ErrSessionActive)

	status, err := env.svc.Status(b.ID)
	require.NoError(t, err)
	assert.Nil(t, status.Session)
	kept, err := env.photos.Get(ctx, b.ID, "back")
	require.NoError(t, err)
	assert.NotNil(t, kept, "refused retake keeps the photo")

	require.NoError(t, env.svc.CancelSession(a.ID))
	env.cam.Grant()
	env.captureAngle(t, b.ID, capture.AngleFront)
}

func TestNoCaptureWhileSubmitting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAll(t, st.ID)
	before, err := env.photos.Get(ctx, st.ID, "back")
	require.NoError(t, err)
	require.NotNil(t, before)

	entered, release := env.backend.pause()
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Submit(ctx, st.ID, corolla)
		done <- err
	}()
	<-entered

	assert.ErrorIs(t, env.svc.Retake(ctx, st.ID, "back"), capture.ErrSubmissionInProgress)
	assert.ErrorIs(t, env.svc.StartCapture(st.ID, "front"), capture.ErrSubmissionInProgress)
	_, err = env.svc.Submit(ctx, st.ID, corolla)
	assert.ErrorIs(t, err, capture.ErrSubmissionInProgress)

	status, err := env.svc.Status(st.ID)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Nil(t, status.Session)

	release()
	require.NoError(t, <-done)
	require.Len(t, env.backend.created, 1)
	assert.Len(t, env.backend.created[0].Images, 4)

	history, err := env.svc.Submissions(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSubmitRefusedWhileSessionOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAll(t, st.ID)

	env.cam.Hold()
	require.NoError(t, env.svc.StartCapture(st.ID, "left"))
	_, err = env.svc.Submit(ctx, st.ID, corolla)
	assert.ErrorIs(t, err, capture.ErrSessionActive)
	assert.Empty(t, env.backend.created)

	require.NoError(t, env.svc.CancelSession(st.ID))
	env.cam.Grant()
}

func TestRecoverStaleAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.svc.BeginFlow(ctx, FlowRegistration, "")
	require.NoError(t, err)
	env.captureAngle(t, st.ID, capture.AngleFront)

	n, err := env.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "own active flows are kept")
	require.Equal(t, 1, env.photoStg.len())

	restarted := env.newService(t, synthetic.New(64, 48))
	n, err = restarted.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	set, err := restarted.Flow(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureSetDiscarded, set.Status)
	rows, err := env.photos.ListBySetID(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, env.photoStg.len(), "preview files freed")

	n, err = restarted.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/rideshare/internal/capture"
	"github.com/vbonduro/rideshare/internal/domain"
	"github.com/vbonduro/rideshare/internal/media"
	"github.com/vbonduro/rideshare/internal/photostore"
)

var (
	ErrFlowNotFound = errors.New("capture flow not found")
	ErrInvalidFlow  = errors.New("invalid capture flow")
)

// FlowKind selects where a finished capture set is submitted.
type FlowKind string

const (
	// FlowRegistration creates a new vehicle.
	FlowRegistration FlowKind = "registration"
	// FlowVehicleUpdate replaces the photos and attributes of an existing vehicle.
	FlowVehicleUpdate FlowKind = "vehicle_update"
	// FlowVerification attaches the vehicle to an identity verification session.
	FlowVerification FlowKind = "verification"
)

func ParseFlowKind(s string) (FlowKind, error) {
	switch k := FlowKind(s); k {
	case FlowRegistration, FlowVehicleUpdate, FlowVerification:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidFlow, s)
	}
}

// captureSetRepository is the subset of store.CaptureSetStore that CaptureService requires.
type captureSetRepository interface {
	Create(ctx context.Context, id, kind, targetID string) (*domain.CaptureSet, error)
	GetByID(ctx context.Context, id string) (*domain.CaptureSet, error)
	List(ctx context.Context, status string) ([]*domain.CaptureSet, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// capturedPhotoRepository is the subset of store.PhotoStore that CaptureService requires.
type capturedPhotoRepository interface {
	Upsert(ctx context.Context, p *domain.CapturedPhoto) error
	Delete(ctx context.Context, setID, angle string) (*domain.CapturedPhoto, error)
	DeleteBySetID(ctx context.Context, setID string) ([]*domain.CapturedPhoto, error)
}

// submissionRepository is the subset of store.SubmissionStore that CaptureService requires.
type submissionRepository interface {
	Create(ctx context.Context, sub *domain.Submission) (*domain.Submission, error)
	ListBySetID(ctx context.Context, setID string) ([]*domain.Submission, error)
}

// submissionBackend is the subset of backend.Client that receives finished
// capture sets.
type submissionBackend interface {
	CreateVehicle(ctx context.Context, sub *capture.VehicleSubmission) (*domain.Vehicle, error)
	UpdateVehicle(ctx context.Context, id string, sub *capture.VehicleSubmission) (*domain.Vehicle, error)
	UpdateVerificationSession(ctx context.Context, sessionID string, sub *capture.VehicleSubmission) error
}

type flow struct {
	id       string
	kind     FlowKind
	targetID string
	orch     *capture.Orchestrator

	// submitting is guarded by CaptureService.captureMu; vehicle is the
	// backend's answer to the submission in progress.
	submitting bool
	vehicle    *domain.Vehicle
}

// CaptureService runs capture flows: one Orchestrator per flow, persisted
// progress, and dispatch of the finished set to the backend.
type CaptureService struct {
	sets        captureSetRepository
	photos      capturedPhotoRepository
	submissions submissionRepository
	backend     submissionBackend
	photoStg    photostore.PhotoStore
	device      media.Device
	cfg         capture.SessionConfig
	logger      *slog.Logger
	hub         *eventHub

	mu     sync.Mutex
	flows  map[string]*flow
	closed bool

	// captureMu serialises session starts and submission starts across all
	// flows, so only one session is open device-wide.
	captureMu sync.Mutex
}

func NewCaptureService(
	sets captureSetRepository,
	photos capturedPhotoRepository,
	submissions submissionRepository,
	backend submissionBackend,
	photoStg photostore.PhotoStore,
	device media.Device,
	cfg capture.SessionConfig,
	logger *slog.Logger,
) *CaptureService {
	return &CaptureService{
		sets:        sets,
		photos:      photos,
		submissions: submissions,
		backend:     backend,
		photoStg:    photoStg,
		device:      device,
		cfg:         cfg,
		logger:      logger,
		hub:         newEventHub(logger),
		flows:       make(map[string]*flow),
	}
}

// BeginFlow starts a capture flow. Registration takes no target; vehicle
// updates target a vehicle id and verification a verification session id.
func (s *CaptureService) BeginFlow(ctx context.Context, kind FlowKind, targetID string) (*FlowStatus, error) {
	if _, err := ParseFlowKind(string(kind)); err != nil {
		return nil, err
	}
	if kind == FlowRegistration && targetID != "" {
		return nil, fmt.Errorf("%w: registration takes no target", ErrInvalidFlow)
	}
	if kind != FlowRegistration && targetID == "" {
		return nil, fmt.Errorf("%w: %s needs a target id", ErrInvalidFlow, kind)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, capture.ErrClosed
	}

	id := uuid.NewString()
	if _, err := s.sets.Create(ctx, id, string(kind), targetID); err != nil {
		return nil, fmt.Errorf("failed to record capture flow: %w", err)
	}

	f := &flow{id: id, kind: kind, targetID: targetID}
	cfg := s.cfg
	cfg.Logger = s.logger.With("flow_id", id)
	previews := &photoPreviews{stg: s.photoStg, prefix: id[:8]}
	f.orch = capture.NewOrchestrator(s.device, previews, s.submitFunc(f), cfg)
	f.orch.AddListener(func(ev capture.Event) { s.onEvent(f, ev) })

	s.mu.Lock()
	s.flows[id] = f
	s.mu.Unlock()

	s.logger.Info("capture flow started", "flow_id", id, "kind", kind, "target_id", targetID)
	return s.status(f), nil
}

// Flow returns the persisted record of a flow, including finished ones.
func (s *CaptureService) Flow(ctx context.Context, id string) (*domain.CaptureSet, error) {
	set, err := s.sets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get capture flow: %w", err)
	}
	if set == nil {
		return nil, ErrFlowNotFound
	}
	return set, nil
}

// StartCapture opens a session for angle. It fails with
// capture.ErrSessionActive while any flow has a session open.
func (s *CaptureService) StartCapture(id, angle string) error {
	f, a, err := s.lookupAngle(id, angle)
	if err != nil {
		return err
	}
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if err := s.checkCaptureLocked(f); err != nil {
		return err
	}
	return f.orch.StartCapture(a)
}

func (s *CaptureService) Retake(ctx context.Context, id, angle string) error {
	f, a, err := s.lookupAngle(id, angle)
	if err != nil {
		return err
	}
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if err := s.checkCaptureLocked(f); err != nil {
		return err
	}
	return f.orch.Retake(ctx, a)
}

func (s *CaptureService) CancelSession(id string) error {
	f, err := s.lookup(id)
	if err != nil {
		return err
	}
	return f.orch.CancelSession()
}

func (s *CaptureService) RetrySession(id string) error {
	f, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if err := s.checkCaptureLocked(f); err != nil {
		return err
	}
	return f.orch.RetrySession()
}

// Status reports per-angle coverage and the open session of an active flow.
func (s *CaptureService) Status(id string) (*FlowStatus, error) {
	f, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.status(f), nil
}

// Preview opens the stored preview image of an angle's current artifact.
func (s *CaptureService) Preview(ctx context.Context, id, angle string) (io.ReadCloser, string, error) {
	f, a, err := s.lookupAngle(id, angle)
	if err != nil {
		return nil, "", err
	}
	artifact, ok := f.orch.Artifact(a)
	if !ok || artifact.PreviewHandle == "" {
		return nil, "", photostore.ErrNotFound
	}
	return s.photoStg.Get(ctx, artifact.PreviewHandle)
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Vehicle    *domain.Vehicle    `json:"vehicle,omitempty"`
	Submission *domain.Submission `json:"submission"`
}

// Submit validates and dispatches the flow's capture set. Attempts that reach
// the backend are recorded either way. On success the flow is finished and
// its previews freed; on failure it stays open so the user can fix and retry.
func (s *CaptureService) Submit(ctx context.Context, id string, attrs domain.VehicleAttributes) (*SubmitResult, error) {
	f, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	if err := s.beginSubmit(f); err != nil {
		return nil, err
	}
	defer s.endSubmit(f)
	f.vehicle = nil

	s.logger.Info("submission started", "flow_id", id, "kind", f.kind)
	_, subErr := f.orch.Submit(ctx, attrs)

	var rejected *capture.SubmissionError
	if subErr != nil && !errors.As(subErr, &rejected) {
		// Never left the device.
		s.logger.Info("submission blocked", "flow_id", id, "error", subErr)
		return nil, subErr
	}

	record := &domain.Submission{
		SetID:    id,
		Kind:     string(f.kind),
		TargetID: f.targetID,
		Status:   domain.SubmissionSucceeded,
	}
	if f.vehicle != nil {
		record.VehicleID = f.vehicle.ID
	} else if f.kind == FlowVehicleUpdate {
		record.VehicleID = f.targetID
	}
	if subErr != nil {
		record.Status = domain.SubmissionFailed
		record.Error = rejected.Err.Error()
	}
	saved, err := s.submissions.Create(ctx, record)
	if err != nil {
		s.logger.Error("failed to record submission", "flow_id", id, "error", err)
	}

	if subErr != nil {
		s.logger.Error("submission failed", "flow_id", id, "error", subErr)
		return nil, subErr
	}

	s.logger.Info("submission succeeded", "flow_id", id, "vehicle_id", record.VehicleID)
	s.finish(ctx, f, domain.CaptureSetSubmitted)
	return &SubmitResult{Vehicle: f.vehicle, Submission: saved}, nil
}

// Discard abandons a flow, releasing the camera and deleting its previews.
func (s *CaptureService) Discard(ctx context.Context, id string) error {
	f, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.logger.Info("capture flow discarded", "flow_id", id)
	s.finish(ctx, f, domain.CaptureSetDiscarded)
	return nil
}

// Submissions lists the recorded submission attempts of a flow.
func (s *CaptureService) Submissions(ctx context.Context, id string) ([]*domain.Submission, error) {
	if _, err := s.Flow(ctx, id); err != nil {
		return nil, err
	}
	return s.submissions.ListBySetID(ctx, id)
}

// Subscribe streams the flow's events until the flow ends or cancel is
// called.
func (s *CaptureService) Subscribe(id string) (<-chan FlowEvent, func(), error) {
	if _, err := s.lookup(id); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(id)
	return ch, cancel, nil
}

// Shutdown discards every active flow so that no camera stream outlives the
// process. No new flow can start afterwards.
func (s *CaptureService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	flows := make([]*flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	s.mu.Unlock()

	var errs []error
	for _, f := range flows {
		if err := s.finish(ctx, f, domain.CaptureSetDiscarded); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("capture service shut down", "flows", len(flows))
	return errors.Join(errs...)
}

// RecoverStale discards capture sets left open by a previous run: their
// sessions died with the process, so their photo records and preview files
// are deleted and the sets marked discarded. Flows of this service are left
// alone. It returns how many sets were discarded.
func (s *CaptureService) RecoverStale(ctx context.Context) (int, error) {
	sets, err := s.sets.List(ctx, domain.CaptureSetOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to list open capture flows: %w", err)
	}

	var errs []error
	recovered := 0
	for _, set := range sets {
		if _, err := s.lookup(set.ID); err == nil {
			continue
		}
		photos, err := s.photos.DeleteBySetID(ctx, set.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range photos {
			if err := s.photoStg.Delete(ctx, p.StorageKey); err != nil && !errors.Is(err, photostore.ErrNotFound) {
				s.logger.Error("failed to delete stale preview", "flow_id", set.ID, "key", p.StorageKey, "error", err)
			}
		}
		if err := s.sets.UpdateStatus(ctx, set.ID, domain.CaptureSetDiscarded); err != nil {
			errs = append(errs, fmt.Errorf("failed to update capture flow: %w", err))
			continue
		}
		recovered++
		s.logger.Info("stale capture flow discarded", "flow_id", set.ID, "kind", set.Kind, "photos", len(photos))
	}
	return recovered, errors.Join(errs...)
}

// checkCaptureLocked reports whether f may open a session: it must not be
// submitting and no other flow may have a session open.
func (s *CaptureService) checkCaptureLocked(f *flow) error {
	if f.submitting {
		return capture.ErrSubmissionInProgress
	}
	s.mu.Lock()
	others := make([]*flow, 0, len(s.flows))
	for _, other := range s.flows {
		if other != f {
			others = append(others, other)
		}
	}
	s.mu.Unlock()

	for _, other := range others {
		if snap, ok := other.orch.Session(); ok {
			return fmt.Errorf("%w: flow %s is capturing %s", capture.ErrSessionActive, other.id, snap.Angle)
		}
	}
	return nil
}

// beginSubmit marks f as submitting until endSubmit, which also covers the
// gap between the backend accepting the set and the flow being finished.
func (s *CaptureService) beginSubmit(f *flow) error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if f.submitting {
		return capture.ErrSubmissionInProgress
	}
	if snap, ok := f.orch.Session(); ok {
		return fmt.Errorf("%w: %s", capture.ErrSessionActive, snap.Angle)
	}
	f.submitting = true
	return nil
}

func (s *CaptureService) endSubmit(f *flow) {
	s.captureMu.Lock()
	f.submitting = false
	s.captureMu.Unlock()
}

func (s *CaptureService) finish(ctx context.Context, f *flow, status string) error {
	s.mu.Lock()
	_, active := s.flows[f.id]
	delete(s.flows, f.id)
	s.mu.Unlock()
	if !active {
		return nil
	}

	f.orch.Close(ctx)

	var errs []error
	if _, err := s.photos.DeleteBySetID(ctx, f.id); err != nil {
		errs = append(errs, err)
	}
	if err := s.sets.UpdateStatus(ctx, f.id, status); err != nil {
		errs = append(errs, fmt.Errorf("failed to update capture flow: %w", err))
	}
	s.hub.publish(FlowEvent{FlowID: f.id, Kind: FlowEventFinished, Status: status})
	s.hub.closeFlow(f.id)

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("failed to finish capture flow", "flow_id", f.id, "error", err)
		return err
	}
	return nil
}

func (s *CaptureService) submitFunc(f *flow) capture.SubmitFunc {
	return func(ctx context.Context, sub *capture.VehicleSubmission) error {
		switch f.kind {
		case FlowRegistration:
			v, err := s.backend.CreateVehicle(ctx, sub)
			if err != nil {
				return err
			}
			f.vehicle = v
		case FlowVehicleUpdate:
			v, err := s.backend.UpdateVehicle(ctx, f.targetID, sub)
			if err != nil {
				return err
			}
			f.vehicle = v
		case FlowVerification:
			return s.backend.UpdateVerificationSession(ctx, f.targetID, sub)
		}
		return nil
	}
}

// onEvent mirrors orchestrator changes into the store and out to subscribers.
func (s *CaptureService) onEvent(f *flow, ev capture.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case capture.EventStored:
		a := ev.Artifact
		err := s.photos.Upsert(ctx, &domain.CapturedPhoto{
			SetID:      f.id,
			Angle:      string(a.Angle),
			StorageKey: a.PreviewHandle,
			MimeType:   a.MimeType,
			SizeBytes:  int64(len(a.Data)),
			Width:      a.Width,
			Height:     a.Height,
			CapturedAt: a.CapturedAt,
		})
		if err != nil {
			s.logger.Error("failed to record captured photo", "flow_id", f.id, "angle", string(a.Angle), "error", err)
		}
	case capture.EventDiscarded:
		if _, err := s.photos.Delete(ctx, f.id, string(ev.Angle)); err != nil {
			s.logger.Error("failed to remove captured photo", "flow_id", f.id, "angle", string(ev.Angle), "error", err)
		}
	}

	out := newFlowEvent(f.id, ev)
	if ev.Kind == capture.EventStored || ev.Kind == capture.EventDiscarded {
		out.Complete = f.orch.IsComplete()
	}
	s.hub.publish(out)
}

func (s *CaptureService) lookup(id string) (*flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

func (s *CaptureService) lookupAngle(id, angle string) (*flow, capture.Angle, error) {
	f, err := s.lookup(id)
	if err != nil {
		return nil, "", err
	}
	a, err := capture.ParseAngle(angle)
	if err != nil {
		return nil, "", err
	}
	return f, a, nil
}

// AngleStatus describes one angle of a flow.
type AngleStatus struct {
	Angle       capture.Angle `json:"angle"`
	Instruction string        `json:"instruction"`
	Required    bool          `json:"required"`
	Captured    bool          `json:"captured"`
	// PreviewURL is filled in by the HTTP layer for captured angles.
	PreviewURL string     `json:"preview_url,omitempty"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// SessionStatus describes the open capture session of a flow.
type SessionStatus struct {
	ID        string        `json:"id"`
	Angle     capture.Angle `json:"angle"`
	State     string        `json:"state"`
	Countdown int           `json:"countdown"`
	Error     string        `json:"error,omitempty"`
	// Message is the text shown to the user when the session failed.
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

type FlowStatus struct {
	ID       string          `json:"id"`
	Kind     FlowKind        `json:"kind"`
	TargetID string          `json:"target_id,omitempty"`
	Complete bool            `json:"complete"`
	Missing  []capture.Angle `json:"missing"`
	Angles   []AngleStatus   `json:"angles"`
	Session  *SessionStatus  `json:"session,omitempty"`
}

func (s *CaptureService) status(f *flow) *FlowStatus {
	artifacts := f.orch.Artifacts()
	st := &FlowStatus{
		ID:       f.id,
		Kind:     f.kind,
		TargetID: f.targetID,
		Missing:  []capture.Angle{},
	}
	for _, angle := range capture.Angles() {
		as := AngleStatus{
			Angle:       angle,
			Instruction: angle.Instruction(),
			Required:    angle.Required(),
		}
		if a, ok := artifacts[angle]; ok {
			capturedAt := a.CapturedAt
			as.Captured = true
			as.Width = a.Width
			as.Height = a.Height
			as.CapturedAt = &capturedAt
		} else {
			st.Missing = append(st.Missing, angle)
		}
		st.Angles = append(st.Angles, as)
	}
	st.Complete = len(st.Missing) == 0

	if snap, ok := f.orch.Session(); ok {
		st.Session = sessionStatus(snap)
	}
	return st
}

func sessionStatus(snap capture.SessionSnapshot) *SessionStatus {
	ss := &SessionStatus{
		ID:        snap.ID,
		Angle:     snap.Angle,
		State:     snap.State.String(),
		Countdown: snap.Countdown,
		Retryable: snap.State == capture.StateError,
	}
	if snap.Err != nil {
		ss.Error = snap.Err.Error()
		ss.Message = userMessage(snap.Err)
	}
	return ss
}

func userMessage(err error) string {
	var permErr *capture.DevicePermissionError
	if errors.As(err, &permErr) {
		return permErr.Message()
	}
	return "We couldn't take that photo. Please try again."
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/rideshare/internal/domain"
	"github.com/vbonduro/rideshare/internal/imagecodec"
	"github.com/vbonduro/rideshare/internal/media"
)

// Orchestrator owns the four-angle capture set and opens at most one Session
// at a time.
type Orchestrator struct {
	device   media.Device
	previews Previews
	submit   SubmitFunc
	cfg      SessionConfig
	logger   *slog.Logger
	encode   func([]byte) (string, error)

	mu         sync.Mutex
	artifacts  map[Angle]*Artifact
	session    *Session
	closed     bool
	listeners  []Listener
	// submitting is set while Submit is in flight; no session may open then.
	submitting bool
}

func NewOrchestrator(device media.Device, previews Previews, submit SubmitFunc, cfg SessionConfig) *Orchestrator {
	cfg = cfg.withDefaults()
	if previews == nil {
		previews = NewMemoryPreviews()
	}
	artifacts := make(map[Angle]*Artifact, len(angles))
	for _, a := range angles {
		artifacts[a] = nil
	}
	return &Orchestrator{
		device:    device,
		previews:  previews,
		submit:    submit,
		cfg:       cfg,
		logger:    cfg.Logger,
		encode:    imagecodec.EncodeTransport,
		artifacts: artifacts,
	}
}

// AddListener registers l for every event the orchestrator emits.
func (o *Orchestrator) AddListener(l Listener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

// StartCapture opens a session for angle. It fails with ErrSessionActive
// while any session, for any angle, is still open.
func (o *Orchestrator) StartCapture(angle Angle) error {
	if !angle.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAngle, angle)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.openLocked(angle)
}

// Retake discards the stored artifact for angle and opens a new session for
// it. Nothing is discarded if a session is already open.
func (o *Orchestrator) Retake(ctx context.Context, angle Angle) error {
	if !angle.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAngle, angle)
	}
	o.mu.Lock()
	if err := o.checkOpenLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	old := o.artifacts[angle]
	o.artifacts[angle] = nil
	err := o.openLocked(angle)
	listeners := o.listenersLocked()
	o.mu.Unlock()

	if old != nil {
		o.revoke(ctx, old)
		o.logger.Info("photo discarded for retake", "angle", string(angle))
		notify(listeners, Event{Kind: EventDiscarded, Angle: angle, Artifact: old})
	}
	return err
}

// CancelSession closes the open session without storing anything.
func (o *Orchestrator) CancelSession() error {
	o.mu.Lock()
	s := o.session
	if s == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	o.session = nil
	s.Close()
	snap := s.Snapshot()
	listeners := o.listenersLocked()
	o.mu.Unlock()

	o.logger.Info("capture session cancelled", "session_id", snap.ID, "angle", string(snap.Angle))
	notify(listeners, Event{Kind: EventClosed, SessionID: snap.ID, Angle: snap.Angle, State: snap.State})
	return nil
}

// RetrySession re-opens the current session after a camera or encoding
// failure.
func (o *Orchestrator) RetrySession() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ErrNoSession
	}
	return o.session.Retry()
}

// Session returns a snapshot of the open session, if any.
func (o *Orchestrator) Session() (SessionSnapshot, bool) {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return SessionSnapshot{}, false
	}
	return s.Snapshot(), true
}

// IsComplete reports whether every angle has an artifact.
func (o *Orchestrator) IsComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.missingLocked()) == 0
}

// Missing lists the angles without an artifact, in capture order.
func (o *Orchestrator) Missing() []Angle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.missingLocked()
}

func (o *Orchestrator) Artifact(angle Angle) (*Artifact, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.artifacts[angle]
	return a, a != nil
}

// Artifacts returns the stored artifacts keyed by angle. Absent angles are
// left out.
func (o *Orchestrator) Artifacts() map[Angle]*Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Angle]*Artifact, len(o.artifacts))
	for angle, a := range o.artifacts {
		if a != nil {
			out[angle] = a
		}
	}
	return out
}

// BuildSubmission encodes the four artifacts and merges them with attrs.
// Coverage is checked first, then the attributes. An angle whose artifact
// fails to encode is discarded so it has to be captured again; the other
// angles are kept.
func (o *Orchestrator) BuildSubmission(ctx context.Context, attrs domain.VehicleAttributes) (*VehicleSubmission, error) {
	o.mu.Lock()
	missing := o.missingLocked()
	snapshot := make(map[Angle]*Artifact, len(o.artifacts))
	for angle, a := range o.artifacts {
		snapshot[angle] = a
	}
	o.mu.Unlock()

	if len(missing) > 0 {
		return nil, &IncompleteCaptureError{Missing: missing}
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}

	images := make(map[Angle]string, len(angles))
	var failed []*EncodingError
	for _, angle := range angles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		encoded, err := o.encode(snapshot[angle].Data)
		if err != nil {
			failed = append(failed, &EncodingError{Angle: angle, Stage: StageTransport, Err: err})
			continue
		}
		images[angle] = encoded
	}
	if len(failed) > 0 {
		o.discardFailed(ctx, snapshot, failed)
		errs := make([]error, len(failed))
		for i, e := range failed {
			errs[i] = e
		}
		return nil, errors.Join(errs...)
	}

	return &VehicleSubmission{VehicleAttributes: attrs, Images: images}, nil
}

// Submit builds the submission and passes it to the submission callback.
// It fails with ErrSessionActive while a session is open, and no session can
// be opened until it returns. The capture set is left untouched whatever the
// outcome.
func (o *Orchestrator) Submit(ctx context.Context, attrs domain.VehicleAttributes) (*VehicleSubmission, error) {
	if o.submit == nil {
		return nil, errors.New("no submission target configured")
	}
	if err := o.beginSubmit(); err != nil {
		return nil, err
	}
	defer o.endSubmit()

	sub, err := o.BuildSubmission(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := o.submit(ctx, sub); err != nil {
		o.logger.Error("submission rejected", "error", err)
		return nil, &SubmissionError{Err: err}
	}
	o.logger.Info("submission accepted", "make", attrs.Make, "model", attrs.Model)
	return sub, nil
}

// Close tears the orchestrator down: the open session is closed and every
// stored preview is revoked. Safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	s := o.session
	o.session = nil
	if s != nil {
		s.Close()
	}
	var stale []*Artifact
	for angle, a := range o.artifacts {
		if a != nil {
			stale = append(stale, a)
		}
		o.artifacts[angle] = nil
	}
	o.mu.Unlock()

	for _, a := range stale {
		o.revoke(ctx, a)
	}
}

func (o *Orchestrator) beginSubmit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.submitting {
		return ErrSubmissionInProgress
	}
	if o.session != nil {
		return fmt.Errorf("%w: %s", ErrSessionActive, o.session.Angle())
	}
	o.submitting = true
	return nil
}

func (o *Orchestrator) endSubmit() {
	o.mu.Lock()
	o.submitting = false
	o.mu.Unlock()
}

func (o *Orchestrator) checkOpenLocked() error {
	if o.closed {
		return ErrClosed
	}
	if o.submitting {
		return ErrSubmissionInProgress
	}
	if o.session != nil {
		return fmt.Errorf("%w: %s", ErrSessionActive, o.session.Angle())
	}
	return nil
}

func (o *Orchestrator) openLocked(angle Angle) error {
	if err := o.checkOpenLocked(); err != nil {
		return err
	}
	var s *Session
	s = newSession(angle, o.device, o.previews, o.cfg, func(ev Event) {
		o.handleSessionEvent(s, ev)
	})
	if err := s.Open(); err != nil {
		return fmt.Errorf("failed to open capture session: %w", err)
	}
	o.session = s
	o.logger.Info("capture session opened", "session_id", s.ID(), "angle", string(angle))
	return nil
}

// handleSessionEvent is the session's emit callback. Events from a session
// other than the open one are dropped along with any preview they carry.
func (o *Orchestrator) handleSessionEvent(s *Session, ev Event) {
	o.mu.Lock()
	if o.session != s {
		o.mu.Unlock()
		if ev.Artifact != nil {
			o.revoke(context.Background(), ev.Artifact)
		}
		return
	}
	events := []Event{ev}
	var replaced *Artifact
	if ev.State == StateCaptured && ev.Artifact != nil {
		replaced = o.artifacts[ev.Angle]
		o.artifacts[ev.Angle] = ev.Artifact
		o.session = nil
		s.Close()
		events = append(events, Event{Kind: EventStored, SessionID: ev.SessionID, Angle: ev.Angle, State: ev.State, Artifact: ev.Artifact})
	}
	listeners := o.listenersLocked()
	o.mu.Unlock()

	if replaced != nil {
		o.revoke(context.Background(), replaced)
	}
	notify(listeners, events...)
}

func (o *Orchestrator) discardFailed(ctx context.Context, snapshot map[Angle]*Artifact, failed []*EncodingError) {
	var dropped []*Artifact
	o.mu.Lock()
	for _, e := range failed {
		// A retake may already have replaced it.
		if cur := o.artifacts[e.Angle]; cur != nil && cur == snapshot[e.Angle] {
			o.artifacts[e.Angle] = nil
			dropped = append(dropped, cur)
		}
	}
	listeners := o.listenersLocked()
	o.mu.Unlock()

	for _, a := range dropped {
		o.revoke(ctx, a)
		o.logger.Error("photo discarded after encoding failure", "angle", string(a.Angle))
		notify(listeners, Event{Kind: EventDiscarded, Angle: a.Angle, Artifact: a})
	}
}

func (o *Orchestrator) revoke(ctx context.Context, a *Artifact) {
	if a.PreviewHandle == "" {
		return
	}
	if err := o.previews.Revoke(ctx, a.PreviewHandle); err != nil {
		o.logger.Error("failed to revoke preview", "angle", string(a.Angle), "handle", a.PreviewHandle, "error", err)
	}
}

func (o *Orchestrator) missingLocked() []Angle {
	var missing []Angle
	for _, a := range angles {
		if o.artifacts[a] == nil {
			missing = append(missing, a)
		}
	}
	return missing
}

func (o *Orchestrator) listenersLocked() []Listener {
	out := make([]Listener, len(o.listeners))
	copy(out, o.listeners)
	return out
}

func notify(listeners []Listener, events ...Event) {
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/rideshare/internal/imagecodec"
	"github.com/vbonduro/rideshare/internal/media"
)

// DefaultCountdown is the number of ticks between the live preview starting
// and the automatic capture.
const DefaultCountdown = 5

// State enumerates the capture session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateLive
	StateCapturing
	StateCaptured
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateLive:
		return "live"
	case StateCapturing:
		return "capturing"
	case StateCaptured:
		return "captured"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition happens without a retry.
func (s State) Terminal() bool {
	return s == StateCaptured || s == StateError || s == StateCancelled
}

type SessionConfig struct {
	Countdown    int
	TickInterval time.Duration
	Constraints  media.Constraints
	Quality      int
	NewTicker    func(time.Duration) Ticker
	Logger       *slog.Logger
}

// DefaultSessionConfig counts down 5 one-second ticks and asks for the rear
// camera at 1280x720.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Countdown:    DefaultCountdown,
		TickInterval: time.Second,
		Constraints:  media.DefaultConstraints(),
		Quality:      imagecodec.DefaultQuality,
		NewTicker:    NewStdTicker,
		Logger:       slog.Default(),
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	def := DefaultSessionConfig()
	if c.Countdown <= 0 {
		c.Countdown = def.Countdown
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.Constraints == (media.Constraints{}) {
		c.Constraints = def.Constraints
	}
	if c.Quality <= 0 {
		c.Quality = def.Quality
	}
	if c.NewTicker == nil {
		c.NewTicker = def.NewTicker
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return c
}

// SessionSnapshot is a point-in-time copy of a session's observable fields.
type SessionSnapshot struct {
	ID        string
	Angle     Angle
	State     State
	Countdown int
	Err       error
}

// Session manages one camera acquisition and one timed capture for one angle.
//
// Every transition happens under mu and bumps gen when the session is
// reopened or closed; goroutines started for an older generation drop their
// results, so no tick or capture lands after Close.
type Session struct {
	id       string
	angle    Angle
	device   media.Device
	previews Previews
	cfg      SessionConfig
	logger   *slog.Logger
	emit     func(Event)

	mu        sync.Mutex
	state     State
	countdown int
	capturing bool
	closed    bool
	gen       uint64
	stream    media.Stream
	cancel    context.CancelFunc
	ticker    Ticker
	artifact  *Artifact
	// delivered is set once the artifact reached the listener, which then
	// owns its preview.
	delivered bool
	err       error

	// emitMu serialises event delivery so listeners see events in
	// transition order.
	emitMu sync.Mutex
}

func newSession(angle Angle, device media.Device, previews Previews, cfg SessionConfig, emit func(Event)) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		angle:    angle,
		device:   device,
		previews: previews,
		cfg:      cfg,
		logger:   cfg.Logger.With("session_id", id, "angle", string(angle)),
		emit:     emit,
		state:    StateIdle,
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Angle() Angle { return s.angle }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() SessionSnapshot {
	return SessionSnapshot{ID: s.id, Angle: s.angle, State: s.state, Countdown: s.countdown, Err: s.err}
}

// Artifact returns the captured artifact once the session is Captured.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Open requests the camera and, once granted, starts the live countdown. It
// returns immediately; acquisition may stay pending for as long as the user
// leaves the permission prompt unanswered.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateIdle && s.state != StateError {
		return fmt.Errorf("%w: cannot open a %s session", ErrInvalidState, s.state)
	}

	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.err = nil
	s.countdown = 0
	s.state = StateRequesting
	s.logger.Debug("capture session requesting camera")

	go s.acquire(ctx, s.gen)
	return nil
}

// Retry re-runs Open from scratch after a device or encoding failure.
func (s *Session) Retry() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateError {
		return fmt.Errorf("%w: only failed sessions can be retried, session is %s", ErrInvalidState, state)
	}
	return s.Open()
}

// Close releases the camera if held, stops the countdown and cancels any
// pending request. It is safe to call in any state and more than once. A
// captured artifact that was never delivered has its preview revoked.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopTickerLocked()
	s.releaseLocked()
	if !s.state.Terminal() {
		s.state = StateCancelled
	}
	var orphan *Artifact
	if s.artifact != nil && !s.delivered {
		orphan = s.artifact
	}
	s.logger.Debug("capture session closed", "state", s.state.String())
	s.mu.Unlock()

	if orphan != nil {
		s.revoke(orphan)
	}
}

func (s *Session) acquire(ctx context.Context, gen uint64) {
	stream, err := s.device.RequestVideoStream(ctx, s.cfg.Constraints)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if stream != nil {
			if rerr := stream.Release(); rerr != nil {
				s.logger.Error("failed to release late stream", "error", rerr)
			}
		}
		return
	}
	if err != nil {
		s.state = StateError
		s.err = &DevicePermissionError{Angle: s.angle, Err: err}
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("camera unavailable", "error", err)
		s.publish(gen, snap, nil)
		return
	}

	s.stream = stream
	s.state = StateLive
	s.countdown = s.cfg.Countdown
	t := s.cfg.NewTicker(s.cfg.TickInterval)
	s.ticker = t
	snap := s.snapshotLocked()
	s.mu.Unlock()

	settings := stream.Settings()
	s.logger.Debug("camera live", "device", settings.DeviceID, "width", settings.Width, "height", settings.Height)
	s.publish(gen, snap, nil)
	go s.run(ctx, gen, t)
}

func (s *Session) run(ctx context.Context, gen uint64, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if done := s.tick(ctx, gen); done {
				return
			}
		}
	}
}

// tick decrements the countdown and fires the capture when it reaches zero.
// It reports whether the countdown loop should stop.
func (s *Session) tick(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || s.state != StateLive {
		s.mu.Unlock()
		return true
	}
	if s.countdown > 0 {
		s.countdown--
	}
	fire := s.countdown == 0 && !s.capturing
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(gen, snap, nil)
	if fire {
		s.capture(ctx, gen)
		return true
	}
	return false
}

// capture snapshots the live frame, encodes it, releases the camera and
// emits the artifact. A second trigger while a capture is in flight is a no-op.
func (s *Session) capture(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.capturing || s.state != StateLive {
		s.mu.Unlock()
		return
	}
	s.capturing = true
	s.state = StateCapturing
	s.stopTickerLocked()
	stream := s.stream
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(gen, snap, nil)

	artifact, err := s.grab(ctx, stream)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if artifact != nil {
			s.revoke(artifact)
		}
		return
	}
	s.capturing = false
	s.releaseLocked()
	if err != nil {
		s.state = StateError
		s.err = err
	} else {
		s.state = StateCaptured
		s.artifact = artifact
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("capture failed", "error", err)
	} else {
		s.logger.Info("photo captured", "bytes", len(artifact.Data), "width", artifact.Width, "height", artifact.Height)
	}
	s.publish(gen, snap, artifact)
}

func (s *Session) grab(ctx context.Context, stream media.Stream) (*Artifact, error) {
	frame, err := stream.Frame(ctx)
	if err != nil {
		return nil, &EncodingError{Angle: s.angle, Stage: StageFrame, Err: err}
	}

	data, err := imagecodec.EncodeJPEG(frame, s.cfg.Quality)
	if err != nil {
		return nil, &EncodingError{Angle: s.angle, Stage: StageImage, Err: err}
	}

	b := frame.Bounds()
	a := &Artifact{
		Angle:      s.angle,
		Data:       data,
		MimeType:   imagecodec.MimeJPEG,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now().UTC(),
	}

	handle, err := s.previews.Publish(ctx, a)
	if err != nil {
		return nil, &EncodingError{Angle: s.angle, Stage: StagePreview, Err: err}
	}
	a.PreviewHandle = handle
	return a, nil
}

// publish delivers an event unless the session moved on to a newer
// generation in the meantime.
func (s *Session) publish(gen uint64, snap SessionSnapshot, artifact *Artifact) {
	if s.emit == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	stale := gen != s.gen
	if !stale && artifact != nil {
		s.delivered = true
	}
	s.mu.Unlock()
	if stale {
		return
	}
	s.emit(Event{
		Kind:      EventSession,
		SessionID: snap.ID,
		Angle:     snap.Angle,
		State:     snap.State,
		Countdown: snap.Countdown,
		Artifact:  artifact,
		Err:       snap.Err,
	})
}

func (s *Session) revoke(a *Artifact) {
	if err := s.previews.Revoke(context.Background(), a.PreviewHandle); err != nil {
		s.logger.Error("failed to revoke preview of abandoned capture", "error", err)
	}
}

func (s *Session) stopTickerLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) releaseLocked() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Release(); err != nil {
		s.logger.Error("failed to release camera", "error", err)
	}
	s.stream = nil
}

package capture

// EventKind tells listeners what changed.
type EventKind string

const (
	// EventSession carries a session state or countdown change.
	EventSession EventKind = "session"
	// EventStored is sent when an angle's artifact is stored or replaced.
	EventStored EventKind = "stored"
	// EventDiscarded is sent when an angle's artifact is dropped.
	EventDiscarded EventKind = "discarded"
	// EventClosed is sent when the open session is closed without a capture.
	EventClosed EventKind = "closed"
)

type Event struct {
	Kind      EventKind
	SessionID string
	Angle     Angle
	State     State
	Countdown int
	Artifact  *Artifact
	Err       error
}

// Listener receives events. It is never called with a lock held and must not
// block for long.
type Listener func(Event)

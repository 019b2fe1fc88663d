package service

import (
	"log/slog"
	"sync"

	"github.com/vbonduro/rideshare/internal/capture"
)

// FlowEventFinished is sent once when a flow is submitted or discarded; the
// stream ends after it.
const FlowEventFinished = "finished"

// subscriberBuffer is how many events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 64

// FlowEvent is the wire form of a capture event.
type FlowEvent struct {
	FlowID    string `json:"flow_id"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Angle     string `json:"angle,omitempty"`
	State     string `json:"state,omitempty"`
	Countdown int    `json:"countdown"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Complete  bool   `json:"complete"`
	// Status is the final capture set status of a finished flow.
	Status string `json:"status,omitempty"`
}

func newFlowEvent(flowID string, ev capture.Event) FlowEvent {
	out := FlowEvent{
		FlowID:    flowID,
		Kind:      string(ev.Kind),
		SessionID: ev.SessionID,
		Angle:     string(ev.Angle),
		Countdown: ev.Countdown,
	}
	if ev.Kind == capture.EventSession || ev.Kind == capture.EventClosed {
		out.State = ev.State.String()
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
		out.Message = userMessage(ev.Err)
	}
	return out
}

type subscriber struct {
	ch chan FlowEvent
}

// eventHub fans flow events out to subscribers without ever blocking the
// publisher.
type eventHub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{logger: logger, subs: make(map[string]map[*subscriber]struct{})}
}

func (h *eventHub) subscribe(flowID string) (<-chan FlowEvent, func()) {
	sub := &subscriber{ch: make(chan FlowEvent, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[flowID] == nil {
		h.subs[flowID] = make(map[*subscriber]struct{})
	}
	h.subs[flowID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[flowID][sub]; ok {
			delete(h.subs[flowID], sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

func (h *eventHub) publish(ev FlowEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.FlowID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber", "flow_id", ev.FlowID, "kind", ev.Kind)
		}
	}
}

// closeFlow ends every subscription of a flow.
func (h *eventHub) closeFlow(flowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[flowID] {
		close(sub.ch)
	}
	delete(h.subs, flowID)
}

// subscribers reports how many subscriptions a flow has.
func (h *eventHub) subscribers(flowID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[flowID])
}

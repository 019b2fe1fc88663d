package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams the flow's capture events as SSE. The first event is
// the current status; the stream ends with a "done" event once the flow is
// submitted or discarded.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, cancel, err := s.flows.Subscribe(id)
	if err != nil {
		s.fail(w, r, "subscribe", err)
		return
	}
	defer cancel()
	st, err := s.flows.Status(id)
	if err != nil {
		s.fail(w, r, "subscribe", err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("cannot lift write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, canFlush := w.(http.Flusher)
	send := func(name string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("encode event failed", "flow_id", id, "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return false
		}
		if canFlush {
			flusher.Flush()
		}
		return true
	}

	if !send("status", s.present(st)) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				if _, err := w.Write([]byte("event: done\ndata: {}\n\n")); err != nil {
					s.logger.Error("write done event failed", "flow_id", id, "error", err)
				}
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if !send(ev.Kind, ev) {
				return
			}
		}
	}
}

package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vbonduro/rideshare/internal/domain"
	"github.com/vbonduro/rideshare/internal/service"
)

type beginFlowRequest struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
}

// finishedFlow is returned for flows that were submitted or discarded.
type finishedFlow struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"target_id,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type activeFlow struct {
	*service.FlowStatus
	Status string `json:"status"`
}

func (s *Server) handleBeginFlow(w http.ResponseWriter, r *http.Request) {
	var req beginFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	kind, err := service.ParseFlowKind(strings.TrimSpace(req.Kind))
	if err != nil {
		s.fail(w, r, "begin flow", err)
		return
	}
	st, err := s.flows.BeginFlow(r.Context(), kind, strings.TrimSpace(req.TargetID))
	if err != nil {
		s.fail(w, r, "begin flow", err)
		return
	}
	w.Header().Set("Location", "/flows/"+st.ID)
	writeJSON(w, http.StatusCreated, s.present(st))
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.flows.Status(id)
	if err == nil {
		writeJSON(w, http.StatusOK, s.present(st))
		return
	}
	if !errors.Is(err, service.ErrFlowNotFound) {
		s.fail(w, r, "get flow", err)
		return
	}

	set, err := s.flows.Flow(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get flow", err)
		return
	}
	writeJSON(w, http.StatusOK, finishedFlow{
		ID:        set.ID,
		Kind:      set.Kind,
		TargetID:  set.TargetID,
		Status:    set.Status,
		UpdatedAt: set.UpdatedAt,
	})
}

func (s *Server) handleDiscardFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.Discard(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, "discard flow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.flows.StartCapture(id, r.PathValue("angle")); err != nil {
		s.fail(w, r, "start capture", err)
		return
	}
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) handleRetake(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.flows.Retake(r.Context(), id, r.PathValue("angle")); err != nil {
		s.fail(w, r, "retake", err)
		return
	}
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.CancelSession(r.PathValue("id")); err != nil {
		s.fail(w, r, "cancel session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.flows.RetrySession(id); err != nil {
		s.fail(w, r, "retry session", err)
		return
	}
	s.writeStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var attrs domain.VehicleAttributes
	if err := decodeJSON(w, r, &attrs); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	res, err := s.flows.Submit(r.Context(), r.PathValue("id"), attrs)
	if err != nil {
		s.fail(w, r, "submit", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.flows.Submissions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "list submissions", err)
		return
	}
	if subs == nil {
		subs = []*domain.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, id string, code int) {
	st, err := s.flows.Status(id)
	if err != nil {
		s.fail(w, r, "flow status", err)
		return
	}
	writeJSON(w, code, s.present(st))
}

// present fills in the preview URLs of captured angles.
func (s *Server) present(st *service.FlowStatus) activeFlow {
	for i := range st.Angles {
		if st.Angles[i].Captured {
			st.Angles[i].PreviewURL = previewURL(st.ID, string(st.Angles[i].Angle))
		}
	}
	return activeFlow{FlowStatus: st, Status: domain.CaptureSetOpen}
}

func previewURL(flowID, angle string) string {
	return fmt.Sprintf("/flows/%s/angles/%s/preview", flowID, angle)
}

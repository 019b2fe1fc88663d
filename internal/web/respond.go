package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/rideshare/internal/backend"
	"github.com/vbonduro/rideshare/internal/capture"
	"github.com/vbonduro/rideshare/internal/domain"
	"github.com/vbonduro/rideshare/internal/photostore"
	"github.com/vbonduro/rideshare/internal/service"
)

const maxBodySize = 64 * 1024

type errorBody struct {
	Error string `json:"error"`
	// Missing lists the angles still to capture.
	Missing []capture.Angle `json:"missing,omitempty"`
	// Fields lists the vehicle attributes left empty.
	Fields []string `json:"fields,omitempty"`
	// Angles lists the angles whose photo was dropped and must be retaken.
	Angles []capture.Angle `json:"angles,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// decodeJSON reads a size-limited JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// fail writes err as a JSON error with the status its type maps to.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug(op+" rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var incomplete *capture.IncompleteCaptureError
	var fields *domain.MissingFieldsError
	var encErr *capture.EncodingError
	var subErr *capture.SubmissionError
	var apiErr *backend.APIError

	switch {
	case errors.Is(err, service.ErrFlowNotFound), errors.Is(err, photostore.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, service.ErrInvalidFlow), errors.Is(err, capture.ErrUnknownAngle):
		return http.StatusBadRequest, body
	case errors.Is(err, capture.ErrSessionActive), errors.Is(err, capture.ErrNoSession),
		errors.Is(err, capture.ErrInvalidState), errors.Is(err, capture.ErrClosed),
		errors.Is(err, capture.ErrSubmissionInProgress):
		return http.StatusConflict, body
	case errors.As(err, &incomplete):
		body.Missing = incomplete.Missing
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &fields):
		body.Fields = fields.Fields
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &encErr):
		body.Angles = encodingAngles(err)
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &subErr):
		// The backend's own words are shown to the user.
		if errors.As(err, &apiErr) {
			body.Error = apiErr.Message
			if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				return http.StatusUnprocessableEntity, body
			}
		}
		return http.StatusBadGateway, body
	case errors.As(err, &apiErr):
		body.Error = apiErr.Message
		if apiErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, body
		}
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

// encodingAngles collects the angles of every EncodingError joined into err.
func encodingAngles(err error) []capture.Angle {
	if e, ok := err.(*capture.EncodingError); ok {
		return []capture.Angle{e.Angle}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []capture.Angle
		for _, e := range joined.Unwrap() {
			out = append(out, encodingAngles(e)...)
		}
		return out
	}
	if inner := errors.Unwrap(err); inner != nil {
		return encodingAngles(inner)
	}
	return nil
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}

package web

import (
	"io"
	"net/http"
)

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	reader, mimeType, err := s.flows.Preview(r.Context(), r.PathValue("id"), r.PathValue("angle"))
	if err != nil {
		s.fail(w, r, "preview", err)
		return
	}
	defer closeWithLog(reader, "preview reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	// A retake replaces the image behind the same URL.
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write preview failed", "path", r.URL.Path, "error", err)
	}
}

package web

import "net/http"

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.vehicles.ListVehicles(r.Context())
	if err != nil {
		s.fail(w, r, "list vehicles", err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.vehicles.DeleteVehicle(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, "delete vehicle", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

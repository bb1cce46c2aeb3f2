package server

import (
	"net/http"
	"strings"

	"chatvault/internal/api"
)

func (s *Server) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SaveMessageRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	saved, err := s.saved.Save(r.Context(), req.MessageID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	saved, err := s.saved.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSaved(w http.ResponseWriter, r *http.Request) {
	count, err := s.saved.Delete(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SavedDeleteResponse{Deleted: count})
}

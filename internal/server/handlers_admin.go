package server

import (
	"net/http"

	"chatvault/internal/api"
)

func (s *Server) handleSweepOrphans(w http.ResponseWriter, r *http.Request) {
	apply, err := queryBool(r, "apply")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.objects.SweepOrphans(r.Context(), apply)
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeBlobNotFound))
		return
	}

	s.writeJSON(w, http.StatusOK, api.OrphanSweepResponse{
		BlobIDs: result.BlobIDs,
		Count:   len(result.BlobIDs),
		DryRun:  result.DryRun,
		Failed:  result.Failed,
	})
}

package server

import (
	"net/http"

	"chatvault/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.StoreInfo(r.Context())
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeNotFound))
		return
	}

	s.writeJSON(w, http.StatusOK, api.InfoResponse{
		SchemaVersion: info.SchemaVersion,
		TotalMessages: info.TotalMessages,
		MessageCounts: info.MessageCounts,
		SavedMessages: info.SavedMessages,
		Blobs:         info.Blobs,
		BlobBytes:     info.BlobBytes,
		Chunks:        info.Chunks,
		Users:         info.Users,
		Subscribers:   s.broker.SubscriberCount(),
		ChunkBackend:  s.chunkBackend,
	})
}

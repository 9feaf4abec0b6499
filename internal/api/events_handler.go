package api

import (
	"net/http"

	"go.uber.org/zap"
)

// streamEvents handles GET /api/events. It upgrades the response to a
// Server-Sent Events stream scoped to the caller and blocks until the client
// disconnects or the server shuts down.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "owner identity required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	unsubscribe, err := s.gateway.Subscribe(owner, w, flusher)
	if err != nil {
		s.logger.Warn("sse subscribe failed", zap.String("owner_id", owner), zap.Error(err))
		return
	}
	defer unsubscribe()

	s.logger.Debug("sse client connected", zap.String("owner_id", owner))
	<-r.Context().Done()
	s.logger.Debug("sse client disconnected", zap.String("owner_id", owner))
}

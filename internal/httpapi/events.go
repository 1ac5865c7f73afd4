package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// handleEvents upgrades the connection and streams one JSON message per
// finished reconciliation until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "not_found", "event stream not enabled")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	records, cancel := s.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case record, ok := <-records:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			payload, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

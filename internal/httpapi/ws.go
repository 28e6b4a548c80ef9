package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/auth"
)

// wsWriter adapts a websocket connection to io.Writer so the SSE relay can
// drive it. The relay is the only writer for the lifetime of the stream.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// handleChatWS streams one chat completion over a websocket: the client sends
// a single request object, receives the raw provider frames as text messages,
// then a closing JSON envelope.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var req chatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(map[string]any{"type": "error", "code": "invalid_request", "error": err.Error()})
		return
	}

	prep, aerr := s.prepareChat(r.Context(), userID, req)
	if aerr != nil {
		s.metrics.ChatRequests.WithLabelValues("ws", "rejected").Inc()
		_ = conn.WriteJSON(map[string]any{"type": "error", "code": aerr.code, "error": aerr.message})
		return
	}

	body, err := s.gateway.StreamComplete(r.Context(), prep.request)
	if err != nil {
		s.metrics.ChatRequests.WithLabelValues("ws", "upstream_error").Inc()
		s.logger.Warn("ws upstream open failed", zap.Error(err))
		_ = conn.WriteJSON(map[string]any{"type": "error", "code": "upstream_error", "error": err.Error()})
		return
	}
	defer body.Close()

	_ = conn.WriteJSON(map[string]any{"type": "meta", "conversationId": prep.conversation.ID})

	start := time.Now()
	convID := prep.conversation.ID
	relayErr := s.relay.Run(wsWriter{conn: conn}, body, func(full string) {
		s.persistAssistant(convID, full, prep.keep, prep.longMode)
	})
	s.metrics.ObserveStreamDuration(time.Since(start))

	if relayErr != nil {
		s.metrics.ChatRequests.WithLabelValues("ws", "client_gone").Inc()
		return
	}
	_ = conn.WriteJSON(map[string]any{"type": "done", "conversationId": prep.conversation.ID})
	s.metrics.ChatRequests.WithLabelValues("ws", "ok").Inc()
}

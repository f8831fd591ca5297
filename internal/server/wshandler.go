package server

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsTrigger upgrades the connection, registers it with the broadcast
// manager, and serves the small client-to-server vocabulary: ping and
// ticket_notification. Unknown message types get an error envelope back.
func (s *Server) wsTrigger(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := c.Query("client_id")
	s.WS.Connect(conn, clientID)
	defer s.WS.Disconnect(conn)

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Log.Debug("websocket read error", "error", err)
			}
			return
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "ping":
			if err := s.WS.SendTo(conn, "pong", map[string]any{}); err != nil {
				return
			}
		case "ticket_notification":
			data, _ := msg["data"].(map[string]any)
			s.WS.BroadcastExcept("ticket_notification", data, conn)
			if err := s.WS.SendTo(conn, "ticket_notification_response", map[string]any{
				"success": true,
			}); err != nil {
				return
			}
		default:
			if err := s.WS.SendTo(conn, "error", map[string]any{
				"message": "unknown message type: " + msgType,
			}); err != nil {
				return
			}
		}
	}
}

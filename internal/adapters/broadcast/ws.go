package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/amep/pkg/logger"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades the request to a WebSocket and streams notifications as
// JSON text frames. The optional class_id query parameter filters by class.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
			return
		}
		defer conn.Close()

		classID := r.URL.Query().Get("class_id")
		sub := h.Subscribe(classID)
		defer h.Unsubscribe(sub)
		h.logger.Info(r.Context(), "subscriber connected", logger.String("class_id", classID))

		// The read loop only detects the peer going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(h.pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				h.logger.Info(r.Context(), "subscriber disconnected", logger.String("class_id", classID))
				return
			case n, ok := <-sub.C():
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(n); err != nil {
					h.logger.Warn(r.Context(), "websocket write failed", logger.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})
}

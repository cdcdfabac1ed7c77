package progress

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	clientQueue = 64
)

// OriginFunc reports whether a cross-origin browser client may connect.
type OriginFunc func(origin string) bool

func newUpgrader(allow OriginFunc) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
				return true
			}
			return allow != nil && allow(origin)
		},
	}
}

// Handler streams hub events to a websocket client. Same-host and
// origin-less clients are always accepted; other origins must pass allow.
// The optional session_id query parameter restricts the stream to one
// session; the session's latest event is sent first.
func Handler(hub *Hub, allow OriginFunc, logger *slog.Logger) http.HandlerFunc {
	upgrader := newUpgrader(allow)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sessionID := r.URL.Query().Get("session_id")
		events, cancel := hub.Subscribe(clientQueue)
		defer cancel()

		closed := make(chan struct{})
		go readPump(conn, closed)

		if sessionID != "" {
			if e, ok := hub.Latest(sessionID); ok {
				if err := writeEvent(conn, e); err != nil {
					return
				}
			}
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if sessionID != "" && e.SessionID != sessionID {
					continue
				}
				if err := writeEvent(conn, e); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

// readPump discards client messages and signals when the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

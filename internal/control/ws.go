package control

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSSource exposes the control surface over a WebSocket endpoint. Each
// text message is parsed like a stdin line; a one-line status is written
// back so interactive clients get feedback.
type WSSource struct {
	surface *Surface
}

// NewWSSource creates a WebSocket command source.
func NewWSSource(surface *Surface) *WSSource {
	return &WSSource{surface: surface}
}

// Handler returns the http.HandlerFunc to mount (e.g. at /control).
func (s *WSSource) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("control: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		slog.Info("control: websocket client attached", "remote", conn.RemoteAddr().String())

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				slog.Debug("control: websocket client detached", "error", err)
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			cmd, ok := Parse(string(data))
			if !ok {
				slog.Debug("control: unrecognized websocket input, ignoring", "input", string(data))
				conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
				continue
			}

			slog.Info("control: command received", "source", "websocket", "command", cmd.String())
			s.surface.Dispatch(cmd)
			conn.WriteMessage(websocket.TextMessage, []byte("accepted "+cmd.String()))
		}
	}
}

package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Accept upgrades the request. originPatterns lists extra hosts allowed to
// open cross-origin connections; same-origin requests are always accepted.
func Accept(w http.ResponseWriter, r *http.Request, originPatterns []string, logger *slog.Logger) (*ws.Conn, bool) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		logger.Warn("websocket accept", "error", err, "path", r.URL.Path)
		return nil, false
	}
	return conn, true
}

// HandleTopic returns a handler that subscribes the connection to the topic
// named by topicFn.
func HandleTopic(hub *Hub, topicFn func(*http.Request) string, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, ok := Accept(w, r, originPatterns, logger)
		if !ok {
			return
		}
		NewClient(hub, conn, topicFn(r)).Run(r.Context())
	}
}

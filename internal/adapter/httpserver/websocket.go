package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/auth"
	"github.com/mclima/stock-intel-service/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens at the chi CORS layer in front of this
	// handler; the websocket handshake itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClientMessage struct {
	Action  string   `json:"action"`
	Tickers []string `json:"tickers"`
}

// WsHandler upgrades the connection to a websocket and registers it with
// Events, authenticating via the token query parameter since browser
// WebSocket clients cannot set an Authorization header on the handshake.
func (s *Server) WsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		if tok == "" {
			if hdr, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
				tok = hdr
			}
		}
		if tok == "" {
			writeError(w, r, &domain.ServiceError{Code: domain.CodeAuthentication, Message: "missing token", UserMessage: "authentication required", Err: domain.ErrAuthentication}, nil)
			return
		}
		uid, err := s.Tokens.Verify(tok)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "error", err)
			return
		}

		connID := uuid.NewString()
		s.Events.Connect(connID, uid, conn)
		observability.SetWsConnections(s.Events.ConnectionCount())
		defer func() {
			s.Events.Disconnect(connID)
			observability.SetWsConnections(s.Events.ConnectionCount())
			_ = conn.Close()
		}()

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Action {
			case "subscribe":
				s.Events.Subscribe(connID, msg.Tickers)
			case "unsubscribe":
				s.Events.Unsubscribe(connID, msg.Tickers)
			}
		}
	}
}

package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/rigidity/lobby-backend/internal/auth"
	"github.com/rigidity/lobby-backend/internal/lobby"
)

const (
	outboxSize   = 16
	writeTimeout = 3 * time.Second
)

// Handler upgrades the connection, registers the session with the registry
// and pumps payloads out until the peer goes away. Deregistration is
// deferred so cleanup runs exactly once however the reader loop ends.
func Handler(lb *lobby.Lobby, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("accept failed", zap.Int64("user_id", userID), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		sess := lobby.NewSession(outboxSize)
		lb.Inbox() <- lobby.Connect{UserID: userID, Session: sess}
		defer func() { lb.Inbox() <- lobby.Disconnect{UserID: userID, Session: sess} }()

		// Writer goroutine: drain the session outbox into the socket. The
		// registry closes the outbox on disconnect or supersede, which ends
		// the range; closing the connection then unblocks the reader too.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			defer conn.Close(websocket.StatusGoingAway, "session closed")
			for payload := range sess.Outbox() {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					cancel()
					return
				}
				cancel()
			}
		}()

		// Reader loop. Inbound frames are opaque control signals; their only
		// meaning here is "the connection is still alive". Read errors end
		// the session and the deferred Disconnect runs the cleanup path.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				log.Debug("read ended", zap.Int64("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

// Package lobby is the in-memory directory of live client connections keyed
// by user id. One goroutine owns the session table; every mutation and every
// send goes through its inbox, so connects, disconnects and deliveries never
// interleave inconsistently.
package lobby

import (
	"context"

	"go.uber.org/zap"
)

type Msg interface{ isLobbyMsg() }

type Connect struct {
	UserID  int64
	Session *Session
}

func (Connect) isLobbyMsg() {}

type Disconnect struct {
	UserID  int64
	Session *Session
}

func (Disconnect) isLobbyMsg() {}

type SendMsg struct {
	UserID  int64
	Payload []byte
}

func (SendMsg) isLobbyMsg() {}

type SendManyMsg struct {
	UserIDs []int64
	Payload []byte
}

func (SendManyMsg) isLobbyMsg() {}

type BroadcastExceptMsg struct {
	Except  []int64
	Payload []byte
}

func (BroadcastExceptMsg) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// View reflects internal state without data races; test-only.
type View struct {
	NumSessions int
	UserIDs     []int64
}

// Session is one live connection's outbound mailbox. The ws handler drains
// Outbox into the socket; the registry only ever trySends into it.
type Session struct {
	outbox chan []byte
}

func NewSession(buffer int) *Session {
	return &Session{outbox: make(chan []byte, buffer)}
}

func (s *Session) Outbox() <-chan []byte { return s.outbox }

func (s *Session) trySend(payload []byte) bool {
	select {
	case s.outbox <- payload:
		return true
	default:
		return false
	}
}

// CleanupFunc runs after a session is removed, off the registry goroutine.
type CleanupFunc func(ctx context.Context, userID int64)

type Lobby struct {
	inbox    chan Msg
	sessions map[int64]*Session
	cleanup  CleanupFunc
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewLobby(parent context.Context, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		inbox:    make(chan Msg, 64),
		sessions: make(map[int64]*Session),
		log:      log.Named("lobby"),
		ctx:      ctx,
		cancel:   cancel,
	}
	go l.loop()
	return l
}

// SetCleanup installs the disconnect-cleanup hook. Call before any
// connection is served.
func (l *Lobby) SetCleanup(fn CleanupFunc) { l.cleanup = fn }

func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send, SendMany and BroadcastExcept are the notifier face used by the room
// service; they only enqueue onto the actor inbox.
func (l *Lobby) Send(userID int64, payload []byte) {
	l.inbox <- SendMsg{UserID: userID, Payload: payload}
}

func (l *Lobby) SendMany(userIDs []int64, payload []byte) {
	l.inbox <- SendManyMsg{UserIDs: userIDs, Payload: payload}
}

func (l *Lobby) BroadcastExcept(except []int64, payload []byte) {
	l.inbox <- BroadcastExceptMsg{Except: except, Payload: payload}
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Connect:
				// Last connection wins. Closing the superseded outbox ends
				// its writer goroutine; only the actor ever sends on it, so
				// the close cannot race a send.
				if old, ok := l.sessions[msg.UserID]; ok && old != msg.Session {
					close(old.outbox)
				}
				l.sessions[msg.UserID] = msg.Session
				l.log.Debug("session connected", zap.Int64("user_id", msg.UserID))

			case Disconnect:
				// Only the exact registered handle may evict itself, so a
				// stale teardown never removes a newer connection.
				if l.sessions[msg.UserID] != msg.Session {
					break
				}
				delete(l.sessions, msg.UserID)
				close(msg.Session.outbox)
				l.log.Debug("session disconnected", zap.Int64("user_id", msg.UserID))
				if l.cleanup != nil {
					go l.cleanup(l.ctx, msg.UserID)
				}

			case SendMsg:
				l.deliver(msg.UserID, msg.Payload)

			case SendManyMsg:
				for _, id := range msg.UserIDs {
					l.deliver(id, msg.Payload)
				}

			case BroadcastExceptMsg:
				excluded := make(map[int64]bool, len(msg.Except))
				for _, id := range msg.Except {
					excluded[id] = true
				}
				for id := range l.sessions {
					if !excluded[id] {
						l.deliver(id, msg.Payload)
					}
				}

			case GetState:
				ids := make([]int64, 0, len(l.sessions))
				for id := range l.sessions {
					ids = append(ids, id)
				}
				msg.Reply <- View{NumSessions: len(l.sessions), UserIDs: ids}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) deliver(userID int64, payload []byte) {
	sess, ok := l.sessions[userID]
	if !ok {
		// Recipient offline; notifications are best-effort.
		l.log.Debug("recipient offline", zap.Int64("user_id", userID))
		return
	}
	if !sess.trySend(payload) {
		// Full outbox: drop the payload rather than block the registry.
		l.log.Warn("dropping payload for slow client", zap.Int64("user_id", userID))
	}
}

func (l *Lobby) shutdown() {
	for id, sess := range l.sessions {
		close(sess.outbox)
		delete(l.sessions, id)
	}
	l.cancel()
}

package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ugorji/go/codec"

	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

const (
	// sessionBuffer is how many pending events a session may lag behind
	// before it is considered slow and dropped.
	sessionBuffer = 16

	writeWait = 10 * time.Second
)

var hubJSON codec.JsonHandle

// Hub fans notifications out to live websocket sessions. Accounts
// subscribe through Serve; events for an account go to every session it
// has open. A session that cannot keep up is dropped rather than
// allowed to stall the rest.
type Hub struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[sessionKey]map[*session]struct{}
}

type sessionKey struct {
	tenant  int64
	account string
}

type session struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// NewHub creates the websocket fanout.
func NewHub(logger *slog.Logger, met *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "hub"),
		metrics: met,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[sessionKey]map[*session]struct{}),
	}
}

// Serve upgrades the request and keeps the session registered until the
// peer disconnects. The caller has already authenticated the account.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenant int64, account string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := &session{
		conn: conn,
		send: make(chan []byte, sessionBuffer),
	}
	key := sessionKey{tenant: tenant, account: account}

	h.mu.Lock()
	if h.sessions[key] == nil {
		h.sessions[key] = make(map[*session]struct{})
	}
	h.sessions[key][s] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("session opened", "tenant", tenant, "account", account)

	go h.writeLoop(s)

	// Inbound frames are ignored; the read loop only notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.drop(key, s)
	h.logger.Info("session closed", "tenant", tenant, "account", account)
	return nil
}

func (h *Hub) writeLoop(s *session) {
	defer s.conn.Close()
	for msg := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) drop(key sessionKey, s *session) {
	h.mu.Lock()
	h.dropLocked(key, s)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(key sessionKey, s *session) {
	if set, ok := h.sessions[key]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.sessions, key)
			}
			s.close()
		}
	}
}

// Send routes the notification to every open session of its recipient.
// No sessions is not an error; the hub is one sink among several.
func (h *Hub) Send(ctx context.Context, n market.Notification) error {
	if n.RecipientClass != market.RecipientUser {
		return nil
	}

	var msg []byte
	if err := codec.NewEncoderBytes(&msg, &hubJSON).Encode(n); err != nil {
		return err
	}

	key := sessionKey{tenant: n.Tenant, account: n.RecipientKey}

	// The nonblocking send happens under the lock so it cannot race a
	// concurrent drop closing the channel.
	h.mu.Lock()
	var slow []*session
	for s := range h.sessions[key] {
		select {
		case s.send <- msg:
			h.metrics.Notification(metrics.NotifyDelivered)
		default:
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.logger.Warn("dropping slow session",
			"tenant", n.Tenant, "account", n.RecipientKey)
		h.dropLocked(key, s)
		h.metrics.Notification(metrics.NotifyFailed)
	}
	h.mu.Unlock()
	return nil
}

// Close drops every session. New subscriptions after Close still work;
// it exists for orderly shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, set := range h.sessions {
		for s := range set {
			s.close()
		}
		delete(h.sessions, key)
	}
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/driftd/internal/httputil"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/model"
)

const (
	streamSendBuffer = 32
	writeWait        = 10 * time.Second
	pingInterval     = 30 * time.Second
	pongWait         = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The auth layer fronting this server owns origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans freshly emitted events out to websocket subscribers, filtered by
// tenant. Delivery is best effort: a subscriber that cannot keep up is
// dropped and must reconnect.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	tenantID string
	send     chan model.IntegrityEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish delivers an event to every subscriber of its tenant without
// blocking the emitter.
func (h *Hub) Publish(ev model.IntegrityEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if sub.tenantID != ev.TenantID {
			continue
		}
		select {
		case sub.send <- ev:
		default:
			// Slow consumer: drop it rather than stall ingestion.
			delete(h.subs, sub)
			close(sub.send)
		}
	}
}

// Close detaches every subscriber. Further publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.send)
	}
	h.subs = nil
}

func (h *Hub) subscribe(tenantID string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{tenantID: tenantID, send: make(chan model.IntegrityEvent, streamSendBuffer)}
	h.subs[sub] = struct{}{}
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// handleEventStream upgrades the connection and pushes events emitted after
// subscription. There is no replay; the query endpoint covers history.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sc, err := requestScope(r, "")
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if s.hub == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Debug("websocket upgrade failed", logging.KeyError, err)
		return
	}

	sub, ok := s.hub.subscribe(sc.tenantID)
	if !ok {
		conn.Close()
		return
	}
	log.Debug("event stream subscribed", logging.KeyTenantID, sc.tenantID)

	go s.streamWriter(conn, sub)
	s.streamReader(conn, sub)
}

// streamReader consumes control frames until the peer goes away, then tears
// the subscription down.
func (s *Server) streamReader(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		s.hub.unsubscribe(sub)
		conn.Close()
	}()

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

func (s *Server) streamWriter(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
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

package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"music-tutor/backend/internal/agent"
	"music-tutor/backend/pkg/logger"
)

const (
	// sendBuffer is how many events a subscriber may lag behind before it is dropped
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	// Same-origin is not enforced; the API already answers any origin
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Event is one run status as delivered to websocket subscribers
type Event struct {
	SessionID string      `json:"session_id"`
	RunID     string      `json:"run_id"`
	State     agent.State `json:"state"`
	Message   string      `json:"message,omitempty"`
	Tool      string      `json:"tool,omitempty"`
	At        time.Time   `json:"at"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans run status out to the websocket subscribers of each session
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger.Named("events"),
	}
}

// ObserverFor returns an agent.Observer publishing to sessionID's subscribers
func (h *Hub) ObserverFor(sessionID string) agent.Observer {
	return agent.ObserverFunc(func(_ context.Context, status agent.Status) {
		h.Publish(Event{
			SessionID: sessionID,
			RunID:     status.RunID.String(),
			State:     status.State,
			Message:   status.Message,
			Tool:      status.Tool,
			At:        status.At,
		})
	})
}

// Publish delivers ev without blocking. A subscriber whose buffer is full
// is disconnected.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.send <- ev:
		default:
			h.logger.Warn("Dropping slow subscriber", zap.String("session_id", ev.SessionID))
			h.removeLocked(ev.SessionID, sub)
		}
	}
}

// Subscribers returns how many connections are listening on sessionID
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// CloseSession disconnects every subscriber of sessionID
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		h.removeLocked(sessionID, sub)
	}
}

// Serve upgrades the request and streams sessionID's events until the
// client goes away
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{conn: conn, send: make(chan Event, sendBuffer)}
	h.add(sessionID, sub)
	h.logger.Debug("Subscriber connected", zap.String("session_id", sessionID))

	go h.writePump(sessionID, sub)
	go h.readPump(sessionID, sub)
	return nil
}

func (h *Hub) add(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
}

func (h *Hub) remove(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID, sub)
}

func (h *Hub) removeLocked(sessionID string, sub *subscriber) {
	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
	sub.close()
}

// writePump owns all writes to the connection
func (h *Hub) writePump(sessionID string, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Write failed", zap.String("session_id", sessionID), zap.Error(err))
				h.remove(sessionID, sub)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sessionID, sub)
				return
			}
		}
	}
}

// readPump discards client frames and notices when the client leaves
func (h *Hub) readPump(sessionID string, sub *subscriber) {
	defer h.remove(sessionID, sub)

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}
	}
}

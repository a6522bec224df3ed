package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pglobe/pkg/model"
)

// WSMessage is the envelope pushed to dashboard subscribers.
type WSMessage struct {
	Type    string      `json:"type"` // network_stats
	Payload interface{} `json:"payload,omitempty"`
}

// subscriber wraps one connection with a write lock. gorilla/websocket
// allows a single concurrent writer, and the initial replay can race a
// broadcast from the refresh goroutine on the same connection.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(msg WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Hub fans the per-cycle network stats out to connected dashboards.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	last *model.NetworkStats
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  log,
		subs: map[*subscriber]struct{}{},
	}
}

// HandleWS upgrades a dashboard connection. New subscribers immediately get
// the stats from the last completed cycle so the UI never starts blank.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	sub := &subscriber{conn: c}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	last := h.last
	h.mu.Unlock()

	if last != nil {
		if err := sub.send(WSMessage{Type: "network_stats", Payload: last}); err != nil {
			h.drop(sub)
			return
		}
	}
	go h.readLoop(sub)
}

// Broadcast pushes the latest stats to every subscriber.
func (h *Hub) Broadcast(stats model.NetworkStats) {
	msg := WSMessage{Type: "network_stats", Payload: &stats}

	h.mu.Lock()
	h.last = &stats
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.send(msg); err != nil {
			h.drop(sub)
		}
	}
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// readLoop drains client frames; dashboards only listen, so anything that
// arrives besides control frames is ignored.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	_ = sub.conn.Close()
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

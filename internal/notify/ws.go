package notify

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/bulk-logistics/internal/models"
)

// WSSession is one connected dashboard client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(ev models.ShipmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry fans shipment events out to dashboard websocket clients.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[*WSSession]bool
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[*WSSession]bool)} }

func (r *WSRegistry) Add(conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.sessions[s] = true
	r.mu.Unlock()
	return s
}

func (r *WSRegistry) Remove(s *WSSession) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
	s.conn.Close()
}

// Broadcast pushes the event to every session, dropping the ones whose
// connections have gone away.
func (r *WSRegistry) Broadcast(ev models.ShipmentEvent) {
	r.mu.RLock()
	sessions := make([]*WSSession, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.send(ev); err != nil {
			r.Remove(s)
		}
	}
}

package signal

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type member struct {
	id   string
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

func (m *member) close() {
	m.once.Do(func() { close(m.done) })
}

// Server relays signals between members. Members join with ?id=<peer id>.
type Server struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	members map[string]*member
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:  logger,
		members: make(map[string]*member),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket", "error", err)
		return
	}

	m := &member{id: id, conn: conn, send: make(chan Message, 64), done: make(chan struct{})}
	if !s.join(m) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "id in use"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go s.writePump(m)
	s.readPump(m)
}

// Members returns the ids of everyone currently joined.
func (s *Server) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) join(m *member) bool {
	s.mu.Lock()
	if _, exists := s.members[m.id]; exists {
		s.mu.Unlock()
		return false
	}
	existing := make([]string, 0, len(s.members))
	for id := range s.members {
		existing = append(existing, id)
	}
	s.members[m.id] = m
	s.mu.Unlock()

	sort.Strings(existing)
	s.deliver(m, Message{Type: TypePeers, Peers: existing})
	s.broadcast(m.id, Message{Type: TypeJoined, From: m.id})
	s.logger.Info("Member joined", "id", m.id, "members", len(existing)+1)
	return true
}

func (s *Server) leave(m *member) {
	s.mu.Lock()
	if cur, ok := s.members[m.id]; ok && cur == m {
		delete(s.members, m.id)
	}
	s.mu.Unlock()

	m.close()
	s.broadcast(m.id, Message{Type: TypeLeft, From: m.id})
	s.logger.Info("Member left", "id", m.id)
}

func (s *Server) broadcast(from string, msg Message) {
	s.mu.RLock()
	targets := make([]*member, 0, len(s.members))
	for id, m := range s.members {
		if id != from {
			targets = append(targets, m)
		}
	}
	s.mu.RUnlock()

	for _, m := range targets {
		s.deliver(m, msg)
	}
}

func (s *Server) deliver(m *member, msg Message) {
	select {
	case m.send <- msg:
	case <-m.done:
	default:
		s.logger.Warn("Send buffer full, dropping message", "id", m.id, "type", msg.Type)
	}
}

func (s *Server) readPump(m *member) {
	defer s.leave(m)

	m.conn.SetReadLimit(maxMessageSize)
	_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := m.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Websocket read failed", "id", m.id, "error", err)
			}
			return
		}
		if msg.Type != TypeSignal || msg.To == "" {
			continue
		}

		s.mu.RLock()
		target, ok := s.members[msg.To]
		s.mu.RUnlock()
		if !ok {
			s.logger.Debug("Signal for unknown member", "from", m.id, "to", msg.To)
			continue
		}
		msg.From = m.id
		s.deliver(target, msg)
	}
}

func (s *Server) writePump(m *member) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() { _ = m.conn.Close() }()

	for {
		select {
		case msg := <-m.send:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteJSON(msg); err != nil {
				s.logger.Warn("Websocket write failed", "id", m.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-m.done:
			return
		}
	}
}

package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

const (
	// SendBuffer is the per-client queue; events beyond it are dropped
	SendBuffer = 256
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the wire format in both directions
type Message struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Event   string            `json:"event,omitempty"`
	Events  []string          `json:"events,omitempty"`
	Details *delegate.Details `json:"details,omitempty"`
	Message string            `json:"message,omitempty"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu sync.RWMutex
	// nil means every event
	events map[string]bool
}

func (s *subscriber) wants(event string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events == nil || s.events[event]
}

func (s *subscriber) subscribe(events []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(events) == 0 {
		s.events = nil
		return
	}
	s.events = make(map[string]bool, len(events))
	for _, e := range events {
		s.events[e] = true
	}
}

// Hub streams network delegate events to websocket clients
type Hub struct {
	delegate *delegate.Delegate
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	mu       sync.RWMutex
	clients  map[string]*subscriber
	observer id.ListenerID
	closed   bool
}

// NewHub creates a hub and starts observing d
func NewHub(d *delegate.Delegate, metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		delegate: d,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "ws")),
		clients:  make(map[string]*subscriber),
	}
	h.observer = d.Observe(h.broadcast)
	return h
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast runs on the IO sequence and never blocks
func (h *Hub) broadcast(ev delegate.Event, details delegate.Details) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	name := ev.String()
	data, err := sonic.Marshal(Message{Type: "event", Event: name, Details: &details})
	if err != nil {
		h.logger.Warn("Failed to encode event", zap.String("event", name), zap.Error(err))
		return
	}
	for _, s := range h.clients {
		if !s.wants(name) {
			continue
		}
		select {
		case s.send <- data:
		default:
			h.logger.Debug("Dropping event for slow client", zap.String("client", s.id))
		}
	}
}

// HandleConnection upgrades the request and serves one client until it leaves
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, SendBuffer),
	}
	if !h.add(s) {
		conn.Close()
		return
	}
	defer h.remove(s)

	done := make(chan struct{})
	go h.writeLoop(s, done)
	defer close(done)

	h.reply(s, Message{Type: "system", ID: s.id, Message: "connected"})
	h.readLoop(s)
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[s.id] = s
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	h.logger.Info("Client connected", zap.String("client", s.id))
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s.id]; !ok {
		return
	}
	delete(h.clients, s.id)
	s.conn.Close()
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	h.logger.Info("Client disconnected", zap.String("client", s.id))
}

func (h *Hub) readLoop(s *subscriber) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("client", s.id), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.reply(s, Message{Type: "error", Message: "invalid message"})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "ping":
			h.reply(s, Message{Type: "pong"})
		case "subscribe":
			if bad := unknownEvents(msg.Events); len(bad) > 0 {
				h.reply(s, Message{Type: "error", Message: "unknown events", Events: bad})
				continue
			}
			s.subscribe(msg.Events)
			h.reply(s, Message{Type: "subscribed", Events: msg.Events})
		default:
			h.reply(s, Message{Type: "error", Message: "unknown message type"})
		}
	}
}

func (h *Hub) writeLoop(s *subscriber, done <-chan struct{}) {
	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write failed", zap.String("client", s.id), zap.Error(err))
				s.conn.Close()
				return
			}
			if h.metrics != nil {
				h.metrics.RecordWSMessage("out", "text")
			}
		case <-done:
			return
		}
	}
}

// reply queues a control message for s
func (h *Hub) reply(s *subscriber, msg Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// Close stops observing and disconnects every client
func (h *Hub) Close() {
	h.delegate.Unobserve(h.observer)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for key, s := range h.clients {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		s.conn.Close()
		delete(h.clients, key)
		if h.metrics != nil {
			h.metrics.DecWSConnections()
		}
	}
}

func unknownEvents(names []string) []string {
	var bad []string
	for _, n := range names {
		if _, ok := delegate.ParseEvent(n); !ok {
			bad = append(bad, n)
		}
	}
	return bad
}

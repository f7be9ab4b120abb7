package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/kb"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
	sendBuffer     = 16
)

// Stream message types.
const (
	MessagePositions = "positions"
	MessageIngested  = "ingested"
	MessageWiped     = "wiped"
)

// StreamMessage is one frame pushed to websocket subscribers.
type StreamMessage struct {
	Type      string           `json:"type"`
	Time      time.Time        `json:"time"`
	Count     int              `json:"count,omitempty"`
	Positions []query.Position `json:"positions,omitempty"`
	Failures  []failureView    `json:"failures,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans stream messages out to websocket clients. A client that cannot
// keep up is disconnected rather than allowed to stall the broadcast.
type Hub struct {
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	log      logging.Logger
	now      func() time.Time
}

// NewHub returns an empty hub.
func NewHub(log logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logging.OrNoop(log),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, r, errorf(ErrBadRequest, "websocket upgrade required"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug(r.Context(), "stream client connected", logging.Int("clients", n))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards inbound frames and unregisters the client when the
// connection closes.
func (h *Hub) readLoop(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(context.Background(), "stream client read failed", logging.Err(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// remove unregisters c and closes its send channel exactly once.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(msg StreamMessage) error {
	if msg.Time.IsZero() {
		msg.Time = h.now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warn(context.Background(), "stream client too slow; disconnected")
		}
	}
	return nil
}

// PublishEvent forwards a knowledge base change to the stream.
func (h *Hub) PublishEvent(ev kb.Event) {
	msg := StreamMessage{Count: len(ev.Records)}
	switch ev.Type {
	case kb.EventIngested:
		msg.Type = MessageIngested
	case kb.EventWiped:
		msg.Type = MessageWiped
	default:
		return
	}
	if err := h.Broadcast(msg); err != nil {
		h.log.Warn(context.Background(), "stream broadcast failed", logging.Err(err))
	}
}

// PublishPositions computes the current position of every tracked object
// and broadcasts it. It is a no-op when nobody is listening.
func (h *Hub) PublishPositions(ctx context.Context, q *query.Service) error {
	if h.Len() == 0 {
		return nil
	}
	positions, failures, err := q.RealtimeAll(ctx)
	if err != nil {
		return err
	}
	return h.Broadcast(StreamMessage{
		Type:      MessagePositions,
		Count:     len(positions),
		Positions: positions,
		Failures:  toFailureViews(failures),
	})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

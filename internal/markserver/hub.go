package markserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/phroun/copus"
)

// Event kinds sent to subscribers.
const (
	EventCreated = "created"
	EventDeleted = "deleted"
)

// Event announces a change to a document's marks.
type Event struct {
	Event string      `json:"event"`
	Mark  copus.MarkX `json:"mark"`
}

// Publisher delivers mark events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type message struct {
	opusUUID string
	payload  []byte
}

// client is a websocket subscriber to one document's events.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	opusUUID string
	send     chan []byte
}

// Hub maintains the set of websocket subscribers and broadcasts events to
// those watching the event's document.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}

	count   atomic.Int64
	logger  zerolog.Logger
	metrics *Metrics
}

// NewHub creates a hub. Run must be called for it to make progress.
func NewHub(logger zerolog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	if h.metrics != nil {
		h.metrics.subscribers.Set(float64(len(h.clients)))
	}
}

// Run serves registrations and broadcasts until ctx is done, then drops
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount()
			return
		case c := <-h.register:
			h.clients[c] = true
			h.setCount()
			h.logger.Debug().Str("opus", c.opusUUID).Int("clients", len(h.clients)).Msg("subscriber registered")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount()
				h.logger.Debug().Str("opus", c.opusUUID).Int("clients", len(h.clients)).Msg("subscriber unregistered")
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.opusUUID != msg.opusUUID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					close(c.send)
					delete(h.clients, c)
					h.setCount()
					h.logger.Warn().Str("opus", c.opusUUID).Msg("dropping slow subscriber")
				}
			}
		}
	}
}

// Publish hands an event to the local subscribers of its document.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.deliver(ctx, ev.Mark.OpusUUID, payload)
}

func (h *Hub) deliver(ctx context.Context, opusUUID string, payload []byte) error {
	select {
	case h.broadcast <- message{opusUUID: opusUUID, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWs upgrades the request and subscribes it to a document's events.
func (h *Hub) serveWs(w http.ResponseWriter, r *http.Request, opusUUID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, opusUUID: opusUUID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump discards incoming messages and unregisters on disconnect.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/ldmon/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header: non-browser clients
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Event is a message pushed to WebSocket clients.
type Event struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Event types
const (
	EventAnalysisCompleted = "analysis_completed"
	EventAnalysisFailed    = "analysis_failed"
	EventStoreImported     = "store_imported"
)

// client is one WebSocket connection. Only its write pump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans analysis events out to connected WebSocket clients.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	// done is closed when Run returns
	done chan struct{}

	// count mirrors len(clients) for readers outside Run
	mu    sync.RWMutex
	count int
}

// NewHub creates an idle hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			log.Printf("📡 WebSocket client connected (total: %d)", h.setCount())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.Printf("📡 WebSocket client disconnected (total: %d)", h.setCount())
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					log.Println("⚠️  WebSocket client too slow, disconnecting it")
					h.drop(c)
				}
			}
			h.setCount()
		}
	}
}

// drop removes c and closes its queue, which stops its write pump.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) setCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count = len(h.clients)
	return h.count
}

// Publish queues an event for every client. Events are dropped when the
// queue is full.
func (h *Hub) Publish(eventType string, data interface{}) {
	if !h.HasClients() {
		return
	}

	message, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now().Unix(), Data: data})
	if err != nil {
		log.Printf("❌ Failed to encode %s event: %v", eventType, err)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("⚠️  Broadcast channel full, dropping %s event", eventType)
	}
}

// HasClients reports whether any WebSocket client is connected.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count > 0
}

// ServeWS upgrades a request on /v1/ws and streams events to it until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, config.WSChannelBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()

	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		conn.Close()
	}()
	c.readPump()
}

// readPump discards client frames; it only keeps the read deadline moving
// with pongs and notices when the client disconnects.
func (c *client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️  WebSocket read error: %v", err)
			}
			return
		}
	}
}

// writePump sends queued events and periodic pings until the hub closes
// the queue or a write fails.
func (c *client) writePump() {
	ping := time.NewTicker(config.WSPingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package api

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/orchestrator-core/orchestrator/internal/events"
)

// websocketBufferSize bounds a client's pending-send queue, matching the
// teacher's own constant for burst traffic.
const websocketBufferSize = 256

// client is one websocket connection streaming one context's progress.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	contextID string
}

// hub fans subscribed Bus events out to the websocket clients watching
// their context.
type hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	bus        *events.Bus
}

func newHub(bus *events.Bus) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
	}
}

// run owns the clients map; only this goroutine ever mutates it.
func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			go h.pump(c)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

// pump subscribes c to its context's Bus stream and forwards JSON-encoded
// StreamEvents onto c.send until the websocket write loop closes it.
func (h *hub) pump(c *client) {
	ch := h.bus.Subscribe(c.contextID, nil)
	defer h.bus.Unsubscribe(c.contextID, ch)
	for se := range ch {
		data, err := json.Marshal(se)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.unregister <- c
			return
		}
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readLoop drains and discards client-sent frames so the connection's
// close/ping control frames are still handled by gorilla/websocket, and
// unregisters the client once the peer disconnects.
func (c *client) readLoop(h *hub) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

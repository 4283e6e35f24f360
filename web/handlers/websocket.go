package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ExtractedEvent is pushed to WebSocket clients whenever the extraction
// pipeline finishes a job.
type ExtractedEvent struct {
	Type        string    `json:"type"`
	TurnID      int64     `json:"turn_id"`
	FactsStored int       `json:"facts_stored"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewExtractedEvent builds the wire event for one completed extraction.
func NewExtractedEvent(turnID int64, factsStored int) ExtractedEvent {
	return ExtractedEvent{
		Type:        "memory.extracted",
		TurnID:      turnID,
		FactsStored: factsStored,
		Timestamp:   time.Now(),
	}
}

// EventHub manages WebSocket connections and fans broadcast messages out
// to every connected client.
type EventHub struct {
	allowedOrigins map[string]bool

	clients    map[hubClient]bool
	broadcast  chan any
	register   chan hubClient
	unregister chan hubClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// hubClient allows both real connections and test doubles.
type hubClient interface {
	sendChannel() chan []byte
	closeConn()
}

// NewEventHub creates a hub accepting connections from the given origins.
// An empty list allows any origin (development use).
func NewEventHub(allowedOrigins []string) *EventHub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		allowedOrigins: origins,
		clients:        make(map[hubClient]bool),
		broadcast:      make(chan any, 256),
		register:       make(chan hubClient),
		unregister:     make(chan hubClient),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes register, unregister, and broadcast events until Stop.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("handlers: websocket client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.sendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("handlers: websocket client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("handlers: marshaling websocket message: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.sendChannel() <- data:
				default:
					// A client that cannot keep up is dropped.
					close(client.sendChannel())
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.sendChannel())
		client.closeConn()
	}
	h.clients = make(map[hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues a message for all connected clients. Never blocks; a
// full broadcast buffer drops the message.
func (h *EventHub) Broadcast(message any) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("handlers: websocket broadcast buffer full, dropping message")
	}
}

// ServeHTTP upgrades the request to a WebSocket connection.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && len(h.allowedOrigins) > 0 {
		if !h.allowedOrigins[origin] {
			http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.allowedOrigins) == 0,
	})
	if err != nil {
		log.Printf("handlers: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// wsClient is one live WebSocket connection.
type wsClient struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) closeConn() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *wsClient) writePump() {
	defer func() {
		c.hub.unregister <- c
		c.closeConn()
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains client messages so disconnections are noticed.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.closeConn()
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients: a book snapshot or a trade print for one
// ticker, or an error reply to a bad subscription request.
type Msg struct {
	Type   string `json:"type"`
	Ticker string `json:"ticker,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TickerValidator reports whether ticker is a tradable instrument — the base
// (settlement currency) ticker never has an order book and is rejected, as
// is any ticker that doesn't exist.
type TickerValidator func(ticker string) bool

// Hub manages per-ticker WebSocket subscriptions. A connection may watch any
// number of tickers at once; each subscribe/unsubscribe message only touches
// the one ticker it names.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*conn]bool // ticker -> set of conns
	allConn   map[*conn]bool
	validator TickerValidator
}

type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	hub     *Hub
	mu      sync.Mutex
	tickers map[string]bool
}

// NewHub builds a Hub that rejects subscriptions to tickers validator
// reports as unknown. A nil validator accepts every ticker.
func NewHub(validator TickerValidator) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*conn]bool),
		allConn:   make(map[*conn]bool),
		validator: validator,
	}
}

// Publish sends a message to every connection subscribed to ticker. Matches
// engine.PublishFunc's signature so a Manager can be wired straight to it.
func (h *Hub) Publish(ticker, msgType string, data any) {
	msg := Msg{Type: msgType, Ticker: ticker, Data: data}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[ticker]
	h.mu.RUnlock()
	for c := range room {
		c.enqueue(b)
	}
}

// HandleWS is the HTTP handler for WebSocket connections.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &conn{
		ws:      wsConn,
		send:    make(chan []byte, 64),
		hub:     h,
		tickers: make(map[string]bool),
	}
	h.mu.Lock()
	h.allConn[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		// slow client, drop
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		// Subscription message: {"action":"subscribe","ticker":"..."}
		var sub struct {
			Action string `json:"action"`
			Ticker string `json:"ticker"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.Ticker)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.Ticker)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, ticker string) {
	if h.validator != nil && !h.validator(ticker) {
		if b, err := json.Marshal(Msg{Type: "error", Ticker: ticker, Error: "unknown ticker"}); err == nil {
			c.enqueue(b)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[ticker]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[ticker] = room
	}
	room[c] = true

	c.mu.Lock()
	c.tickers[ticker] = true
	c.mu.Unlock()
}

func (h *Hub) unsubscribe(c *conn, ticker string) {
	h.mu.Lock()
	if room, ok := h.rooms[ticker]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, ticker)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.tickers, ticker)
	c.mu.Unlock()
}

func (h *Hub) removeConn(c *conn) {
	c.mu.Lock()
	tickers := make([]string, 0, len(c.tickers))
	for t := range c.tickers {
		tickers = append(tickers, t)
	}
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	for _, t := range tickers {
		if room, ok := h.rooms[t]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, t)
			}
		}
	}
	close(c.send)
}

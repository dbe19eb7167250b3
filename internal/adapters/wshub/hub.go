package wshub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	typeSubscribe             = "subscribe"
	typeUnsubscribe           = "unsubscribe"
	typeSubscriptionConfirmed = "subscription_confirmed"
	typePing                  = "ping"
	typePong                  = "pong"
)

// envelope is the wire shape of every outgoing message.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// request is an incoming client message.
type request struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Config holds hub settings.
type Config struct {
	Logger     ports.Logger
	SendBuffer int      // per-client queue length; a client whose queue is full is dropped
	Origins    []string // allowed Origin headers, empty allows all
}

// Hub fans published events out to websocket clients. It implements ports.Publisher and http.Handler.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     ports.Logger
	sendBuffer int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	symbols map[string]bool // nil means every symbol
}

// New creates a hub.
func New(cfg Config) *Hub {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	h := &Hub{
		logger:     cfg.Logger,
		sendBuffer: buf,
		clients:    make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Origins),
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends event to every interested client without blocking.
// Symbol-scoped events honour client subscriptions; account events go to everyone.
func (h *Hub) Publish(ctx context.Context, event domain.Event) {
	msg, err := json.Marshal(envelope{Type: event.EventType(), Data: event})
	if err != nil {
		h.logger.Error(ctx, err, "Publish: Failed to encode event", map[string]interface{}{"type": event.EventType()})
		return
	}
	symbol := event.EventSymbol()

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if symbol != "" && !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.logger.Warn(ctx, "Publish: Dropping slow clients", map[string]interface{}{"count": len(slow), "type": event.EventType()})
	}
	for _, c := range slow {
		h.unregister(c)
	}
}

// ServeHTTP upgrades the connection and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.Warn(r.Context(), "ServeHTTP: Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info(r.Context(), "ServeHTTP: Client connected", map[string]interface{}{"remote": conn.RemoteAddr().String(), "clients": total})

	go c.writePump()
	c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (c *client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbols == nil || c.symbols[symbol]
}

func (c *client) subscribe(symbols []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(symbols) == 0 {
		c.symbols = nil
		return []string{}
	}
	c.symbols = make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || c.symbols[s] {
			continue
		}
		c.symbols[s] = true
		out = append(out, s)
	}
	return out
}

// reply queues a direct answer to this client, dropping it when the queue is full.
func (c *client) reply(msgType string, data interface{}) {
	msg, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn(context.Background(), "readPump: Unexpected close", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		switch req.Type {
		case typeSubscribe:
			c.reply(typeSubscriptionConfirmed, map[string]interface{}{"symbols": c.subscribe(req.Symbols)})
		case typeUnsubscribe:
			c.subscribe(nil)
			c.reply(typeSubscriptionConfirmed, map[string]interface{}{"symbols": []string{}})
		case typePing:
			c.reply(typePong, map[string]interface{}{"time": time.Now().UTC()})
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

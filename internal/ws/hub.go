package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/pkg/kv"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// ConnectionMetrics counts open connections. Implemented by metrics.Metrics.
type ConnectionMetrics interface {
	IncrementConnections(ctx context.Context)
	DecrementConnections(ctx context.Context)
}

// Hub bridges store pub/sub channels to WebSocket clients. Every client
// holds its own store subscription for the channels it asked for.
type Hub struct {
	store    kv.Store
	logger   *zap.SugaredLogger
	metrics  ConnectionMetrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  kv.Subscription
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Message is the envelope written to clients
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ClientRequest is what a client may send: {"type":"publish","topic":...,"data":...}
type ClientRequest struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// NewHub creates a hub. Origins not in allowedOrigins are rejected unless the
// list is empty; requests without an Origin header are always accepted.
func NewHub(store kv.Store, logger *zap.SugaredLogger, metrics ConnectionMetrics, allowedOrigins []string) *Hub {
	h := &Hub{
		store:   store,
		logger:  logger,
		metrics: metrics,
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Envelope wraps a store message for delivery. Payloads that are not JSON
// are sent as a JSON string.
func Envelope(msg *kv.Message, now time.Time) ([]byte, error) {
	data := json.RawMessage(msg.Payload)
	if !json.Valid(msg.Payload) {
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return nil, err
		}
		data = quoted
	}
	return json.Marshal(Message{
		Type:      "message",
		Topic:     msg.Channel,
		Data:      data,
		Timestamp: now.Unix(),
	})
}

// ParseChannels reads the comma separated channels query parameter
func ParseChannels(r *http.Request) []string {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		return nil
	}
	var channels []string
	for _, ch := range strings.Split(raw, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	return channels
}

// HandleWebSocket upgrades the request and streams the channels named in
// the channels query parameter
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels := ParseChannels(r)
	if len(channels) == 0 {
		http.Error(w, "channels query parameter is required", http.StatusBadRequest)
		return
	}

	// the subscription outlives the request context once upgraded
	sub, err := h.store.Subscribe(context.WithoutCancel(r.Context()), channels...)
	if err != nil {
		h.logger.Errorw("Subscribe failed", "channels", channels, "error", err)
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		sub:  sub,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.register(client) {
		client.close()
		return
	}
	h.logger.Debugw("Client registered", "channels", channels, "remote_addr", r.RemoteAddr)

	go client.forward()
	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.IncrementConnections(context.Background())
	}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.DecrementConnections(context.Background())
	}
	h.logger.Debugw("Client unregistered")
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run blocks until ctx is done and then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.logger.Infow("WebSocket hub shutting down")

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
		c.hub.unregister(c)
	})
}

// forward moves store messages to the send queue; a client that cannot keep
// up is disconnected
func (c *Client) forward() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.sub.Channel():
			if !ok {
				return
			}
			data, err := Envelope(msg, time.Now())
			if err != nil {
				c.hub.logger.Errorw("Failed to marshal WebSocket message", "error", err)
				continue
			}
			select {
			case c.send <- data:
			case <-c.done:
				return
			default:
				c.hub.logger.Warnw("Dropping slow WebSocket client", "topic", msg.Channel)
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Client) handleMessage(message []byte) {
	var req ClientRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Warnw("Invalid client message", "error", err)
		return
	}

	switch req.Type {
	case "publish":
		if req.Topic == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if _, err := c.hub.store.Publish(ctx, req.Topic, req.Data); err != nil {
			c.hub.logger.Warnw("Client publish failed", "topic", req.Topic, "error", err)
		}
	default:
		c.hub.logger.Debugw("Ignoring client message", "type", req.Type)
	}
}

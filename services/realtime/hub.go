package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gap_strategy_backend/models"
)

// WebSocket tuning
const (
	MaxWebSocketClients   = 200
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = (WebSocketPongTimeout * 9) / 10
)

// Message types
const (
	MessageSnapshot      = "snapshot"
	MessageScanCompleted = "scan_completed"
)

// Message is the envelope pushed to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// ScanCompleted is the payload of a scan_completed message
type ScanCompleted struct {
	ScanID   string             `json:"scan_id"`
	Finished time.Time          `json:"finished_at"`
	Found    int                `json:"found"`
	Gaps     []models.GapRecord `json:"gaps"`
}

// Client is one WebSocket connection
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans scan results out to connected WebSocket clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	snapshot   func() models.ScanSnapshot
}

// NewHub creates a hub and starts its loop. snapshot, when set, is sent to
// each client right after it connects.
func NewHub(snapshot func() models.ScanSnapshot, logger zerolog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:   logger.With().Str("component", "realtime").Logger(),
		snapshot: snapshot,
	}
	go h.run()
	return h
}

// Shutdown closes every client and stops the loop
func (h *Hub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxWebSocketClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				h.logger.Warn().Int("max", MaxWebSocketClients).Msg("WebSocket client rejected: max clients reached")
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal broadcast message")
				continue
			}

			h.mu.Lock()
			var dead []*Client
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					dead = append(dead, client)
				}
			}
			for _, client := range dead {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the request and registers the client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= MaxWebSocketClients {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, 16)}
	if h.snapshot != nil {
		if data, err := json.Marshal(newMessage(MessageSnapshot, h.snapshot())); err == nil {
			client.send <- data
		}
	}

	select {
	case h.register <- client:
	case <-h.shutdown:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump(h)
}

// PublishScan is a scan observer that broadcasts the new ledger view
func (h *Hub) PublishScan(res *models.ScanResult, gaps []models.GapRecord) {
	h.Broadcast(MessageScanCompleted, ScanCompleted{
		ScanID:   res.ScanID,
		Finished: res.FinishedAt,
		Found:    len(res.Gaps),
		Gaps:     gaps,
	})
}

// Broadcast queues a message for every client without blocking the caller
func (h *Hub) Broadcast(msgType string, data interface{}) {
	select {
	case h.broadcast <- newMessage(msgType, data):
	default:
		h.logger.Warn().Str("type", msgType).Msg("broadcast queue full, dropping message")
	}
}

// ClientCount returns connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data, Time: time.Now().UTC().Format(time.RFC3339)}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; clients do not send commands
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

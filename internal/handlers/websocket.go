package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/darshilaggarwal/ravello/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const clientSendBuffer = 64

// Message is the wire envelope in both directions. Clients send
// {"type":"join","game":"crash"} to subscribe to a channel; server events
// carry channel, event and data.
type Message struct {
	Type    string `json:"type"`
	Game    string `json:"game,omitempty"`
	Channel string `json:"channel,omitempty"`
	Event   string `json:"event,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type wsClient struct {
	userID uint
	conn   *websocket.Conn

	// send is drained by the client's writer goroutine; a full buffer marks
	// the client too slow to keep. done stops writer and senders.
	send     chan *Message
	done     chan struct{}
	stop     sync.Once
	channels map[string]bool
}

// queue hands a message to the client's writer without ever blocking. It
// reports false when the buffer is full or the client is gone.
func (c *wsClient) queue(msg *Message) bool {
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.stop.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// writePump owns all conn writes for one client.
func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				// The read loop notices the dead conn and drops the client.
				c.close()
				return
			}
		}
	}
}

// Hub fans broadcast events out to subscribed websocket clients. It
// implements services.Broadcaster so the game engines never know about
// websockets. Emit only queues; each client has its own writer goroutine, so
// one slow client can never stall the tick loop or its peers.
type Hub struct {
	crash *services.CrashEngine
	log   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func NewHub(crash *services.CrashEngine, log *zap.Logger) *Hub {
	return &Hub{
		crash:   crash,
		log:     log,
		clients: make(map[*wsClient]bool),
	}
}

// Emit queues an event for every client subscribed to the channel. Clients
// whose buffers are full are dropped, never waited on.
func (h *Hub) Emit(channel, event string, payload any) {
	msg := &Message{
		Type:    "event",
		Channel: channel,
		Event:   event,
		Data:    payload,
	}

	h.mu.RLock()
	var stale []*wsClient
	for client := range h.clients {
		if !client.channels[channel] {
			continue
		}
		if !client.queue(msg) {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.log.Warn("dropping slow websocket client", zap.Uint("user", client.userID))
		h.drop(client)
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

// Handle upgrades the request and serves the client until it disconnects.
func (h *Hub) Handle(c *gin.Context) {
	userID := c.GetUint("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		userID:   userID,
		conn:     conn,
		send:     make(chan *Message, clientSendBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	go client.writePump()
	defer h.drop(client)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read", zap.Uint("user", userID), zap.Error(err))
			}
			return
		}
		h.handleMessage(c.Request.Context(), client, &msg)
	}
}

func (h *Hub) handleMessage(ctx context.Context, client *wsClient, msg *Message) {
	switch msg.Type {
	case "ping":
		client.queue(&Message{Type: "pong", Data: gin.H{"timestamp": time.Now().Unix()}})
	case "join":
		h.subscribe(ctx, client, msg.Game)
	case "leave":
		h.mu.Lock()
		delete(client.channels, msg.Game)
		h.mu.Unlock()
	}
}

func (h *Hub) subscribe(ctx context.Context, client *wsClient, channel string) {
	if channel == "" {
		return
	}

	h.mu.Lock()
	client.channels[channel] = true
	h.mu.Unlock()

	// A crash subscriber immediately gets the full round state so it can
	// render mid-round instead of waiting for the next transition.
	if channel == services.ChannelCrash {
		snap, err := h.crash.Snapshot(ctx)
		if err != nil {
			h.log.Debug("crash snapshot for subscriber", zap.Error(err))
			return
		}
		client.queue(&Message{
			Type:    "event",
			Channel: channel,
			Event:   "crash:init",
			Data:    snap,
		})
	}
}

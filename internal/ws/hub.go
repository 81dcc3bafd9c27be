package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one live WebSocket connection. Writes go through the buffered
// Send channel so a slow reader never blocks the hub. All sends must use
// TrySend and only CloseSend may close the channel, so a send can never race
// a close no matter which goroutine evicts the client.
type Client struct {
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// TrySend queues a frame without blocking. It reports false when the client
// is already closed or its buffer is full.
func (c *Client) TrySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// CloseSend marks the client dead and closes the send channel. Safe to call
// from any goroutine, any number of times.
func (c *Client) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// BroadcastMessage fans Data out to every open connection joined to Room,
// except the Sender (the sender gets its own message_delivered instead).
type BroadcastMessage struct {
	Room   int
	Sender *Client
	Data   []byte
}

type Hub struct {
	registry   *Registry
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan BroadcastMessage
	mu         sync.RWMutex
}

func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry:   registry,
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan BroadcastMessage),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.CloseSend()
			}
			h.mu.Unlock()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client == msg.Sender {
					continue
				}
				state, ok := h.registry.Lookup(client)
				if !ok || !state.Joined || state.ConversationID != msg.Room {
					continue
				}
				if !client.TrySend(msg.Data) {
					h.evict(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// evict fully tears down a slow or dead client so no later frame can reach
// it: the send channel closes, the registry entry goes, and closing the
// socket terminates its read pump. Must be called with h.mu held.
func (h *Hub) evict(client *Client) {
	client.CloseSend()
	delete(h.clients, client)
	h.registry.Remove(client)
	if client.Conn != nil {
		client.Conn.Close()
	}
}

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer   = 64
	closeTimeout = time.Second
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

// writePump is the only writer of conn. When send is closed it flushes what is
// queued, sends a close frame and closes the connection.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
}

// Broadcaster owns the outbound side of every connected client. Messages are
// queued on a buffered channel per client; a client that cannot keep up is
// disconnected rather than allowed to stall the others.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	log     zerolog.Logger
}

func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		log:     log,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, sendBuffer),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
	go c.writePump()
	return c
}

// RemoveClient stops c's writer. It is safe to call more than once.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// deliver queues data for c without blocking. member is false once c has
// been removed.
func (b *Broadcaster) deliver(c *client, data []byte) (queued, member bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return false, false
	}
	select {
	case c.send <- data:
		return true, true
	default:
		return false, true
	}
}

// SendTo queues msg for one client.
func (b *Broadcaster) SendTo(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(msg.Type)).Msg("marshal message")
		return
	}
	if queued, member := b.deliver(c, data); !queued && member {
		b.log.Warn().Msg("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

// Broadcast queues msg for every client.
func (b *Broadcaster) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(msg.Type)).Msg("marshal broadcast")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if queued, member := b.deliver(c, data); !queued && member {
			b.log.Warn().Msg("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// CloseAll disconnects every client.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

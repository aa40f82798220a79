// Package stream mirrors the event bus to websocket clients.
//
// Every connected client first receives a snapshot of the hooked sessions,
// then one JSON message per log line, exit and user notice:
//
//	{"type":"log","ts":1718000000.5,"session":"lobby","content":"Done (3.2s)!"}
//	{"type":"exit","ts":1718000042.1,"session":"lobby","exit_code":0}
//	{"type":"notice","ts":1718000042.2,"level":"error","message":"..."}
//
// The stream is read-only; clients cannot control sessions through it.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/event"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Sessions lists hooked sessions for the connect snapshot.
// *session.Registry satisfies it.
type Sessions interface {
	Names() []string
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans bus events out to websocket clients. Slow clients are
// disconnected instead of slowing the bus down.
type Broadcaster struct {
	sessions Sessions
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool

	busMu  sync.Mutex
	bus    *event.Bus
	tokens []event.Token
}

// NewBroadcaster creates a broadcaster. sessions may be nil.
func NewBroadcaster(sessions Sessions, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		sessions: sessions,
		log:      log.With().Str("component", "stream").Logger(),
		clients:  make(map[*client]bool),
	}
}

// Attach subscribes the broadcaster to log and exit events. Handlers run on
// the worker pool so encoding never happens on the UI goroutine. A second
// Attach is a no-op.
func (b *Broadcaster) Attach(bus *event.Bus) error {
	b.busMu.Lock()
	defer b.busMu.Unlock()
	if b.bus != nil {
		return nil
	}

	for _, t := range []event.Type{event.TypeLog, event.TypeExit} {
		tok, err := bus.SubscribeFunc(t, b.handle, event.WithBackground(true), event.WithPriority(-50))
		if err != nil {
			b.detachLocked()
			return err
		}
		b.bus = bus
		b.tokens = append(b.tokens, tok)
	}
	return nil
}

// Detach removes the bus subscriptions.
func (b *Broadcaster) Detach() {
	b.busMu.Lock()
	defer b.busMu.Unlock()
	b.detachLocked()
}

func (b *Broadcaster) detachLocked() {
	if b.bus == nil {
		return
	}
	for _, tok := range b.tokens {
		_ = b.bus.Unsubscribe(tok)
	}
	b.tokens = nil
	b.bus = nil
}

func (b *Broadcaster) handle(_ context.Context, ev event.Event) error {
	msg, ok := fromEvent(ev)
	if !ok {
		return nil
	}
	return b.Broadcast(msg)
}

// Notify implements adapter.Notifier by broadcasting a notice message.
func (b *Broadcaster) Notify(level adapter.Level, title, message string) {
	if err := b.Broadcast(Message{
		Type:  MsgNotice,
		TS:    event.UnixSeconds(time.Now()),
		Level: level,
		Title: title,
		Text:  message,
	}); err != nil {
		b.log.Warn().Err(err).Msg("broadcast notice")
	}
}

// AddClient registers conn. The session snapshot is queued before any
// broadcast can reach the client.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	var names []string
	if b.sessions != nil {
		names = b.sessions.Names()
	}
	if data, err := json.Marshal(snapshot(names)); err != nil {
		b.log.Error().Err(err).Msg("marshal snapshot")
	} else {
		c.send <- data
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		c.close()
		return c
	}
	b.clients[c] = true
	return c
}

// RemoveClient disconnects c.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Broadcast sends msg to every client.
func (b *Broadcaster) Broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Sends happen under the read lock; channels are only closed under the
	// write lock.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.log.Warn().Msg("stream client too slow, disconnecting")
		b.RemoveClient(c)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close detaches from the bus and disconnects every client.
func (b *Broadcaster) Close() {
	b.Detach()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
}

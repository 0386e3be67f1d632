package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned by AddObserver when the configured
// connection limit is reached.
var ErrTooManyConnections = errors.New("ws: too many connections")

// observer is one connected push channel. All outbound bytes for an
// observer go through its buffered send channel and single writePump
// goroutine, so per-observer delivery order matches broadcast order.
type observer struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu       sync.Mutex
	closed   bool
	lastSeen time.Time
}

func (o *observer) writePump() {
	defer o.conn.Close()
	for msg := range o.send {
		if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			o.hub.RemoveObserver(o)
			return
		}
	}
}

// trySend queues msg for delivery without blocking. Returns false when
// the observer is gone or its buffer is full.
func (o *observer) trySend(msg []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once, letting writePump drain
// and close the socket.
func (o *observer) shutdown() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.send)
	}
	o.mu.Unlock()
}

func (o *observer) touch() {
	o.mu.Lock()
	o.lastSeen = time.Now()
	o.mu.Unlock()
}

func (o *observer) sinceSeen(now time.Time) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return now.Sub(o.lastSeen)
}

// Hub tracks connected observers and fans notifications out to all of
// them. A delivery failure for one observer never affects the others.
type Hub struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
	maxConns     int

	mu        sync.RWMutex
	observers map[string]*observer

	sweepOnce sync.Once
	sweepStop chan struct{}
	sweepDone chan struct{}
	sweepTick *time.Ticker
}

func NewHub(pingInterval, pongTimeout time.Duration, maxConns int) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	h := &Hub{
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		maxConns:     maxConns,
		observers:    make(map[string]*observer),
		sweepStop:    make(chan struct{}),
		sweepDone:    make(chan struct{}),
		sweepTick:    time.NewTicker(pingInterval),
	}
	go h.sweepLoop()
	return h
}

// AddObserver registers conn as a new observer, greets it with a ping
// envelope, and starts its read and write pumps.
func (h *Hub) AddObserver(conn *websocket.Conn) (*observer, error) {
	o := &observer{
		id:       uuid.NewString(),
		conn:     conn,
		hub:      h,
		send:     make(chan []byte, 64),
		lastSeen: time.Now(),
	}

	h.mu.Lock()
	if h.maxConns > 0 && len(h.observers) >= h.maxConns {
		h.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	h.observers[o.id] = o
	h.mu.Unlock()

	go o.writePump()

	if greeting, err := json.Marshal(newEnvelope(MsgPing, nil)); err == nil {
		o.trySend(greeting)
	}

	go h.readLoop(o)
	return o, nil
}

// readLoop consumes inbound observer messages. Only pong acknowledgments
// are meaningful; malformed or unexpected messages are logged and ignored
// rather than evicting the observer. A read error removes the observer.
func (h *Hub) readLoop(o *observer) {
	defer h.RemoveObserver(o)
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[ws] observer %s: ignoring malformed message: %v", o.id, err)
			continue
		}

		switch msg.Type {
		case MsgPong:
			o.touch()
		default:
			log.Printf("[ws] observer %s: ignoring %q message", o.id, msg.Type)
		}
	}
}

// RemoveObserver drops o from the hub. All removal triggers (read error,
// write error, liveness eviction, hub close) converge here, so the
// observer count always reflects live connections.
func (h *Hub) RemoveObserver(o *observer) {
	h.mu.Lock()
	_, ok := h.observers[o.id]
	if ok {
		delete(h.observers, o.id)
	}
	h.mu.Unlock()
	if ok {
		o.shutdown()
	}
}

// Broadcast serializes the envelope once and delivers the same bytes to
// every live observer. Returns the number of successful deliveries.
func (h *Hub) Broadcast(env Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[ws] broadcast marshal error: %v", err)
		return 0
	}
	return h.broadcastRaw(data)
}

func (h *Hub) broadcastRaw(data []byte) int {
	h.mu.RLock()
	observers := make([]*observer, 0, len(h.observers))
	for _, o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, o := range observers {
		if o.trySend(data) {
			delivered++
		} else {
			log.Printf("[ws] observer %s: dropping message (buffer full or gone)", o.id)
		}
	}
	return delivered
}

// ObserverCount returns the number of live observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// sweepLoop runs the liveness sweep: observers silent for longer than the
// pong timeout are forcibly terminated, everyone else gets a keepalive
// probe.
func (h *Hub) sweepLoop() {
	defer close(h.sweepDone)
	for {
		select {
		case <-h.sweepStop:
			return
		case now := <-h.sweepTick.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	h.mu.RLock()
	observers := make([]*observer, 0, len(h.observers))
	for _, o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	ping, err := json.Marshal(newEnvelope(MsgPing, nil))
	if err != nil {
		return
	}

	for _, o := range observers {
		if o.sinceSeen(now) > h.pongTimeout {
			log.Printf("[ws] observer %s: no pong in %v, evicting", o.id, h.pongTimeout)
			o.conn.Close()
			h.RemoveObserver(o)
			continue
		}
		o.trySend(ping)
	}
}

// Close stops the liveness sweep and disconnects every observer. Safe to
// call multiple times.
func (h *Hub) Close() {
	h.sweepOnce.Do(func() {
		h.sweepTick.Stop()
		close(h.sweepStop)
		<-h.sweepDone
	})

	h.mu.Lock()
	observers := h.observers
	h.observers = make(map[string]*observer)
	h.mu.Unlock()

	for _, o := range observers {
		o.conn.Close()
		o.shutdown()
	}
}

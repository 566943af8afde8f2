package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

var (
	hubsMu sync.Mutex
	hubs   = map[string]*Hub{}
)

// MemoryHub returns the process-wide in-process hub registered under name,
// creating it on first use. Instances dialing the same mem://name share it.
func MemoryHub(name string) *Hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	if h, ok := hubs[name]; ok {
		return h
	}
	h := NewHub()
	hubs[name] = h
	return h
}

// HistoryLimit bounds how many recent payloads a Hub keeps per subject.
const HistoryLimit = 1024

// Hub is an in-process bus. Delivery is synchronous and in publish order.
// SetDown simulates an outage: live connections are severed and dials fail.
type Hub struct {
	mu    sync.RWMutex
	conns map[*memConn]struct{}
	log   map[string][][]byte
	down  atomic.Bool
	dials atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*memConn]struct{}),
		log:   make(map[string][][]byte),
	}
}

func (h *Hub) Dial(ctx context.Context) (Conn, error) {
	h.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.down.Load() {
		return nil, ErrUnavailable
	}
	c := &memConn{
		hub:  h,
		subs: make(map[*memSubscription]struct{}),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c, nil
}

// SetDown toggles the outage state. Going down closes every live connection.
func (h *Hub) SetDown(down bool) {
	h.down.Store(down)
	if !down {
		return
	}
	h.mu.Lock()
	conns := make([]*memConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Dials returns how many dial attempts the hub has seen.
func (h *Hub) Dials() int64 {
	return h.dials.Load()
}

// Conns returns the number of open connections.
func (h *Hub) Conns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Messages returns a copy of the most recent payloads accepted on subject,
// oldest first, at most HistoryLimit of them.
func (h *Hub) Messages(subject string) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	history := h.log[subject]
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	out := make([][]byte, len(history))
	copy(out, history)
	return out
}

func (h *Hub) deliver(msg Message) error {
	if h.down.Load() {
		return ErrUnavailable
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	h.mu.Lock()
	h.remember(msg.Subject, msg.Payload)
	targets := make([]*memSubscription, 0)
	for c := range h.conns {
		c.mu.Lock()
		for s := range c.subs {
			if s.subject == msg.Subject {
				targets = append(targets, s)
			}
		}
		c.mu.Unlock()
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.fn(msg)
	}
	return nil
}

// remember appends to the subject history, compacting once it holds twice
// the limit. Callers hold h.mu.
func (h *Hub) remember(subject string, payload []byte) {
	history := append(h.log[subject], payload)
	if len(history) >= 2*HistoryLimit {
		history = append([][]byte(nil), history[len(history)-HistoryLimit:]...)
	}
	h.log[subject] = history
}

type memConn struct {
	hub *Hub

	mu     sync.Mutex
	subs   map[*memSubscription]struct{}
	closed bool
}

func (c *memConn) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	return c.hub.deliver(msg)
}

func (c *memConn) Subscribe(_ context.Context, subject string, fn func(Message)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	s := &memSubscription{subject: subject, fn: fn, conn: c, done: make(chan struct{})}
	c.subs[s] = struct{}{}
	return s, nil
}

func (c *memConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[*memSubscription]struct{}{}
	c.mu.Unlock()

	c.hub.mu.Lock()
	delete(c.hub.conns, c)
	c.hub.mu.Unlock()

	for s := range subs {
		s.finish()
	}
	return nil
}

type memSubscription struct {
	subject string
	fn      func(Message)
	conn    *memConn
	done    chan struct{}
	once    sync.Once
}

func (s *memSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *memSubscription) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *memSubscription) Unsubscribe() error {
	s.conn.mu.Lock()
	delete(s.conn.subs, s)
	s.conn.mu.Unlock()
	s.finish()
	return nil
}

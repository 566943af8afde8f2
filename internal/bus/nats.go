package bus

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// OriginHeader carries Message.Origin on NATS so the payload stays {"value":N}.
const OriginHeader = "Gema-Origin"

type natsDialer struct {
	url     string
	timeout time.Duration
}

// Dial connects without client-side reconnects; recovery is owned by Connector.
func (d natsDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && (timeout <= 0 || left < timeout) {
			timeout = left
		}
	}
	c := &natsConn{done: make(chan struct{})}
	opts := []nats.Option{
		nats.Name("gema-subgraph"),
		nats.NoReconnect(),
		nats.NoEcho(),
		nats.ClosedHandler(func(*nats.Conn) { c.markClosed() }),
	}
	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}
	nc, err := nats.Connect(d.url, opts...)
	if err != nil {
		return nil, err
	}
	c.nc = nc
	return c, nil
}

type natsConn struct {
	nc       *nats.Conn
	done     chan struct{}
	doneOnce sync.Once
}

func (c *natsConn) markClosed() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Publish buffers the message and, when ctx carries a deadline, flushes so a
// dead connection surfaces as an error here.
func (c *natsConn) Publish(ctx context.Context, msg Message) error {
	m := nats.NewMsg(msg.Subject)
	m.Data = msg.Payload
	if msg.Origin != "" {
		m.Header.Set(OriginHeader, msg.Origin)
	}
	if err := c.nc.PublishMsg(m); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); ok {
		return c.nc.FlushWithContext(ctx)
	}
	return nil
}

func (c *natsConn) Subscribe(_ context.Context, subject string, fn func(Message)) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		fn(Message{Subject: m.Subject, Origin: m.Header.Get(OriginHeader), Payload: m.Data})
	})
	if err != nil {
		return nil, err
	}
	s := &natsSubscription{sub: sub, done: make(chan struct{})}
	go func() {
		select {
		case <-c.done:
			s.finish()
		case <-s.done:
		}
	}()
	return s, nil
}

func (c *natsConn) Close() error {
	c.nc.Close()
	c.markClosed()
	return nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *natsSubscription) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *natsSubscription) Unsubscribe() error {
	defer s.finish()
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

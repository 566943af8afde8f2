package bus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConnState is the connector's position in its two-state machine.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// SendResult classifies the outcome of one Send.
type SendResult string

const (
	// SendDelivered: published on the cached connection.
	SendDelivered SendResult = "delivered"
	// SendReconnected: published after dialing a replacement connection.
	SendReconnected SendResult = "reconnected"
	// SendDropped: connect or retry failed; the message is gone.
	SendDropped SendResult = "dropped"
)

// Hooks observe connector activity. Nil hooks are skipped.
type Hooks struct {
	OnSend    func(SendResult)
	OnConnect func()
	// OnEcho fires when Watch discards a message this connector published.
	OnEcho    func()
}

// Connector owns the cached bus connection for one subgraph instance.
//
// Disconnected -> Connected happens on demand inside Send or Watch.
// Connected -> Disconnected happens when a publish or subscription on the
// cached connection fails. Send never retries beyond one reconnect.
//
// Every message a Connector publishes carries its origin, so Watch can drop
// this instance's own publishes whichever connection they come back on.
type Connector struct {
	dialer  Dialer
	subject string
	origin  string
	cfg     Config
	hooks   Hooks
	logger  zerolog.Logger

	mu   sync.RWMutex
	conn Conn
}

type ConnectorOption func(*Connector)

func WithHooks(h Hooks) ConnectorOption {
	return func(c *Connector) {
		c.hooks = h
	}
}

func WithLogger(l zerolog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = l
	}
}

func NewConnector(dialer Dialer, subject string, cfg Config, opts ...ConnectorOption) *Connector {
	c := &Connector{
		dialer:  dialer,
		subject: subject,
		origin:  uuid.NewString(),
		cfg:     cfg.WithDefaults(),
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "bus").Str("subject", subject).Str("origin", c.origin).Logger()
	return c
}

// Subject returns the subject Send publishes on.
func (c *Connector) Subject() string {
	return c.subject
}

// Origin returns the identity stamped on every message this connector sends.
func (c *Connector) Origin() string {
	return c.origin
}

func (c *Connector) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return Disconnected
	}
	return Connected
}

// Send publishes payload on the connector's subject, best-effort. It never
// returns an error: a failed connect or a failed retry drops the message.
// Time spent is bounded by one publish on the cached connection, one dial and
// one more publish.
func (c *Connector) Send(ctx context.Context, payload []byte) SendResult {
	result := c.send(ctx, Message{Subject: c.subject, Origin: c.origin, Payload: payload})
	if c.hooks.OnSend != nil {
		c.hooks.OnSend(result)
	}
	return result
}

func (c *Connector) send(ctx context.Context, msg Message) SendResult {
	if conn := c.current(); conn != nil {
		err := c.publish(ctx, conn, msg)
		if err == nil {
			return SendDelivered
		}
		if ctx.Err() != nil {
			c.logger.Debug().Err(err).Msg("send abandoned by caller")
			return SendDropped
		}
		c.logger.Debug().Err(err).Msg("publish on cached connection failed")
		c.invalidate(conn)
	}

	conn, err := c.reconnect(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("bus connect failed, dropping update")
		return SendDropped
	}
	if err := c.publish(ctx, conn, msg); err != nil {
		c.logger.Debug().Err(err).Msg("publish retry failed, dropping update")
		if ctx.Err() == nil {
			c.invalidate(conn)
		}
		return SendDropped
	}
	return SendReconnected
}

func (c *Connector) publish(ctx context.Context, conn Conn, msg Message) error {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	return conn.Publish(pctx, msg)
}

func (c *Connector) current() Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// connection returns the cached connection or dials a new one.
func (c *Connector) connection(ctx context.Context) (Conn, error) {
	if conn := c.current(); conn != nil {
		return conn, nil
	}
	return c.reconnect(ctx)
}

// reconnect dials outside the lock. If another caller cached a connection
// while we were dialing, theirs wins and ours is closed, so at most one
// connection stays live.
func (c *Connector) reconnect(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	fresh, err := c.dialer.Dial(dctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing := c.conn; existing != nil {
		c.mu.Unlock()
		_ = fresh.Close()
		return existing, nil
	}
	c.conn = fresh
	c.mu.Unlock()

	c.logger.Info().Msg("bus connected")
	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect()
	}
	return fresh, nil
}

// invalidate clears conn from the cache if it is still the cached one.
func (c *Connector) invalidate(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()
	c.logger.Info().Msg("bus disconnected")
}

// Watch keeps a subscription on the connector's subject alive until ctx ends,
// reconnecting with backoff whenever the connection or subscription dies.
// Messages stamped with this connector's origin never reach fn. fn runs on
// the transport's delivery goroutine.
func (c *Connector) Watch(ctx context.Context, fn func(payload []byte)) error {
	deliver := func(msg Message) {
		if msg.Origin == c.origin {
			if c.hooks.OnEcho != nil {
				c.hooks.OnEcho()
			}
			return
		}
		fn(msg.Payload)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.connection(ctx)
		var sub Subscription
		if err == nil {
			sub, err = conn.Subscribe(ctx, c.subject, deliver)
			if err != nil && ctx.Err() == nil {
				c.invalidate(conn)
			}
		}
		if err != nil {
			attempt++
			delay := NextBackoffDelay(c.cfg.Backoff, attempt, rng)
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("bus subscribe failed")
			if sleepContext(ctx, delay) != nil {
				return nil
			}
			continue
		}

		attempt = 0
		c.logger.Info().Msg("bus subscription active")
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
			return nil
		case <-sub.Done():
			c.logger.Warn().Msg("bus subscription lost")
			c.invalidate(conn)
		}
	}
}

// Close drops the cached connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

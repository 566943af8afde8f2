package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// redisEnvelope wraps a payload with its origin; Redis pub/sub has no headers.
type redisEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func wrapRedis(msg Message) ([]byte, error) {
	return sonic.Marshal(redisEnvelope{Origin: msg.Origin, Payload: msg.Payload})
}

// unwrapRedis accepts envelopes and bare payloads from foreign publishers.
func unwrapRedis(channel, raw string) Message {
	var env redisEnvelope
	if err := sonic.UnmarshalString(raw, &env); err != nil || len(env.Payload) == 0 {
		return Message{Subject: channel, Payload: []byte(raw)}
	}
	return Message{Subject: channel, Origin: env.Origin, Payload: env.Payload}
}

type redisDialer struct {
	url     string
	timeout time.Duration
}

// Dial opens a client and proves it with PING before handing it out.
func (d redisDialer) Dial(ctx context.Context) (Conn, error) {
	opts, err := redis.ParseURL(d.url)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	if d.timeout > 0 {
		opts.DialTimeout = d.timeout
	}
	opts.MaxRetries = -1

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisConn{client: client, subs: make(map[*redisSubscription]struct{})}, nil
}

type redisConn struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// Publish requires a JSON payload.
func (c *redisConn) Publish(ctx context.Context, msg Message) error {
	frame, err := wrapRedis(msg)
	if err != nil {
		return fmt.Errorf("bus: wrap redis message: %w", err)
	}
	return c.client.Publish(ctx, msg.Subject, frame).Err()
}

func (c *redisConn) Subscribe(ctx context.Context, subject string, fn func(Message)) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.mu.Unlock()

	ps := c.client.Subscribe(ctx, subject)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &redisSubscription{ps: ps, done: make(chan struct{}), owner: c}

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	ch := ps.Channel()
	go func() {
		defer s.finish()
		for msg := range ch {
			fn(unwrapRedis(msg.Channel, msg.Payload))
		}
	}()
	return s, nil
}

// Close tears down the client and every subscription opened on it.
func (c *redisConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*redisSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = map[*redisSubscription]struct{}{}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.ps.Close()
	}
	return c.client.Close()
}

type redisSubscription struct {
	ps    *redis.PubSub
	done  chan struct{}
	once  sync.Once
	owner *redisConn
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *redisSubscription) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *redisSubscription) Unsubscribe() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	return s.ps.Close()
}

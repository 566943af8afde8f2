package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrURLRequired       = errors.New("bus: url required")
	ErrUnsupportedScheme = errors.New("bus: unsupported url scheme")
	ErrConnClosed        = errors.New("bus: connection closed")
	ErrUnavailable       = errors.New("bus: unavailable")
)

// Message is one bus delivery. Origin names the publishing instance; it
// travels out of band of Payload and is empty for foreign publishers.
type Message struct {
	Subject string
	Origin  string
	Payload []byte
}

// Conn is one live connection to the bus.
type Conn interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, subject string, fn func(Message)) (Subscription, error)
	// Close must be safe to call more than once.
	Close() error
}

// Subscription is an active interest in one subject.
type Subscription interface {
	// Done is closed when the subscription stops delivering, either because it
	// was unsubscribed or because its connection went away.
	Done() <-chan struct{}
	Unsubscribe() error
}

// Dialer opens new connections to a fixed endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// NewDialer picks a transport from the URL scheme:
// nats:// and tls:// use NATS, redis:// and rediss:// use Redis pub/sub,
// mem://<name> uses the named in-process hub.
func NewDialer(cfg Config) (Dialer, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, ErrURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "nats", "tls":
		return natsDialer{url: raw, timeout: cfg.ConnectTimeout}, nil
	case "redis", "rediss":
		return redisDialer{url: raw, timeout: cfg.ConnectTimeout}, nil
	case "mem":
		name := u.Host
		if name == "" {
			name = strings.TrimPrefix(u.Opaque, "//")
		}
		return MemoryHub(name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

package subgraph

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/gema/internal/bus"
	"github.com/danmuck/gema/internal/fanout"
)

var (
	ErrInvalidProfile   = errors.New("subgraph: invalid profile")
	ErrInvalidNumber    = errors.New("subgraph: invalid instance number")
	ErrInvalidBusPolicy = errors.New("subgraph: invalid bus policy")
	ErrInvalidCapacity  = errors.New("subgraph: invalid fanout capacity")
	ErrInvalidHeartbeat = errors.New("subgraph: invalid heartbeat interval")
)

// BasePort is added to the instance number to pick the listen port.
const BasePort = 9000

// DefaultEntityCount is returned for entities with no recorded state.
const DefaultEntityCount int64 = 100

// BusPolicy controls how an instance uses the shared bus.
type BusPolicy string

const (
	// BusPolicyHeadless runs without a bus.
	BusPolicyHeadless BusPolicy = "headless"
	// BusPolicyPublish only publishes local changes.
	BusPolicyPublish BusPolicy = "publish"
	// BusPolicySync publishes local changes and adopts sibling updates.
	BusPolicySync BusPolicy = "sync"
)

func validateBusPolicy(p BusPolicy) error {
	switch p {
	case BusPolicyHeadless, BusPolicyPublish, BusPolicySync:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBusPolicy, p)
	}
}

// BusSessionConfig configures the optional bus connection.
type BusSessionConfig struct {
	Policy BusPolicy
	Config bus.Config
}

// ServiceConfig configures one subgraph instance.
type ServiceConfig struct {
	Number         int
	Profile        string
	ListenAny      bool
	Addr           string
	CorsOrigins    []string
	FanoutCapacity int
	EntityDefault  int64
	Entities       map[string]int64

	// HeartbeatInterval paces the status log line; zero disables it.
	HeartbeatInterval time.Duration
	Bus               BusSessionConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Number:            1,
		Profile:           "subgraph",
		FanoutCapacity:    fanout.DefaultCapacity,
		EntityDefault:     DefaultEntityCount,
		Entities:          map[string]int64{},
		HeartbeatInterval: 30 * time.Second,
		Bus: BusSessionConfig{
			Policy: BusPolicySync,
			Config: bus.DefaultConfig(),
		},
	}
}

// Title is the instance display name, e.g. "subgraph-1".
func (c ServiceConfig) Title() string {
	return c.Profile + "-" + strconv.Itoa(c.Number)
}

// ListenAddr returns Addr when set, otherwise loopback (or any interface when
// ListenAny) on BasePort+Number.
func (c ServiceConfig) ListenAddr() string {
	if strings.TrimSpace(c.Addr) != "" {
		return strings.TrimSpace(c.Addr)
	}
	host := "127.0.0.1"
	if c.ListenAny {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(BasePort+c.Number))
}

// Validate checks the fields bootstrap depends on.
func (c ServiceConfig) Validate() error {
	if err := ValidateProfile(c.Profile); err != nil {
		return err
	}
	if strings.TrimSpace(c.Addr) == "" && (c.Number < 0 || BasePort+c.Number > 65535) {
		return fmt.Errorf("%w: %d", ErrInvalidNumber, c.Number)
	}
	if err := validateBusPolicy(c.Bus.Policy); err != nil {
		return err
	}
	if c.FanoutCapacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.FanoutCapacity)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidHeartbeat, c.HeartbeatInterval)
	}
	return nil
}

// ValidateProfile accepts identifiers usable both in operation names and as a
// single bus subject token.
func ValidateProfile(profile string) error {
	if profile == "" {
		return fmt.Errorf("%w: empty", ErrInvalidProfile)
	}
	for i, r := range profile {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
		}
	}
	return nil
}

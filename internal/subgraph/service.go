package subgraph

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/gema/internal/bus"
	"github.com/danmuck/gema/internal/observability"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Service runs one subgraph instance as a standalone process.
type Service struct {
	cfg    ServiceConfig
	logger zerolog.Logger

	node   *Node
	server *Server

	mu   sync.RWMutex
	addr string
}

// Subgraph service constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg.Bus.Config = cfg.Bus.Config.WithDefaults()
	if strings.TrimSpace(string(cfg.Bus.Policy)) == "" {
		cfg.Bus.Policy = BusPolicyHeadless
	}
	if cfg.FanoutCapacity == 0 {
		cfg.FanoutCapacity = DefaultServiceConfig().FanoutCapacity
	}
	return &Service{
		cfg:    cfg,
		logger: observability.NodeLogger("gema", cfg.Profile, cfg.Title()),
	}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps the node and serves until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Node is nil until bootstrap has run.
func (s *Service) Node() *Node {
	return s.node
}

// Addr returns the bound listen address once serving, or "".
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	var connector *bus.Connector
	if s.cfg.Bus.Policy != BusPolicyHeadless {
		dialer, err := bus.NewDialer(s.cfg.Bus.Config)
		if err != nil {
			return err
		}
		profile := s.cfg.Profile
		connector = bus.NewConnector(dialer, bus.Subject(profile), s.cfg.Bus.Config,
			bus.WithLogger(s.logger),
			bus.WithHooks(bus.Hooks{
				OnSend:    func(r bus.SendResult) { observability.RecordBusSend(profile, string(r)) },
				OnConnect: func() { observability.RecordBusConnect(profile) },
				OnEcho:    func() { observability.RecordRemoteUpdate(profile, "echo") },
			}),
		)
	}

	s.node = NewNode(NodeConfig{
		Profile:        s.cfg.Profile,
		Policy:         s.cfg.Bus.Policy,
		FanoutCapacity: s.cfg.FanoutCapacity,
		EntityDefault:  s.cfg.EntityDefault,
		Entities:       s.cfg.Entities,
		Logger:         &s.logger,
	}, connector)
	s.server = NewServer(s.node, s.cfg.Title(), s.cfg.CorsOrigins, s.logger)
	s.server.RegisterRoutes()

	names := s.node.Names()
	s.logger.Info().
		Str("policy", string(s.cfg.Bus.Policy)).
		Str("bus_url", redactURL(s.cfg.Bus.Config.URL, s.cfg.Bus.Policy)).
		Str("query", names.Query).
		Str("mutation", names.Mutation).
		Str("subscription", names.Subscription).
		Msg("subgraph ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		_ = s.node.Close()
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:           s.server.HTTPRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.Serve(ln)
	}()
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- s.node.Run(runCtx)
	}()

	s.logger.Info().Str("addr", s.Addr()).Msg("listening")

	var heartbeat <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("shutdown")
			break loop
		case err := <-httpErr:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = err
			}
			break loop
		case err := <-watchErr:
			if err != nil {
				serveErr = err
				break loop
			}
			watchErr = nil
		case <-heartbeat:
			s.logger.Info().
				Int64("value", s.node.Query()).
				Int("subscribers", s.node.Subscribers()).
				Str("bus", s.node.BusState()).
				Msg("heartbeat")
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if err := s.node.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("bus close")
	}
	return serveErr
}

// redactURL hides credentials embedded in a bus URL.
func redactURL(raw string, policy BusPolicy) string {
	if policy == BusPolicyHeadless {
		return ""
	}
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		if scheme := strings.Index(raw, "://"); scheme >= 0 && scheme < at {
			return raw[:scheme+3] + "***" + raw[at:]
		}
	}
	return raw
}

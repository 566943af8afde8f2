package subgraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/gema/internal/bus"
	"github.com/danmuck/gema/internal/fanout"
	"github.com/danmuck/gema/internal/observability"
	"github.com/danmuck/gema/internal/state"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Endpoint is the entity projection this subgraph contributes.
type Endpoint struct {
	ID    string
	Count int64
}

// NodeConfig is the subset of ServiceConfig a Node needs.
type NodeConfig struct {
	Profile        string
	Policy         BusPolicy
	FanoutCapacity int
	EntityDefault  int64
	Entities       map[string]int64
	Logger         *zerolog.Logger
}

// Node owns the replicated state of one subgraph instance and every operation
// over it. It is created once per process and shared by all request handlers.
type Node struct {
	profile       string
	names         OperationNames
	policy        BusPolicy
	entityDefault int64

	cell      *state.Cell
	entities  *state.Table
	fanout    *fanout.Broadcaster
	connector *bus.Connector
	registry  *Registry
	logger    zerolog.Logger

	// seq orders apply+broadcast so fan-out order matches apply order.
	seq sync.Mutex
}

// NewNode builds a node. connector may be nil, which behaves like the headless
// policy.
func NewNode(cfg NodeConfig, connector *bus.Connector) *Node {
	if cfg.Policy == "" {
		cfg.Policy = BusPolicyHeadless
	}
	if connector == nil {
		cfg.Policy = BusPolicyHeadless
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	n := &Node{
		profile:       cfg.Profile,
		names:         NamesFor(cfg.Profile),
		policy:        cfg.Policy,
		entityDefault: cfg.EntityDefault,
		cell:          state.NewCell(),
		entities:      state.NewTable(),
		connector:     connector,
		logger:        logger.With().Str("component", "node").Logger(),
	}
	n.fanout = fanout.NewBroadcaster(
		fanout.WithCapacity(cfg.FanoutCapacity),
		fanout.OnOverflow(n.onOverflow),
	)
	for id, count := range cfg.Entities {
		n.entities.Set(EntityKey(id), count)
	}
	n.registry = n.buildRegistry()
	return n
}

// EntityKey is the state key backing entity id.
func EntityKey(id string) string {
	return "endpoint_" + id
}

func (n *Node) Profile() string {
	return n.profile
}

func (n *Node) Names() OperationNames {
	return n.names
}

func (n *Node) Policy() BusPolicy {
	return n.policy
}

func (n *Node) Registry() *Registry {
	return n.registry
}

// BusState reports the connector state, or "headless" when no bus is used.
func (n *Node) BusState() string {
	if n.policy == BusPolicyHeadless {
		return string(BusPolicyHeadless)
	}
	return n.connector.State().String()
}

// Query returns the current counter value.
func (n *Node) Query() int64 {
	return n.cell.Read()
}

// Mutate applies by (1 when nil), fans the new value out locally, then
// publishes it to the bus. Neither the fan-out nor the bus send can fail the
// mutation; the return value is always the post-mutation value.
func (n *Node) Mutate(ctx context.Context, by *int64) int64 {
	delta := int64(1)
	if by != nil {
		delta = *by
	}

	n.seq.Lock()
	v := n.cell.ApplyDelta(delta)
	n.fanout.Publish(v)
	n.seq.Unlock()

	observability.RecordMutation(n.profile, v)
	n.logger.Debug().Int64("by", delta).Int64("value", v).Msg("mutation applied")

	n.replicate(ctx, v)
	return v
}

// replicate is detached from caller cancellation; the connector bounds it.
func (n *Node) replicate(ctx context.Context, v int64) {
	if n.policy == BusPolicyHeadless {
		return
	}
	payload, err := bus.EncodeUpdate(v)
	if err != nil {
		n.logger.Error().Err(err).Int64("value", v).Msg("encode update failed")
		return
	}
	if n.connector.Send(context.WithoutCancel(ctx), payload) == bus.SendDropped {
		n.logger.Debug().Int64("value", v).Msg("bus update dropped")
	}
}

// Subscribe attaches a local listener. Callers must Close the subscription.
func (n *Node) Subscribe() *fanout.Subscription {
	sub := n.fanout.Subscribe()
	observability.RecordSubscribers(n.profile, n.fanout.Len())
	return sub
}

// Unsubscribe closes sub and refreshes the subscriber gauge.
func (n *Node) Unsubscribe(sub *fanout.Subscription) {
	sub.Close()
	observability.RecordSubscribers(n.profile, n.fanout.Len())
}

// Subscribers returns the number of attached local listeners.
func (n *Node) Subscribers() int {
	return n.fanout.Len()
}

func (n *Node) onOverflow() {
	observability.RecordSubscriberDisconnect(n.profile)
	n.logger.Warn().Msg("subscriber disconnected: backlog full")
}

// ResolveEntity returns this subgraph's fields for id. It never writes.
func (n *Node) ResolveEntity(id string) Endpoint {
	return Endpoint{
		ID:    id,
		Count: n.entities.Get(EntityKey(id), n.entityDefault),
	}
}

// Ingest adopts a value published by a sibling instance: last writer wins.
// Malformed payloads are ignored. Ingested values are broadcast locally but
// never republished. The connector has already dropped this instance's own
// publishes by origin.
func (n *Node) Ingest(payload []byte) {
	ev, err := bus.DecodeUpdate(payload)
	if err != nil {
		observability.RecordRemoteUpdate(n.profile, "malformed")
		n.logger.Warn().Err(err).Msg("ignoring malformed bus update")
		return
	}

	n.seq.Lock()
	n.cell.Store(ev.Value)
	n.fanout.Publish(ev.Value)
	n.seq.Unlock()

	observability.RecordRemoteUpdate(n.profile, "applied")
	observability.RecordValue(n.profile, ev.Value)
	n.logger.Debug().Int64("value", ev.Value).Msg("adopted sibling update")
}

// Run blocks until ctx ends. Under the sync policy it keeps a bus
// subscription alive and feeds it into Ingest.
func (n *Node) Run(ctx context.Context) error {
	if n.policy != BusPolicySync {
		<-ctx.Done()
		return nil
	}
	return n.connector.Watch(ctx, n.Ingest)
}

// Close detaches every local subscriber and drops the bus connection.
func (n *Node) Close() error {
	n.fanout.Close()
	observability.RecordSubscribers(n.profile, 0)
	if n.connector == nil {
		return nil
	}
	return n.connector.Close()
}

func (n *Node) buildRegistry() *Registry {
	reg := NewRegistry()
	ops := []Operation{
		{
			Name:        n.names.Query,
			Kind:        KindQuery,
			Description: "current counter value",
			Handler: func(context.Context, Variables) (any, error) {
				return n.Query(), nil
			},
		},
		{
			Name:        n.names.Mutation,
			Kind:        KindMutation,
			Description: "add by (default 1) and return the new value",
			Args:        []string{"by"},
			Handler: func(ctx context.Context, vars Variables) (any, error) {
				return n.Mutate(ctx, ParseDelta(vars["by"])), nil
			},
		},
		{
			Name:        n.names.Subscription,
			Kind:        KindSubscription,
			Description: "stream of counter values, one per change",
		},
		{
			Name:        EntitiesOperation,
			Kind:        KindEntity,
			Description: "resolve " + EndpointType + " references",
			Args:        []string{"representations"},
			Handler:     n.resolveRepresentations,
		},
	}
	for _, op := range ops {
		if err := reg.Register(op); err != nil {
			panic(fmt.Sprintf("subgraph: built-in operation: %v", err))
		}
	}
	return reg
}

// resolveRepresentations answers a federation _entities call. Representations
// of other types resolve to nil.
func (n *Node) resolveRepresentations(_ context.Context, vars Variables) (any, error) {
	raw, ok := vars["representations"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: representations must be a list", ErrBadRepresentation)
	}
	out := make([]any, 0, len(raw))
	for i, rep := range raw {
		typename, id, err := representationID(rep)
		if err != nil {
			return nil, fmt.Errorf("representation[%d]: %w", i, err)
		}
		if typename != EndpointType {
			out = append(out, nil)
			continue
		}
		ep := n.ResolveEntity(id)
		out = append(out, map[string]any{
			"__typename":        EndpointType,
			"id":                ep.ID,
			n.names.EntityField: ep.Count,
		})
	}
	return out, nil
}

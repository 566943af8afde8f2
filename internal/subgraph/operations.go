package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrOperationExists   = errors.New("subgraph: operation already registered")
	ErrInvalidOperation  = errors.New("subgraph: invalid operation")
	ErrUnknownOperation  = errors.New("subgraph: unknown operation")
	ErrNotRequestReply   = errors.New("subgraph: operation is a subscription")
	ErrBadRepresentation = errors.New("subgraph: bad entity representation")
)

// OperationKind is the root type an operation hangs off.
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
	KindEntity       OperationKind = "entity"
)

// EntitiesOperation is the entity-resolution entry point called by the gateway.
const EntitiesOperation = "_entities"

// EndpointType is the entity type this subgraph contributes fields to.
const EndpointType = "Endpoint"

// Variables are the decoded JSON arguments of one request.
type Variables map[string]any

// Handler serves one request/reply operation.
type Handler func(ctx context.Context, vars Variables) (any, error)

// Operation is one named entry point. Subscriptions carry no Handler; they are
// served as streams.
type Operation struct {
	Name        string
	Kind        OperationKind
	Description string
	Args        []string
	Handler     Handler
}

// OperationInfo is the public listing of an Operation.
type OperationInfo struct {
	Name        string        `json:"name"`
	Kind        OperationKind `json:"kind"`
	Description string        `json:"description"`
	Args        []string      `json:"args,omitempty"`
}

// OperationNames are the profile-derived entry point names.
type OperationNames struct {
	Query        string
	Mutation     string
	Subscription string
	EntityField  string
}

// NamesFor derives entry point names from a profile, e.g. "subgraphQueryValue".
func NamesFor(profile string) OperationNames {
	return OperationNames{
		Query:        profile + "QueryValue",
		Mutation:     profile + "IncrementValue",
		Subscription: profile + "OnValueChange",
		EntityField:  profile + "Count",
	}
}

// Registry stores operations by name.
type Registry struct {
	items map[string]Operation
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Operation)}
}

func (r *Registry) Register(op Operation) error {
	name := strings.TrimSpace(op.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidOperation)
	}
	if op.Kind != KindSubscription && op.Handler == nil {
		return fmt.Errorf("%w: %s needs a handler", ErrInvalidOperation, name)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrOperationExists, name)
	}
	op.Name = name
	r.items[name] = op
	return nil
}

func (r *Registry) Resolve(name string) (Operation, bool) {
	op, ok := r.items[strings.TrimSpace(name)]
	return op, ok
}

// Invoke runs a request/reply operation.
func (r *Registry) Invoke(ctx context.Context, name string, vars Variables) (any, error) {
	op, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	if op.Kind == KindSubscription {
		return nil, fmt.Errorf("%w: %q", ErrNotRequestReply, name)
	}
	if vars == nil {
		vars = Variables{}
	}
	return op.Handler(ctx, vars)
}

// List returns operations ordered by kind, then name.
func (r *Registry) List() []OperationInfo {
	list := make([]OperationInfo, 0, len(r.items))
	for _, op := range r.items {
		list = append(list, OperationInfo{
			Name:        op.Name,
			Kind:        op.Kind,
			Description: op.Description,
			Args:        op.Args,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Kind != list[j].Kind {
			return kindRank(list[i].Kind) < kindRank(list[j].Kind)
		}
		return list[i].Name < list[j].Name
	})
	return list
}

func kindRank(k OperationKind) int {
	switch k {
	case KindQuery:
		return 0
	case KindMutation:
		return 1
	case KindSubscription:
		return 2
	default:
		return 3
	}
}

// ParseDelta reads an optional integer argument. Anything that is not an
// integral number in int64 range yields nil, which callers treat as absent.
func ParseDelta(raw any) *int64 {
	var v int64
	switch n := raw.(type) {
	case nil:
		return nil
	case int:
		v = int64(n)
	case int32:
		v = int64(n)
	case int64:
		v = n
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return nil
		}
		v = int64(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return nil
		}
		v = parsed
	default:
		return nil
	}
	return &v
}

// representationID extracts the "id" key of one federation representation.
func representationID(rep any) (string, string, error) {
	m, ok := rep.(map[string]any)
	if !ok {
		return "", "", ErrBadRepresentation
	}
	typename, _ := m["__typename"].(string)
	switch id := m["id"].(type) {
	case string:
		return typename, id, nil
	case json.Number:
		return typename, id.String(), nil
	case float64:
		if id == math.Trunc(id) {
			return typename, fmt.Sprintf("%.0f", id), nil
		}
		return typename, fmt.Sprint(id), nil
	default:
		return typename, "", fmt.Errorf("%w: missing id", ErrBadRepresentation)
	}
}

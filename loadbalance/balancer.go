// Package loadbalance picks the server that handles a call.
//
// Five stateful strategies work off the client's live server registry:
//   - Random:             uniform pick
//   - RoundRobin:         stateless services, equal-capacity servers
//   - WeightedRoundRobin: heterogeneous servers (different CPU/memory)
//   - LeastActive:        fewest calls routed so far
//   - ConsistentHash:     stateful services requiring cache affinity
//
// Applications that need their own placement (a session store, a shard map)
// supply a Router instead; DefaultRoute is the session-affinity router used
// when neither is configured.
package loadbalance

import (
	"errors"
	"fmt"

	"mailrpc/message"
	"mailrpc/registry"
)

var (
	ErrNoServers     = errors.New("no servers of this type")
	ErrInvalidWeight = errors.New("no server with a positive weight")
)

func noServers(serverType string) error {
	return fmt.Errorf("%w: %q", ErrNoServers, serverType)
}

// ServerSource is the read side of a server registry.
type ServerSource interface {
	// ServerIDs returns the ids of serverType in registration order.
	ServerIDs(serverType string) []string
	Server(id string) (registry.ServerInfo, bool)
}

// Balancer is the interface for the built-in strategies.
// The client calls Pick() before each RPC - it must be goroutine-safe.
type Balancer interface {
	Pick(src ServerSource, serverType string, msg *message.Message) (string, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// Type selects a built-in strategy.
type Type string

const (
	TypeRandom             Type = "rd"
	TypeRoundRobin         Type = "rr"
	TypeWeightedRoundRobin Type = "wrr"
	TypeLeastActive        Type = "la"
	TypeConsistentHash     Type = "ch"
)

// Options tunes the strategies that need it.
type Options struct {
	// HashFieldIndex is the positional argument hashed by ConsistentHash.
	HashFieldIndex int
	// Replicas is the number of virtual nodes per server on a hash ring.
	Replicas int
}

// New returns the balancer for t. Unknown types fall back to Random.
func New(t Type, opts Options) Balancer {
	switch t {
	case TypeRoundRobin:
		return NewRoundRobinBalancer()
	case TypeWeightedRoundRobin:
		return NewWeightedRoundRobinBalancer()
	case TypeLeastActive:
		return NewLeastActiveBalancer()
	case TypeConsistentHash:
		return NewConsistentHashBalancer(opts)
	default:
		return &RandomBalancer{}
	}
}

package loadbalance

import (
	"math"
	"sync"

	"mailrpc/message"
)

// RoundRobinBalancer distributes requests evenly across the servers of each
// type in registration order. It keeps one cursor per server type.
//
// Best for: stateless services where all servers have similar capacity.
type RoundRobinBalancer struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

func NewRoundRobinBalancer() *RoundRobinBalancer {
	return &RoundRobinBalancer{cursors: make(map[string]uint64)}
}

// Pick returns the server at cursor % n, then advances the cursor. The cursor
// wraps to zero at the largest representable value.
func (b *RoundRobinBalancer) Pick(src ServerSource, serverType string, _ *message.Message) (string, error) {
	ids := src.ServerIDs(serverType)
	if len(ids) == 0 {
		return "", noServers(serverType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	index := b.cursors[serverType]
	id := ids[index%uint64(len(ids))]
	if index == math.MaxUint64 {
		index = 0
	} else {
		index++
	}
	b.cursors[serverType] = index
	return id, nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}

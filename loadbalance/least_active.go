package loadbalance

import (
	"math"
	"math/rand"
	"sync"

	"mailrpc/message"
)

// LeastActiveBalancer picks uniformly among the servers with the fewest
// calls routed to them so far.
//
// Counters only ever go up: nothing reports call completion back, so over
// time this behaves like a randomized round-robin rather than tracking true
// in-flight load.
type LeastActiveBalancer struct {
	mu     sync.Mutex
	active map[string]map[string]uint64 // serverType -> server id -> calls
}

func NewLeastActiveBalancer() *LeastActiveBalancer {
	return &LeastActiveBalancer{active: make(map[string]map[string]uint64)}
}

func (b *LeastActiveBalancer) Pick(src ServerSource, serverType string, _ *message.Message) (string, error) {
	ids := src.ServerIDs(serverType)
	if len(ids) == 0 {
		return "", noServers(serverType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	counts, ok := b.active[serverType]
	if !ok {
		counts = make(map[string]uint64, len(ids))
		b.active[serverType] = counts
	}

	var candidates []string
	var min uint64 = math.MaxUint64
	for _, id := range ids {
		n := counts[id] // zero on first sight
		switch {
		case n < min:
			min = n
			candidates = append(candidates[:0], id)
		case n == min:
			candidates = append(candidates, id)
		}
	}

	id := candidates[rand.Intn(len(candidates))]
	counts[id]++
	return id, nil
}

// Active returns the number of calls routed to id under serverType.
func (b *LeastActiveBalancer) Active(serverType, id string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[serverType][id]
}

func (b *LeastActiveBalancer) Name() string {
	return "LeastActive"
}

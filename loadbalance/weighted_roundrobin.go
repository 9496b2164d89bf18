package loadbalance

import (
	"sync"

	"mailrpc/message"
)

type wrrState struct {
	index  int
	weight int
}

// WeightedRoundRobinBalancer visits servers in order, but each pass over the
// list only admits servers whose weight is at least the current threshold.
// The threshold starts at the maximum weight and drops by one per pass, so a
// server of weight w is picked w times every max(weight) passes.
//
// Servers without a positive weight are never picked.
type WeightedRoundRobinBalancer struct {
	mu    sync.Mutex
	state map[string]*wrrState
}

func NewWeightedRoundRobinBalancer() *WeightedRoundRobinBalancer {
	return &WeightedRoundRobinBalancer{state: make(map[string]*wrrState)}
}

func (b *WeightedRoundRobinBalancer) Pick(src ServerSource, serverType string, _ *message.Message) (string, error) {
	ids := src.ServerIDs(serverType)
	if len(ids) == 0 {
		return "", noServers(serverType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[serverType]
	if !ok {
		st = &wrrState{index: -1}
		b.state[serverType] = st
	}

	maxWeight := -1
	for _, id := range ids {
		if s, ok := src.Server(id); ok && s.Weight > maxWeight {
			maxWeight = s.Weight
		}
	}
	if maxWeight <= 0 {
		return "", ErrInvalidWeight
	}

	for {
		st.index = (st.index + 1) % len(ids)
		if st.index == 0 {
			st.weight--
			if st.weight <= 0 {
				st.weight = maxWeight
			}
		}
		if s, ok := src.Server(ids[st.index]); ok && s.Weight >= st.weight {
			return s.ID, nil
		}
	}
}

func (b *WeightedRoundRobinBalancer) Name() string {
	return "WeightedRoundRobin"
}

package loadbalance

import (
	"math/rand"

	"mailrpc/message"
)

// RandomBalancer picks uniformly among the servers of a type.
type RandomBalancer struct{}

func (b *RandomBalancer) Pick(src ServerSource, serverType string, _ *message.Message) (string, error) {
	ids := src.ServerIDs(serverType)
	if len(ids) == 0 {
		return "", noServers(serverType)
	}
	return ids[rand.Intn(len(ids))], nil
}

func (b *RandomBalancer) Name() string {
	return "Random"
}

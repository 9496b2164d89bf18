package loadbalance

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"sync"

	"mailrpc/message"
)

// DefaultReplicas is the number of virtual nodes per server on a Ring.
const DefaultReplicas = 100

// Ring maps keys to server ids using a hash ring.
// The same key always maps to the same server (until the ring changes),
// providing cache affinity for stateful services.
//
// Virtual nodes: each server is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 servers might cluster together on the ring,
// causing uneven load distribution.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type Ring struct {
	replicas int
	hashes   []uint32          // sorted
	nodes    map[uint32]string // hash -> server id
}

func NewRing(replicas int, ids ...string) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	r := &Ring{replicas: replicas, nodes: make(map[uint32]string)}
	for _, id := range ids {
		r.Add(id)
	}
	return r
}

// Add places a server onto the ring. Virtual node i is hashed from "{id}#{i}".
func (r *Ring) Add(id string) {
	for i := 0; i < r.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(id + "#" + strconv.Itoa(i)))
		r.hashes = append(r.hashes, hash)
		r.nodes[hash] = id
	}
	sort.Slice(r.hashes, func(i, j int) bool {
		return r.hashes[i] < r.hashes[j]
	})
}

// Get returns the server owning key: the first node clockwise from the key's
// hash, wrapping around to the first node.
func (r *Ring) Get(key string) (string, bool) {
	if len(r.hashes) == 0 {
		return "", false
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.hashes), func(i int) bool {
		return r.hashes[i] >= hash
	})
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.nodes[r.hashes[idx]], true
}

// ConsistentHashBalancer hashes one positional argument of the message onto a
// per-type Ring. When the argument is absent the whole message is hashed.
//
// A type's ring is built from the servers present on its first pick and is
// never rebuilt: servers added later are not placed, and ids that disappear
// keep receiving their share of keys.
type ConsistentHashBalancer struct {
	fieldIndex int
	replicas   int

	mu    sync.Mutex
	rings map[string]*Ring
}

func NewConsistentHashBalancer(opts Options) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		fieldIndex: opts.HashFieldIndex,
		replicas:   opts.Replicas,
		rings:      make(map[string]*Ring),
	}
}

func (b *ConsistentHashBalancer) Pick(src ServerSource, serverType string, msg *message.Message) (string, error) {
	ids := src.ServerIDs(serverType)
	if len(ids) == 0 {
		return "", noServers(serverType)
	}

	b.mu.Lock()
	ring, ok := b.rings[serverType]
	if !ok {
		ring = NewRing(b.replicas, ids...)
		b.rings[serverType] = ring
	}
	b.mu.Unlock()

	id, _ := ring.Get(hashKey(msg, b.fieldIndex))
	return id, nil
}

// hashKey returns the hashed field: a string argument is used unquoted, any
// other argument as its JSON text.
func hashKey(msg *message.Message, index int) string {
	raw, ok := msg.Arg(index)
	if ok && len(raw) > 0 && string(raw) != "null" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Sprint(msg)
	}
	return string(data)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

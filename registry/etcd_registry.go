package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultPrefix is the etcd key prefix for server entries.
//
//	Key:   /mailrpc/servers/{serverType}/{id}
//	Value: JSON-encoded ServerInfo
const DefaultPrefix = "/mailrpc/servers/"

// EtcdRegistry implements Registry on etcd v3.
//
// Registration uses TTL-based leases: if a server crashes, the lease expires
// and the entry is removed, so clients never keep routing to ghost servers.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
	log    *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints. An empty prefix means
// DefaultPrefix.
func NewEtcdRegistry(endpoints []string, prefix string, log *zap.Logger) (*EtcdRegistry, error) {
	if log == nil {
		log = zap.L().Named("registry")
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return NewEtcdRegistryFromClient(c, prefix, log), nil
}

// NewEtcdRegistryFromClient wraps an existing etcd client.
func NewEtcdRegistryFromClient(c *clientv3.Client, prefix string, log *zap.Logger) *EtcdRegistry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if log == nil {
		log = zap.L().Named("registry")
	}
	return &EtcdRegistry{client: c, prefix: prefix, log: log}
}

func (r *EtcdRegistry) key(info ServerInfo) string {
	return r.prefix + info.ServerType + "/" + info.ID
}

// Register stores info under a lease of ttl seconds and keeps the lease alive
// until ctx is done.
//
// leaseID stays a local variable so one EtcdRegistry can register many servers
// concurrently.
func (r *EtcdRegistry) Register(ctx context.Context, info ServerInfo, ttl int64) error {
	if info.ID == "" || info.ServerType == "" {
		return fmt.Errorf("register: server id and type are required")
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(info)
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, r.key(info), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put %s: %w", info.ID, err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive %s: %w", info.ID, err)
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("server_id", info.ID))
	}()
	r.log.Info("server registered", zap.String("server_id", info.ID), zap.String("key", r.key(info)))
	return nil
}

// Deregister removes a server entry. Servers call it during graceful shutdown
// before closing their listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, info ServerInfo) error {
	if _, err := r.client.Delete(ctx, r.key(info)); err != nil {
		return fmt.Errorf("delete %s: %w", info.ID, err)
	}
	return nil
}

// Discover returns every registered server of every type.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]ServerInfo, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	servers := make([]ServerInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info ServerInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			r.log.Warn("skip malformed server entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		servers = append(servers, info)
	}
	return servers, nil
}

// Watch emits the full server list whenever anything under the prefix
// changes. The channel closes when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []ServerInfo {
	ch := make(chan []ServerInfo, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.prefix, clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				r.log.Warn("watch error", zap.Error(err))
				continue
			}
			// Re-fetching is simpler than applying individual events.
			servers, err := r.Discover(ctx)
			if err != nil {
				r.log.Warn("discover after watch event", zap.Error(err))
				continue
			}
			select {
			case ch <- servers:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Package registry describes remote servers and feeds server membership into
// a client.
//
// The runtime itself never discovers servers: an external collaborator pushes
// ServerInfo lists in. EtcdRegistry plus Sync is one such collaborator.
package registry

import (
	"context"
	"net"
	"strconv"
)

// ServerInfo describes one remote server.
type ServerInfo struct {
	ID         string `json:"id" yaml:"id"`
	ServerType string `json:"serverType" yaml:"serverType"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Weight     int    `json:"weight,omitempty" yaml:"weight,omitempty"` // Weight for weighted round-robin; <= 0 is never picked
}

// Addr returns host:port.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Registry publishes and looks up servers.
type Registry interface {
	Register(ctx context.Context, info ServerInfo, ttl int64) error
	Deregister(ctx context.Context, info ServerInfo) error
	Discover(ctx context.Context) ([]ServerInfo, error)
	Watch(ctx context.Context) <-chan []ServerInfo
}

// Membership receives full membership snapshots.
type Membership interface {
	ReplaceServers(servers []ServerInfo)
}

// Package config loads the YAML configuration shared by clients and servers
// and turns it into the options of the client, server and transport packages.
//
// Example:
//
//	network: tcp
//	timeout: 25s
//	bufferMsg: true
//	interval: 50ms
//	routerType: rr
//	server:
//	  id: area-1
//	  serverType: area
//	  host: 127.0.0.1
//	  port: 3050
//	etcd:
//	  endpoints: [127.0.0.1:2379]
//	  ttl: 10
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mailrpc/client"
	"mailrpc/loadbalance"
	"mailrpc/registry"
	"mailrpc/server"
	"mailrpc/station"
	"mailrpc/transport"
)

type Config struct {
	Network string `yaml:"network"`

	// client side
	PendingSize       int              `yaml:"pendingSize"`
	Timeout           time.Duration    `yaml:"timeout"`
	ConnectTimeout    time.Duration    `yaml:"connectTimeout"`
	GraceTimeout      time.Duration    `yaml:"graceTimeout"`
	KeepAliveInterval time.Duration    `yaml:"keepAliveInterval"`
	KeepAliveTimeout  time.Duration    `yaml:"keepAliveTimeout"`
	RouterType        loadbalance.Type `yaml:"routerType"`
	HashFieldIndex    int              `yaml:"hashFieldIndex"`
	ClientID          string           `yaml:"clientId"`
	TraceEnabled      bool             `yaml:"traceEnabled"`
	// Servers is a static server list used when etcd is not configured.
	Servers []registry.ServerInfo `yaml:"servers"`

	// both sides
	BufferMsg      bool          `yaml:"bufferMsg"`
	Interval       time.Duration `yaml:"interval"`
	UseZipCompress bool          `yaml:"useZipCompress"`
	DoZipLength    int           `yaml:"doZipLength"`

	// server side
	Server    registry.ServerInfo `yaml:"server"`
	Port      int                 `yaml:"port"`
	Whitelist []string            `yaml:"whitelist"`

	Etcd Etcd `yaml:"etcd"`
}

type Etcd struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
	TTL       int64    `yaml:"ttl"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Network:           transport.NetworkTCP,
		PendingSize:       station.DefaultPendingSize,
		Timeout:           transport.DefaultTimeout,
		ConnectTimeout:    station.DefaultConnectTimeout,
		GraceTimeout:      station.DefaultGraceTimeout,
		KeepAliveInterval: transport.DefaultKeepAliveInterval,
		KeepAliveTimeout:  transport.DefaultKeepAliveTimeout,
		Interval:          transport.DefaultInterval,
		Etcd: Etcd{
			Prefix: registry.DefaultPrefix,
			TTL:    server.DefaultTTL,
		},
	}
}

// Load reads and validates a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	switch c.Network {
	case transport.NetworkTCP, transport.NetworkWS:
	default:
		err = multierr.Append(err, fmt.Errorf("network: %w: %q", transport.ErrUnknownNetwork, c.Network))
	}
	switch c.RouterType {
	case "", loadbalance.TypeRandom, loadbalance.TypeRoundRobin, loadbalance.TypeWeightedRoundRobin,
		loadbalance.TypeLeastActive, loadbalance.TypeConsistentHash:
	default:
		err = multierr.Append(err, fmt.Errorf("routerType: unknown %q", c.RouterType))
	}
	if c.PendingSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("pendingSize: must be positive, got %d", c.PendingSize))
	}
	if c.HashFieldIndex < 0 {
		err = multierr.Append(err, fmt.Errorf("hashFieldIndex: must not be negative, got %d", c.HashFieldIndex))
	}
	if c.Port < 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("port: out of range: %d", c.Port))
	}
	for _, s := range c.Servers {
		if s.ID == "" || s.ServerType == "" {
			err = multierr.Append(err, fmt.Errorf("servers: id and serverType are required: %+v", s))
		}
	}
	return err
}

func (c Config) MailboxOptions(log *zap.Logger) transport.MailboxOptions {
	return transport.MailboxOptions{
		Network:           c.Network,
		Timeout:           c.Timeout,
		BufferMsg:         c.BufferMsg,
		Interval:          c.Interval,
		UseZipCompress:    c.UseZipCompress,
		DoZipLength:       c.DoZipLength,
		KeepAliveInterval: c.KeepAliveInterval,
		KeepAliveTimeout:  c.KeepAliveTimeout,
		ClientID:          c.ClientID,
		TraceEnabled:      c.TraceEnabled,
		Logger:            log,
	}
}

func (c Config) AcceptorOptions(log *zap.Logger) transport.AcceptorOptions {
	return transport.AcceptorOptions{
		Network:        c.Network,
		BufferMsg:      c.BufferMsg,
		Interval:       c.Interval,
		UseZipCompress: c.UseZipCompress,
		DoZipLength:    c.DoZipLength,
		Whitelist:      c.Whitelist,
		Logger:         log,
	}
}

// ClientOptions configures a client. Static servers still have to be added
// with AddServers.
func (c Config) ClientOptions(log *zap.Logger) []client.Option {
	return []client.Option{
		client.WithRouterType(c.RouterType),
		client.WithHashFieldIndex(c.HashFieldIndex),
		client.WithMailboxOptions(c.MailboxOptions(log)),
		client.WithPendingSize(c.PendingSize),
		client.WithGraceTimeout(c.GraceTimeout),
		client.WithConnectTimeout(c.ConnectTimeout),
		client.WithLogger(log),
	}
}

// ListenAddr is the gateway address: the server entry's port when set, else
// Port, on all interfaces.
func (c Config) ListenAddr() string {
	port := c.Server.Port
	if port == 0 {
		port = c.Port
	}
	if port == 0 {
		return server.DefaultAddr
	}
	return ":" + strconv.Itoa(port)
}

// GatewayOptions configures a gateway. reg may be nil.
func (c Config) GatewayOptions(reg registry.Registry, log *zap.Logger) []server.Option {
	opts := []server.Option{
		server.WithAddr(c.ListenAddr()),
		server.WithAcceptorOptions(c.AcceptorOptions(log)),
		server.WithLogger(log),
	}
	if reg != nil {
		opts = append(opts, server.WithRegistry(reg, c.Server, c.Etcd.TTL))
	}
	return opts
}

// Registry connects to etcd, or returns nil when no endpoints are set.
func (c Config) Registry(log *zap.Logger) (*registry.EtcdRegistry, error) {
	if len(c.Etcd.Endpoints) == 0 {
		return nil, nil
	}
	return registry.NewEtcdRegistry(c.Etcd.Endpoints, c.Etcd.Prefix, log)
}

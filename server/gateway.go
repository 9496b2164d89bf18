// Package server hosts remote services: a Dispatcher resolves each incoming
// message to a handler, and a Gateway binds the dispatcher to an acceptor on
// a port.
//
// Request processing pipeline:
//
//	Acceptor (one goroutine per connection reads envelopes)
//	  → for each request: go Dispatcher.Serve
//	    → middleware chain → handler → respond → batched or direct write
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mailrpc/middleware"
	"mailrpc/registry"
	"mailrpc/transport"
)

const (
	DefaultAddr = ":3050"
	DefaultTTL  = 10 // seconds
)

var (
	ErrNoServices     = errors.New("gateway: services should not be empty")
	ErrGatewayStarted = errors.New("gateway already started")
)

type Options struct {
	Addr            string
	Acceptor        transport.AcceptorOptions
	AcceptorFactory transport.AcceptorFactory
	Middlewares     []middleware.Middleware

	// Registry, when set, gets Info registered on Start and deregistered on
	// Stop.
	Registry registry.Registry
	Info     registry.ServerInfo
	TTL      int64

	Logger *zap.Logger
}

type Option func(*Options)

func WithAddr(addr string) Option {
	return func(o *Options) { o.Addr = addr }
}

func WithAcceptorOptions(a transport.AcceptorOptions) Option {
	return func(o *Options) { o.Acceptor = a }
}

func WithAcceptorFactory(f transport.AcceptorFactory) Option {
	return func(o *Options) { o.AcceptorFactory = f }
}

// WithMiddleware appends to the handler chain; the first added is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Options) { o.Middlewares = append(o.Middlewares, mws...) }
}

func WithRegistry(reg registry.Registry, info registry.ServerInfo, ttl int64) Option {
	return func(o *Options) {
		o.Registry = reg
		o.Info = info
		o.TTL = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

type Gateway struct {
	opts       Options
	dispatcher *Dispatcher
	acceptor   transport.Acceptor
	log        *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	// cancels the registry lease keepalive
	cancel context.CancelFunc
}

// NewGateway builds the dispatcher and the acceptor. Nothing listens until
// Start.
func NewGateway(services Services, opts ...Option) (*Gateway, error) {
	if services == nil {
		return nil, ErrNoServices
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.AcceptorFactory == nil {
		o.AcceptorFactory = transport.DefaultAcceptorFactory
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	if o.Acceptor.Logger == nil {
		o.Acceptor.Logger = o.Logger
	}

	g := &Gateway{
		opts:       o,
		dispatcher: NewDispatcher(services, o.Logger.Named("dispatcher"), o.Middlewares...),
		log:        o.Logger.Named("gateway"),
	}
	acc, err := o.AcceptorFactory(o.Acceptor, g.dispatcher.Serve)
	if err != nil {
		return nil, err
	}
	g.acceptor = acc
	return g, nil
}

func (g *Gateway) Dispatcher() *Dispatcher { return g.dispatcher }

// Addr is the bound address once started, nil before.
func (g *Gateway) Addr() string {
	if a := g.acceptor.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Closed is closed once the acceptor has shut down.
func (g *Gateway) Closed() <-chan struct{} { return g.acceptor.Closed() }

// Start listens and, with a registry configured, registers the server.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return ErrGatewayStarted
	}
	g.started = true

	if err := g.acceptor.Listen(g.opts.Addr); err != nil {
		g.log.Error("gateway listen failed", zap.String("addr", g.opts.Addr), zap.Error(err))
		return err
	}
	g.log.Info("gateway started", zap.String("addr", g.Addr()))

	if g.opts.Registry != nil {
		// The lease lives as long as the gateway, not as long as ctx.
		regCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if err := g.opts.Registry.Register(regCtx, g.opts.Info, g.opts.TTL); err != nil {
			cancel()
			return multierr.Append(err, g.acceptor.Close())
		}
		g.cancel = cancel
	}
	return nil
}

// Stop deregisters the server first so clients stop routing to it, then
// closes the acceptor. Stopping a gateway that is not running does nothing.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started || g.stopped {
		g.log.Warn("gateway is not running")
		return nil
	}
	g.stopped = true

	var err error
	if g.opts.Registry != nil && g.cancel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = multierr.Append(err, g.opts.Registry.Deregister(ctx, g.opts.Info))
		cancel()
		g.cancel()
	}
	err = multierr.Append(err, g.acceptor.Close())
	g.log.Info("gateway stopped", zap.Error(err))
	return err
}

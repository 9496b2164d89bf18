// Package client is the public face of the runtime: it resolves a target
// server for each call, dispatches it through the station and hands the reply
// back, either to a callback or to a blocking caller.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailrpc/loadbalance"
	"mailrpc/message"
	"mailrpc/middleware"
	"mailrpc/registry"
	"mailrpc/station"
	"mailrpc/transport"
)

// Broadcast as a server id sends a call to every server of the message's type.
const Broadcast = "*"

var (
	ErrAlreadyStarted = errors.New("rpc client has started")
	ErrNotRunning     = errors.New("rpc client is not running")
)

type state int

const (
	stateInited state = iota + 1
	stateStarted
	stateClosed
)

// FilterErrorHandler receives filter failures in place of the hook.
type FilterErrorHandler func(err *station.Error, msg *message.Message)

type Client struct {
	opts     Options
	station  *station.Station
	router   loadbalance.Router
	routeCtx loadbalance.RouteContext
	log      *zap.Logger

	mu         sync.Mutex
	state      state
	errHandler FilterErrorHandler
}

// New validates opts and builds a client. It does not connect anywhere;
// mailboxes are created on first use of each server.
func New(opts ...Option) (*Client, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.HashFieldIndex < 0 {
		return nil, fmt.Errorf("client: negative hash field index %d", o.HashFieldIndex)
	}
	switch o.Mailbox.Network {
	case "", transport.NetworkTCP, transport.NetworkWS:
	default:
		return nil, fmt.Errorf("client: %w: %q", transport.ErrUnknownNetwork, o.Mailbox.Network)
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	if o.Hook == nil {
		o.Hook = station.LogHook{Log: o.Logger.Named("station")}
	}

	c := &Client{
		opts:  o,
		log:   o.Logger.Named("client"),
		state: stateInited,
	}
	c.station = station.New(
		station.WithFactory(o.Factory),
		station.WithMailboxOptions(o.Mailbox),
		station.WithPendingSize(o.PendingSize),
		station.WithGraceTimeout(o.GraceTimeout),
		station.WithConnectTimeout(o.ConnectTimeout),
		station.WithHook(&clientHook{c: c, next: o.Hook}),
		station.WithLogger(o.Logger),
	)

	c.routeCtx = o.RouteContext
	if c.routeCtx == nil {
		c.routeCtx = c.station
	}
	switch {
	case o.RouterType != "":
		b := loadbalance.New(o.RouterType, loadbalance.Options{HashFieldIndex: o.HashFieldIndex})
		c.router = loadbalance.BalancerRouter(b, c.station)
		c.log.Debug("routing with built-in strategy", zap.String("strategy", b.Name()))
	case o.Router != nil:
		c.router = o.Router
	default:
		c.router = loadbalance.DefaultRoute
	}
	return c, nil
}

func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateInited {
		return ErrAlreadyStarted
	}
	if err := c.station.Start(); err != nil {
		c.log.Error("client start failed", zap.Error(err))
		return err
	}
	c.state = stateStarted
	return nil
}

// Stop refuses new calls and closes every mailbox, at once with force or
// after the grace timeout otherwise.
func (c *Client) Stop(force bool) error {
	c.mu.Lock()
	if c.state != stateStarted {
		c.mu.Unlock()
		c.log.Warn("rpc client is not running")
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()
	return c.station.Stop(force)
}

func (c *Client) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateStarted
}

func (c *Client) AddServer(info registry.ServerInfo) { c.station.AddServer(info) }
func (c *Client) AddServers(infos []registry.ServerInfo) { c.station.AddServers(infos) }
func (c *Client) RemoveServer(id string) { c.station.RemoveServer(id) }
func (c *Client) RemoveServers(ids []string) { c.station.RemoveServers(ids) }
func (c *Client) ReplaceServers(infos []registry.ServerInfo) { c.station.ReplaceServers(infos) }
func (c *Client) Before(filters ...middleware.BeforeFilter) { c.station.Before(filters...) }
func (c *Client) After(filters ...middleware.AfterFilter) { c.station.After(filters...) }
func (c *Client) Filter(filters ...middleware.Filter) { c.station.Filter(filters...) }
func (c *Client) ServerIDs(serverType string) []string { return c.station.ServerIDs(serverType) }

// SetErrorHandler routes filter errors to h instead of the hook.
func (c *Client) SetErrorHandler(h FilterErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errHandler = h
}

// Sync keeps the server list in step with reg until ctx is done.
func (c *Client) Sync(ctx context.Context, reg registry.Registry) error {
	return registry.Sync(ctx, reg, c, c.log)
}

// RPCInvoke sends msg to serverID. A deadline on ctx becomes the call timeout.
func (c *Client) RPCInvoke(ctx context.Context, serverID string, msg *message.Message, cb transport.Callback) {
	if !c.running() {
		c.log.Error("rpc invoke on a client that is not running", zap.String("server_id", serverID))
		cb(ErrNotRunning, nil)
		return
	}
	var opts transport.CallOptions
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
		if opts.Timeout <= 0 {
			cb(context.DeadlineExceeded, nil)
			return
		}
	}
	c.station.Dispatch(ctx, serverID, msg, opts, cb)
}

// Invoke routes msg with the configured strategy or router and sends it.
// Routing errors go to cb.
func (c *Client) Invoke(ctx context.Context, routeParam any, msg *message.Message, cb transport.Callback) {
	serverID, err := c.Route(ctx, routeParam, msg)
	if err != nil {
		cb(err, nil)
		return
	}
	c.RPCInvoke(ctx, serverID, msg, cb)
}

// Route returns the server that Invoke would send msg to.
func (c *Client) Route(ctx context.Context, routeParam any, msg *message.Message) (string, error) {
	return c.router.Route(ctx, routeParam, msg, c.routeCtx)
}

// ToServer sends msg to serverID without routing. With Broadcast it sends
// one call per server of msg.ServerType, and cb runs once per server.
func (c *Client) ToServer(ctx context.Context, serverID string, msg *message.Message, cb transport.Callback) {
	if serverID != Broadcast {
		c.RPCInvoke(ctx, serverID, msg, cb)
		return
	}
	ids := c.station.ServerIDs(msg.ServerType)
	if len(ids) == 0 {
		c.log.Warn("broadcast to a type without servers", zap.String("server_type", msg.ServerType))
	}
	for _, id := range ids {
		c.RPCInvoke(ctx, id, msg, cb)
	}
}

// Call is the blocking form of Invoke. A reply carrying a remote error is
// returned together with that error.
func (c *Client) Call(ctx context.Context, routeParam any, msg *message.Message) (message.Reply, error) {
	return wait(ctx, func(cb transport.Callback) { c.Invoke(ctx, routeParam, msg, cb) })
}

// CallServer is the blocking form of RPCInvoke.
func (c *Client) CallServer(ctx context.Context, serverID string, msg *message.Message) (message.Reply, error) {
	return wait(ctx, func(cb transport.Callback) { c.RPCInvoke(ctx, serverID, msg, cb) })
}

// CallWithRetry retries Call on connect, timeout and disconnect failures with
// exponential backoff. Remote errors and routing errors are not retried.
func (c *Client) CallWithRetry(ctx context.Context, routeParam any, msg *message.Message, maxRetries int, baseDelay time.Duration) (message.Reply, error) {
	var reply message.Reply
	err := middleware.Retry(ctx, maxRetries, baseDelay, Retryable, func() error {
		var err error
		reply, err = c.Call(ctx, routeParam, msg)
		return err
	})
	return reply, err
}

// Retryable reports whether a failed call may succeed when sent again.
func Retryable(err error) bool {
	return errors.Is(err, station.ErrFailConnect) ||
		errors.Is(err, transport.ErrTimeout) ||
		errors.Is(err, transport.ErrDisconnected)
}

func wait(ctx context.Context, send func(cb transport.Callback)) (message.Reply, error) {
	type outcome struct {
		reply message.Reply
		err   error
	}
	done := make(chan outcome, 1)
	send(func(err error, reply message.Reply) {
		done <- outcome{reply, err}
	})
	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return o.reply, o.reply.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// clientHook hands filter errors to the client's error handler when one is
// set.
type clientHook struct {
	c    *Client
	next station.Hook
}

func (h *clientHook) OnError(err *station.Error, msg *message.Message) {
	if err.Code == station.CodeFilterError {
		h.c.mu.Lock()
		handler := h.c.errHandler
		h.c.mu.Unlock()
		if handler != nil {
			handler(err, msg)
			return
		}
	}
	h.next.OnError(err, msg)
}

func (h *clientHook) OnClose(id string)        { h.next.OnClose(id) }
func (h *clientHook) OnAddServer(id string)    { h.next.OnAddServer(id) }
func (h *clientHook) OnRemoveServer(id string) { h.next.OnRemoveServer(id) }

package client

import (
	"time"

	"go.uber.org/zap"

	"mailrpc/loadbalance"
	"mailrpc/station"
	"mailrpc/transport"
)

type Options struct {
	// RouterType picks a built-in strategy. When empty, Router decides.
	RouterType     loadbalance.Type
	HashFieldIndex int
	// Router is used when RouterType is empty; defaults to
	// loadbalance.DefaultRoute.
	Router loadbalance.Router
	// RouteContext is what Router sees; defaults to the client's registry.
	RouteContext loadbalance.RouteContext

	Mailbox        transport.MailboxOptions
	Factory        transport.Factory
	PendingSize    int
	GraceTimeout   time.Duration
	ConnectTimeout time.Duration

	Hook   station.Hook
	Logger *zap.Logger
}

type Option func(*Options)

func WithRouterType(t loadbalance.Type) Option {
	return func(o *Options) { o.RouterType = t }
}

func WithHashFieldIndex(i int) Option {
	return func(o *Options) { o.HashFieldIndex = i }
}

func WithRouter(r loadbalance.Router) Option {
	return func(o *Options) { o.Router = r }
}

func WithRouteContext(rc loadbalance.RouteContext) Option {
	return func(o *Options) { o.RouteContext = rc }
}

func WithMailboxOptions(m transport.MailboxOptions) Option {
	return func(o *Options) { o.Mailbox = m }
}

// WithClientID sets the trace source reported by this client.
func WithClientID(id string) Option {
	return func(o *Options) { o.Mailbox.ClientID = id }
}

func WithFactory(f transport.Factory) Option {
	return func(o *Options) { o.Factory = f }
}

func WithPendingSize(n int) Option {
	return func(o *Options) { o.PendingSize = n }
}

func WithGraceTimeout(d time.Duration) Option {
	return func(o *Options) { o.GraceTimeout = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

func WithHook(h station.Hook) Option {
	return func(o *Options) { o.Hook = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

package station

import (
	"time"

	"go.uber.org/zap"

	"mailrpc/transport"
)

const (
	DefaultPendingSize    = 1000
	DefaultGraceTimeout   = 3 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

type Options struct {
	Factory transport.Factory
	Mailbox transport.MailboxOptions

	// PendingSize bounds each server's queue of calls waiting for its
	// connection. Calls beyond it are dropped.
	PendingSize    int
	GraceTimeout   time.Duration
	ConnectTimeout time.Duration

	Hook   Hook
	Logger *zap.Logger
}

type Option func(*Options)

func WithFactory(f transport.Factory) Option {
	return func(o *Options) { o.Factory = f }
}

func WithMailboxOptions(m transport.MailboxOptions) Option {
	return func(o *Options) { o.Mailbox = m }
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

func WithHook(h Hook) Option {
	return func(o *Options) { o.Hook = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Factory == nil {
		o.Factory = transport.DefaultFactory
	}
	if o.PendingSize <= 0 {
		o.PendingSize = DefaultPendingSize
	}
	if o.GraceTimeout <= 0 {
		o.GraceTimeout = DefaultGraceTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	if o.Mailbox.Logger == nil {
		o.Mailbox.Logger = o.Logger
	}
	if o.Hook == nil {
		o.Hook = LogHook{Log: o.Logger.Named("station")}
	}
	return o
}

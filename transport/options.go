package transport

import (
	"time"

	"go.uber.org/zap"

	"mailrpc/codec"
)

// Mailbox defaults.
const (
	DefaultTimeout           = 25 * time.Second
	DefaultInterval          = 50 * time.Millisecond
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultKeepAliveTimeout  = 10 * time.Second
)

// CallOptions are per-call settings. Zero values fall back to the mailbox
// options.
type CallOptions struct {
	Timeout time.Duration
}

// MailboxOptions configure one mailbox. Every mailbox owns a copy, so two
// mailboxes never share compression or batching settings.
type MailboxOptions struct {
	Network string // "tcp" (default) or "ws"

	// Timeout bounds the wait for a response when the call does not set one.
	Timeout time.Duration

	// BufferMsg queues requests and writes them as one batch every Interval.
	BufferMsg bool
	Interval  time.Duration

	// UseZipCompress gzips payloads larger than DoZipLength bytes.
	UseZipCompress bool
	DoZipLength    int

	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	// ClientID is reported as the trace source when TraceEnabled is set.
	ClientID     string
	TraceEnabled bool

	Logger *zap.Logger
}

func (o MailboxOptions) withDefaults() MailboxOptions {
	if o.Network == "" {
		o.Network = NetworkTCP
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.DoZipLength <= 0 {
		o.DoZipLength = codec.DefaultClientZipLength
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.KeepAliveTimeout <= 0 {
		o.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

// AcceptorOptions configure an acceptor.
type AcceptorOptions struct {
	Network string // "tcp" (default) or "ws"

	// BufferMsg queues responses per connection and writes them as one batch
	// every Interval.
	BufferMsg bool
	Interval  time.Duration

	UseZipCompress bool
	DoZipLength    int

	// Whitelist holds regular expressions; when non-empty, connections whose
	// remote IP matches none of them are closed right after accept.
	Whitelist []string

	Logger *zap.Logger
}

func (o AcceptorOptions) withDefaults() AcceptorOptions {
	if o.Network == "" {
		o.Network = NetworkTCP
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.DoZipLength <= 0 {
		o.DoZipLength = codec.DefaultServerZipLength
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

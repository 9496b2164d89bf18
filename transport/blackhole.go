package transport

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mailrpc/message"
	"mailrpc/registry"
)

var ErrBlackhole = errors.New("message was forwarded to blackhole")

// Blackhole is a mailbox that never connects and drops everything sent to
// it. It stands in for servers that must not be reached.
type Blackhole struct {
	id  string
	log *zap.Logger
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// BlackholeFactory creates Blackhole mailboxes.
var BlackholeFactory Factory = FactoryFunc(func(server registry.ServerInfo, opts MailboxOptions) Mailbox {
	return NewBlackhole(server, opts)
})

func NewBlackhole(server registry.ServerInfo, opts MailboxOptions) *Blackhole {
	opts = opts.withDefaults()
	return &Blackhole{id: server.ID, log: opts.Logger.Named("blackhole")}
}

func (b *Blackhole) ServerID() string { return b.id }

func (b *Blackhole) Connect(context.Context) error {
	return errors.New("fail to connect to remote server and switch to blackhole")
}

func (b *Blackhole) Send(_ context.Context, msg *message.Message, _ CallOptions, cb Callback) {
	b.log.Debug("message into blackhole", zap.String("server_id", b.id), zap.Stringer("route", msg))
	go cb(ErrBlackhole, nil)
}

func (b *Blackhole) Close() error { return nil }

func (b *Blackhole) Done() <-chan struct{} { return closedDone }

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"mailrpc/message"
	"mailrpc/registry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type result struct {
	err   error
	reply message.Reply
}

// arith answers "add" with the sum of two ints and "fail" with an error.
func arith(_ context.Context, msg *message.Message, respond Respond) {
	switch msg.Method {
	case "add":
		var a, b int
		if err := message.Bind(msg.Args, &a, &b); err != nil {
			respond(err)
			return
		}
		respond(nil, a+b)
	case "fail":
		respond(&notFound{})
	default:
		respond(nil, msg.Args)
	}
}

type notFound struct{}

func (*notFound) Error() string { return "not found" }

func startAcceptor(t *testing.T, opts AcceptorOptions, h Handler) (*SocketAcceptor, registry.ServerInfo) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a, err := NewAcceptor(opts, h)
	require.NoError(t, err)
	require.NoError(t, a.Listen("127.0.0.1:0"))
	t.Cleanup(func() { a.Close() })

	port := a.Addr().(*net.TCPAddr).Port
	return a, registry.ServerInfo{ID: "area-1", ServerType: "area", Host: "127.0.0.1", Port: port}
}

func connectMailbox(t *testing.T, server registry.ServerInfo, opts MailboxOptions) *SocketMailbox {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m := NewMailbox(server, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { m.Close() })
	return m
}

func newMsg(t *testing.T, method string, args ...any) *message.Message {
	t.Helper()
	msg, err := message.New("user", "area", "arith", method, args...)
	require.NoError(t, err)
	return msg
}

// call sends msg and waits for its callback.
func call(t *testing.T, m Mailbox, ctx context.Context, msg *message.Message, opts CallOptions) result {
	t.Helper()
	ch := make(chan result, 1)
	m.Send(ctx, msg, opts, func(err error, reply message.Reply) {
		ch <- result{err, reply}
	})
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
		return result{}
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s not closed", what)
	}
}

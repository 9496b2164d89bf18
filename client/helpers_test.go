package client

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailrpc/message"
	"mailrpc/registry"
	"mailrpc/server"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type divByZero struct{}

func (divByZero) Error() string { return "divide by zero" }

// startServer runs a gateway for the area type whose handlers answer with the
// server id, so tests can tell which server took a call. hits counts every
// handled call.
func startServer(t testing.TB, id string, hits *atomic.Int64) registry.ServerInfo {
	t.Helper()
	count := func() {
		if hits != nil {
			hits.Add(1)
		}
	}
	services := server.Services{
		"user": server.Namespace{
			"arith": server.Service{
				"add": server.Func(func(_ context.Context, args AddArgs) (int, error) {
					count()
					return args.A + args.B, nil
				}),
				"div": server.Func(func(_ context.Context, args AddArgs) (int, error) {
					count()
					if args.B == 0 {
						return 0, divByZero{}
					}
					return args.A / args.B, nil
				}),
				"whoami": func(context.Context, *message.Message) ([]any, error) {
					count()
					return []any{id}, nil
				},
				"sleep": func(ctx context.Context, _ *message.Message) ([]any, error) {
					select {
					case <-time.After(2 * time.Second):
						return nil, nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				},
			},
		},
	}
	g, err := server.NewGateway(services, server.WithAddr("127.0.0.1:0"), server.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { g.Stop() })

	host, port, err := net.SplitHostPort(g.Addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return registry.ServerInfo{ID: id, ServerType: "area", Host: host, Port: p, Weight: 1}
}

func newClient(t testing.TB, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { c.Stop(true) })
	return c
}

func newMsg(t testing.TB, method string, args ...any) *message.Message {
	t.Helper()
	msg, err := message.New("user", "area", "arith", method, args...)
	require.NoError(t, err)
	return msg
}

func whoami(t testing.TB, c *Client, routeParam any) string {
	t.Helper()
	reply, err := c.Call(context.Background(), routeParam, newMsg(t, "whoami"))
	require.NoError(t, err)
	var id string
	require.NoError(t, reply.Decode(&id))
	return id
}

type session string

func (s session) UID() string { return string(s) }

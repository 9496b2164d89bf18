package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailrpc/message"
	"mailrpc/registry"
	"mailrpc/transport"
)

type fakeRegistry struct {
	mu           sync.Mutex
	registered   []registry.ServerInfo
	deregistered []registry.ServerInfo
	registerErr  error
}

func (r *fakeRegistry) Register(_ context.Context, info registry.ServerInfo, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered = append(r.registered, info)
	return nil
}

func (r *fakeRegistry) Deregister(_ context.Context, info registry.ServerInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, info)
	return nil
}

func (r *fakeRegistry) Discover(context.Context) ([]registry.ServerInfo, error) { return nil, nil }

func (r *fakeRegistry) Watch(context.Context) <-chan []registry.ServerInfo { return nil }

func startGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{
		WithAddr("127.0.0.1:0"),
		WithLogger(zap.NewNop()),
	}, opts...)
	g, err := NewGateway(arithServices(), opts...)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { g.Stop() })
	return g
}

func serverInfo(t *testing.T, g *Gateway) registry.ServerInfo {
	t.Helper()
	host, port, err := net.SplitHostPort(g.Addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return registry.ServerInfo{ID: "area-1", ServerType: "area", Host: host, Port: p}
}

func TestGatewayRoundTrip(t *testing.T) {
	for _, network := range []string{transport.NetworkTCP, transport.NetworkWS} {
		t.Run(network, func(t *testing.T) {
			g := startGateway(t, WithAcceptorOptions(transport.AcceptorOptions{Network: network}))

			m := transport.NewMailbox(serverInfo(t, g), transport.MailboxOptions{Network: network, Logger: zap.NewNop()})
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, m.Connect(ctx))
			defer m.Close()

			done := make(chan message.Reply, 1)
			m.Send(ctx, newMsg(t, "user", "arith", "add", AddArgs{A: 40, B: 2}), transport.CallOptions{}, func(err error, reply message.Reply) {
				assert.NoError(t, err)
				done <- reply
			})

			select {
			case reply := <-done:
				var sum int
				require.NoError(t, reply.Decode(&sum))
				assert.Equal(t, 42, sum)
			case <-ctx.Done():
				t.Fatal("no reply")
			}
		})
	}
}

func TestGatewayLifecycle(t *testing.T) {
	_, err := NewGateway(nil)
	assert.ErrorIs(t, err, ErrNoServices)

	_, err = NewGateway(arithServices(), WithAcceptorOptions(transport.AcceptorOptions{Whitelist: []string{"("}}))
	assert.Error(t, err)

	g, err := NewGateway(arithServices(), WithAddr("127.0.0.1:0"), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.NoError(t, g.Stop(), "stop before start is a no-op")
	assert.Empty(t, g.Addr())

	require.NoError(t, g.Start(context.Background()))
	assert.ErrorIs(t, g.Start(context.Background()), ErrGatewayStarted)

	require.NoError(t, g.Stop())
	assert.NoError(t, g.Stop())
	select {
	case <-g.Closed():
	case <-time.After(time.Second):
		t.Fatal("acceptor not closed")
	}
}

func TestGatewayRegistersWithRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	info := registry.ServerInfo{ID: "area-1", ServerType: "area", Host: "127.0.0.1", Port: 3050}
	g, err := NewGateway(arithServices(), WithAddr("127.0.0.1:0"), WithLogger(zap.NewNop()), WithRegistry(reg, info, 5))
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background()))
	assert.Equal(t, []registry.ServerInfo{info}, reg.registered)
	assert.Empty(t, reg.deregistered)

	require.NoError(t, g.Stop())
	assert.Equal(t, []registry.ServerInfo{info}, reg.deregistered)
}

func TestGatewayRegisterFailureClosesAcceptor(t *testing.T) {
	boom := errors.New("etcd down")
	reg := &fakeRegistry{registerErr: boom}
	g, err := NewGateway(arithServices(), WithAddr("127.0.0.1:0"), WithLogger(zap.NewNop()),
		WithRegistry(reg, registry.ServerInfo{ID: "a", ServerType: "area"}, 5))
	require.NoError(t, err)

	assert.ErrorIs(t, g.Start(context.Background()), boom)
	select {
	case <-g.Closed():
	case <-time.After(time.Second):
		t.Fatal("acceptor left open")
	}
}

func TestGatewayAcceptorFactory(t *testing.T) {
	boom := errors.New("no acceptor")
	_, err := NewGateway(arithServices(), WithAcceptorFactory(func(transport.AcceptorOptions, transport.Handler) (transport.Acceptor, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
}
